// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"entgo.io/ent/dialect"
	"github.com/google/uuid"
	"github.com/jordanlanch/companion-api/pkg/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// Open returns a database client backed by a fresh in-memory SQLite database.
// The client is closed when the test finishes.
func Open(t testing.TB) *database.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	// Shared-cache memory databases lock per table; one connection keeps writers serialised.
	db.SetMaxOpenConns(1)

	client := database.NewClientFromDB(dialect.SQLite, db)
	require.NoError(t, client.Migrate(context.Background()))

	t.Cleanup(func() { client.Close() })
	return client
}
