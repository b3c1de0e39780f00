package database

import (
	"context"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table names
const (
	PaymentsTable               = "payments"
	ReferralEdgesTable          = "referral_edges"
	ReferralCodesTable          = "referral_codes"
	BonusWalletsTable           = "bonus_wallets"
	CommissionTransactionsTable = "commission_transactions"
	CommissionRetriesTable      = "commission_retries"
	TokenWalletsTable           = "token_wallets"
	TokenTransactionsTable      = "token_transactions"
	BillingEventsTable          = "billing_events"
	WithdrawalsTable            = "withdrawals"
	AppSettingsTable            = "app_settings"
)

var (
	// PaymentsColumns holds the columns for the "payments" table.
	PaymentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "user_id", Type: field.TypeString, Size: 64},
		{Name: "amount_cents", Type: field.TypeInt64},
		{Name: "currency", Type: field.TypeString, Size: 3, Default: "usd"},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "provider", Type: field.TypeString, Size: 32},
		{Name: "provider_ref", Type: field.TypeString, Size: 255, Nullable: true},
		{Name: "package_id", Type: field.TypeString, Size: 64, Default: ""},
		{Name: "tokens", Type: field.TypeInt64, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
	}
	// PaymentsSchema holds the schema information for the "payments" table.
	PaymentsSchema = &schema.Table{
		Name:       PaymentsTable,
		Columns:    PaymentsColumns,
		PrimaryKey: []*schema.Column{PaymentsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "payments_provider_ref", Unique: true, Columns: []*schema.Column{PaymentsColumns[6]}},
			{Name: "payments_user_id", Columns: []*schema.Column{PaymentsColumns[1]}},
			{Name: "payments_status_completed_at", Columns: []*schema.Column{PaymentsColumns[4], PaymentsColumns[11]}},
		},
	}

	// ReferralEdgesColumns holds the columns for the "referral_edges" table.
	// The primary key on referred_user_id keeps at most one parent per user.
	ReferralEdgesColumns = []*schema.Column{
		{Name: "referred_user_id", Type: field.TypeString, Size: 64},
		{Name: "referrer_id", Type: field.TypeString, Size: 64},
		{Name: "created_at", Type: field.TypeTime},
	}
	// ReferralEdgesSchema holds the schema information for the "referral_edges" table.
	ReferralEdgesSchema = &schema.Table{
		Name:       ReferralEdgesTable,
		Columns:    ReferralEdgesColumns,
		PrimaryKey: []*schema.Column{ReferralEdgesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "referral_edges_referrer_id", Columns: []*schema.Column{ReferralEdgesColumns[1]}},
		},
	}

	// ReferralCodesColumns holds the columns for the "referral_codes" table.
	ReferralCodesColumns = []*schema.Column{
		{Name: "code", Type: field.TypeString, Size: 32},
		{Name: "user_id", Type: field.TypeString, Size: 64},
		{Name: "created_at", Type: field.TypeTime},
	}
	// ReferralCodesSchema holds the schema information for the "referral_codes" table.
	ReferralCodesSchema = &schema.Table{
		Name:       ReferralCodesTable,
		Columns:    ReferralCodesColumns,
		PrimaryKey: []*schema.Column{ReferralCodesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "referral_codes_user_id", Unique: true, Columns: []*schema.Column{ReferralCodesColumns[1]}},
		},
	}

	// BonusWalletsColumns holds the columns for the "bonus_wallets" table.
	BonusWalletsColumns = []*schema.Column{
		{Name: "user_id", Type: field.TypeString, Size: 64},
		{Name: "balance_cents", Type: field.TypeInt64, Default: 0},
		{Name: "lifetime_earnings_cents", Type: field.TypeInt64, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// BonusWalletsSchema holds the schema information for the "bonus_wallets" table.
	BonusWalletsSchema = &schema.Table{
		Name:       BonusWalletsTable,
		Columns:    BonusWalletsColumns,
		PrimaryKey: []*schema.Column{BonusWalletsColumns[0]},
	}

	// CommissionTransactionsColumns holds the columns for the "commission_transactions" table.
	CommissionTransactionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "payment_id", Type: field.TypeString, Size: 36},
		{Name: "beneficiary_user_id", Type: field.TypeString, Size: 64},
		{Name: "payer_user_id", Type: field.TypeString, Size: 64},
		{Name: "level", Type: field.TypeInt},
		{Name: "rate", Type: field.TypeFloat64},
		{Name: "amount_cents", Type: field.TypeInt64},
		{Name: "created_at", Type: field.TypeTime},
	}
	// CommissionTransactionsSchema holds the schema information for the "commission_transactions" table.
	CommissionTransactionsSchema = &schema.Table{
		Name:       CommissionTransactionsTable,
		Columns:    CommissionTransactionsColumns,
		PrimaryKey: []*schema.Column{CommissionTransactionsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "commission_transactions_payment_beneficiary",
				Unique:  true,
				Columns: []*schema.Column{CommissionTransactionsColumns[1], CommissionTransactionsColumns[2]},
			},
			{Name: "commission_transactions_beneficiary_created_at", Columns: []*schema.Column{CommissionTransactionsColumns[2], CommissionTransactionsColumns[7]}},
		},
	}

	// CommissionRetriesColumns holds the columns for the "commission_retries" table.
	CommissionRetriesColumns = []*schema.Column{
		{Name: "payment_id", Type: field.TypeString, Size: 36},
		{Name: "attempts", Type: field.TypeInt, Default: 0},
		{Name: "last_error", Type: field.TypeString, Size: 1024, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// CommissionRetriesSchema holds the schema information for the "commission_retries" table.
	CommissionRetriesSchema = &schema.Table{
		Name:       CommissionRetriesTable,
		Columns:    CommissionRetriesColumns,
		PrimaryKey: []*schema.Column{CommissionRetriesColumns[0]},
	}

	// TokenWalletsColumns holds the columns for the "token_wallets" table.
	TokenWalletsColumns = []*schema.Column{
		{Name: "user_id", Type: field.TypeString, Size: 64},
		{Name: "balance", Type: field.TypeInt64, Default: 0},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// TokenWalletsSchema holds the schema information for the "token_wallets" table.
	TokenWalletsSchema = &schema.Table{
		Name:       TokenWalletsTable,
		Columns:    TokenWalletsColumns,
		PrimaryKey: []*schema.Column{TokenWalletsColumns[0]},
	}

	// TokenTransactionsColumns holds the columns for the "token_transactions" table.
	TokenTransactionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "user_id", Type: field.TypeString, Size: 64},
		{Name: "amount", Type: field.TypeInt64},
		{Name: "reason", Type: field.TypeString, Size: 32},
		{Name: "reference", Type: field.TypeString, Size: 255},
		{Name: "created_at", Type: field.TypeTime},
	}
	// TokenTransactionsSchema holds the schema information for the "token_transactions" table.
	TokenTransactionsSchema = &schema.Table{
		Name:       TokenTransactionsTable,
		Columns:    TokenTransactionsColumns,
		PrimaryKey: []*schema.Column{TokenTransactionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "token_transactions_reference_reason", Unique: true, Columns: []*schema.Column{TokenTransactionsColumns[4], TokenTransactionsColumns[3]}},
			{Name: "token_transactions_user_id", Columns: []*schema.Column{TokenTransactionsColumns[1]}},
		},
	}

	// BillingEventsColumns holds the columns for the "billing_events" table.
	BillingEventsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "provider", Type: field.TypeString, Size: 20},
		{Name: "event_id", Type: field.TypeString, Size: 255},
		{Name: "event_type", Type: field.TypeString, Size: 100},
		{Name: "created_at", Type: field.TypeTime},
	}
	// BillingEventsSchema holds the schema information for the "billing_events" table.
	BillingEventsSchema = &schema.Table{
		Name:       BillingEventsTable,
		Columns:    BillingEventsColumns,
		PrimaryKey: []*schema.Column{BillingEventsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "billing_events_provider_event", Unique: true, Columns: []*schema.Column{BillingEventsColumns[1], BillingEventsColumns[2]}},
		},
	}

	// WithdrawalsColumns holds the columns for the "withdrawals" table.
	WithdrawalsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "user_id", Type: field.TypeString, Size: 64},
		{Name: "amount_cents", Type: field.TypeInt64},
		{Name: "method", Type: field.TypeString, Size: 32},
		{Name: "destination", Type: field.TypeString, Size: 255},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "admin_note", Type: field.TypeString, Size: 1024, Default: ""},
		{Name: "processed_by", Type: field.TypeString, Size: 64, Nullable: true},
		{Name: "processed_at", Type: field.TypeTime, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "contact_email", Type: field.TypeString, Size: 255, Default: ""},
	}
	// WithdrawalsSchema holds the schema information for the "withdrawals" table.
	WithdrawalsSchema = &schema.Table{
		Name:       WithdrawalsTable,
		Columns:    WithdrawalsColumns,
		PrimaryKey: []*schema.Column{WithdrawalsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "withdrawals_user_id", Columns: []*schema.Column{WithdrawalsColumns[1]}},
			{Name: "withdrawals_status_created_at", Columns: []*schema.Column{WithdrawalsColumns[5], WithdrawalsColumns[9]}},
		},
	}

	// AppSettingsColumns holds the columns for the "app_settings" table.
	AppSettingsColumns = []*schema.Column{
		{Name: "key", Type: field.TypeString, Size: 64},
		{Name: "value", Type: field.TypeString, Size: 1024},
		{Name: "updated_by", Type: field.TypeString, Size: 64, Default: ""},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// AppSettingsSchema holds the schema information for the "app_settings" table.
	AppSettingsSchema = &schema.Table{
		Name:       AppSettingsTable,
		Columns:    AppSettingsColumns,
		PrimaryKey: []*schema.Column{AppSettingsColumns[0]},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		PaymentsSchema,
		ReferralEdgesSchema,
		ReferralCodesSchema,
		BonusWalletsSchema,
		CommissionTransactionsSchema,
		CommissionRetriesSchema,
		TokenWalletsSchema,
		TokenTransactionsSchema,
		BillingEventsSchema,
		WithdrawalsSchema,
		AppSettingsSchema,
	}
)

// CreateSchema runs the auto migration for all tables on the given driver.
func CreateSchema(ctx context.Context, drv dialect.Driver) error {
	migrate, err := schema.NewMigrate(drv)
	if err != nil {
		return err
	}
	return migrate.Create(ctx, Tables...)
}
