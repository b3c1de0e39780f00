package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the value type of a setting
type Type string

// Setting value types
const (
	TypeBool   Type = "bool"
	TypeInt    Type = "int"
	TypeString Type = "string"
)

// Setting keys
const (
	KeyMonetizationEnabled    = "monetization_enabled"
	KeyReferralsEnabled       = "referrals_enabled"
	KeyMinWithdrawalCents     = "min_withdrawal_cents"
	KeyMaxWithdrawalCents     = "max_withdrawal_cents"
	KeyReconcileLookbackHours = "reconcile_lookback_hours"
	KeyMaintenanceMessage     = "maintenance_message"
)

// Definition describes one setting: its type, default and bounds
type Definition struct {
	Key         string
	Type        Type
	Default     any
	Description string
	Min         int64 // int settings only
	Max         int64 // int settings only, 0 means unbounded
}

// Schema enumerates every known setting
var Schema = map[string]Definition{
	KeyMonetizationEnabled: {
		Key:         KeyMonetizationEnabled,
		Type:        TypeBool,
		Default:     true,
		Description: "Token purchases, withdrawals and commissions are available",
	},
	KeyReferralsEnabled: {
		Key:         KeyReferralsEnabled,
		Type:        TypeBool,
		Default:     true,
		Description: "Users may link referrers with referral codes",
	},
	KeyMinWithdrawalCents: {
		Key:         KeyMinWithdrawalCents,
		Type:        TypeInt,
		Default:     int64(1000),
		Description: "Smallest withdrawal a user may request, in cents",
		Min:         1,
	},
	KeyMaxWithdrawalCents: {
		Key:         KeyMaxWithdrawalCents,
		Type:        TypeInt,
		Default:     int64(100000),
		Description: "Largest single withdrawal, in cents",
		Min:         1,
	},
	KeyReconcileLookbackHours: {
		Key:         KeyReconcileLookbackHours,
		Type:        TypeInt,
		Default:     int64(72),
		Description: "How far back the reconciliation job scans completed payments",
		Min:         1,
		Max:         24 * 90,
	},
	KeyMaintenanceMessage: {
		Key:         KeyMaintenanceMessage,
		Type:        TypeString,
		Default:     "",
		Description: "Banner shown while monetization is paused",
	},
}

// Parse converts a raw stored value into the definition's type
func (d Definition) Parse(raw string) (any, error) {
	switch d.Type {
	case TypeBool:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: expected a boolean, got %q", d.Key, raw)
		}
		return v, nil
	case TypeInt:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected an integer, got %q", d.Key, raw)
		}
		if v < d.Min {
			return nil, fmt.Errorf("%s: must be at least %d", d.Key, d.Min)
		}
		if d.Max > 0 && v > d.Max {
			return nil, fmt.Errorf("%s: must be at most %d", d.Key, d.Max)
		}
		return v, nil
	case TypeString:
		return raw, nil
	}
	return nil, fmt.Errorf("%s: unsupported type %s", d.Key, d.Type)
}

// Format renders a typed value for storage
func (d Definition) Format(v any) string {
	return fmt.Sprint(v)
}
