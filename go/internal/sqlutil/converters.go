package sqlutil

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Helper functions for converting between Go types and pgtype values

// ToTimestamptz converts a Go time pointer to pgtype.Timestamptz
func ToTimestamptz(val *time.Time) pgtype.Timestamptz {
	if val == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *val, Valid: true}
}

// FromTimestamptz converts pgtype.Timestamptz to a UTC Go time pointer
func FromTimestamptz(val pgtype.Timestamptz) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

// ToFloat8 converts a Go float pointer to pgtype.Float8
func ToFloat8(val *float64) pgtype.Float8 {
	if val == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Float64: *val, Valid: true}
}

// FromFloat8 converts pgtype.Float8 to a Go float pointer
func FromFloat8(val pgtype.Float8) *float64 {
	if !val.Valid {
		return nil
	}
	f := val.Float64
	return &f
}

// ToText converts a Go string to pgtype.Text, empty meaning NULL
func ToText(val string) pgtype.Text {
	if val == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: val, Valid: true}
}

// FromText converts pgtype.Text to a Go string, NULL meaning empty
func FromText(val pgtype.Text) string {
	if !val.Valid {
		return ""
	}
	return val.String
}
