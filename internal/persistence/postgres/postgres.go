// Package postgres implements the persistence interfaces against PostgreSQL
// via sqlx and lib/pq.
package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

// dayUTC truncates a timestamp to its UTC date for DATE column parameters.
func dayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func decimalPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}
