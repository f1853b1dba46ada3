package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lirancohen/adminpulse/internal/events"
)

// InsertPricingEvent stores a pricing event, stamping it when unset
func (db *DB) InsertPricingEvent(e *events.PricingEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = events.NewTime(time.Now())
	}
	_, err := db.Exec(
		`INSERT INTO pricing_events (type, product_id, product_name, rule_id, rule_name, old_price, new_price, currency, message, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Type, e.ProductID, e.ProductName, e.RuleID, e.RuleName,
		nullFloat(e.OldPrice), nullFloat(e.NewPrice), e.Currency, e.Message, formatTS(e.Timestamp.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pricing event: %w", err)
	}
	return nil
}

// ListPricingEvents returns events newest first, at or after since when set
func (db *DB) ListPricingEvents(limit int, since time.Time) ([]events.PricingEvent, error) {
	query, args := sinceClause(
		`SELECT type, product_id, product_name, rule_id, rule_name, old_price, new_price, currency, message, ts
		 FROM pricing_events`,
		nil, since)
	rows, err := db.Query(query+" ORDER BY ts DESC, id DESC LIMIT ?", append(args, limitOrDefault(limit))...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing events: %w", err)
	}
	defer rows.Close()

	list := []events.PricingEvent{}
	for rows.Next() {
		var (
			e                  events.PricingEvent
			productID, product sql.NullString
			ruleID, rule       sql.NullString
			currency, message  sql.NullString
			oldPrice, newPrice sql.NullFloat64
			ts                 string
		)
		if err := rows.Scan(&e.Type, &productID, &product, &ruleID, &rule, &oldPrice, &newPrice, &currency, &message, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan pricing event: %w", err)
		}
		e.ProductID, e.ProductName = productID.String, product.String
		e.RuleID, e.RuleName = ruleID.String, rule.String
		e.Currency, e.Message = currency.String, message.String
		e.OldPrice, e.NewPrice = floatPtr(oldPrice), floatPtr(newPrice)
		t, err := parseTS(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = events.NewTime(t)
		list = append(list, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pricing events: %w", err)
	}
	return list, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
