package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SaleRecord is one committed weighed sale.
// Invariant: Total = (UnitPrice * Weight) rounded to 2 decimal places.
type SaleRecord struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Weight    float64         `json:"weight"` // kg
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AddSale writes a sale and decrements the product's stock in a single
// transaction. It fails with ErrInsufficientStock, writing nothing, when
// the remaining stock cannot cover the weight.
func (s *Store) AddSale(ctx context.Context, rec SaleRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting sale transaction: %w", err)
	}
	defer tx.Rollback()

	var stock float64
	err = tx.QueryRowContext(ctx,
		`SELECT stock FROM products WHERE id = ?`, rec.ProductID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %s: %w", rec.ProductID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking stock for %s: %w", rec.ProductID, err)
	}

	if stock < rec.Weight {
		return fmt.Errorf("product %s has %.3f kg, need %.3f kg: %w",
			rec.ProductID, stock, rec.Weight, ErrInsufficientStock)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sales (id, product_id, weight, unit_price, total, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProductID, rec.Weight, rec.UnitPrice.String(),
		rec.Total.String(), rec.Note, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting sale: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - ? WHERE id = ?`,
		rec.Weight, rec.ProductID)
	if err != nil {
		return fmt.Errorf("decrementing stock for %s: %w", rec.ProductID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sale: %w", err)
	}
	return nil
}

// RecentSales returns the latest n sales, newest first.
func (s *Store) RecentSales(ctx context.Context, n int) ([]SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, weight, unit_price, total, note, created_at
		 FROM sales ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	defer rows.Close()

	var sales []SaleRecord
	for rows.Next() {
		var (
			rec          SaleRecord
			price, total string
		)
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Weight, &price, &total, &rec.Note, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning sale: %w", err)
		}
		if rec.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing unit price %q: %w", price, err)
		}
		if rec.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parsing total %q: %w", total, err)
		}
		sales = append(sales, rec)
	}
	return sales, rows.Err()
}
