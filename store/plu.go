package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PLUMapping ties a device-reported product reference (the PLU code an
// operator keys into the scale) to a product and its unit price.
type PLUMapping struct {
	DeviceRef string          `json:"device_ref"`
	ProductID string          `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// UpsertMapping inserts or replaces a PLU mapping.
func (s *Store) UpsertMapping(ctx context.Context, m PLUMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plu_mappings (device_ref, product_id, unit_price) VALUES (?, ?, ?)
		 ON CONFLICT(device_ref) DO UPDATE SET product_id=excluded.product_id, unit_price=excluded.unit_price`,
		m.DeviceRef, m.ProductID, m.UnitPrice.String())
	if err != nil {
		return fmt.Errorf("upserting mapping %s: %w", m.DeviceRef, err)
	}
	return nil
}

// FindByReference resolves a device-reported reference to its mapping.
func (s *Store) FindByReference(ctx context.Context, ref string) (PLUMapping, error) {
	var (
		m     PLUMapping
		price string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT device_ref, product_id, unit_price FROM plu_mappings WHERE device_ref = ?`, ref).
		Scan(&m.DeviceRef, &m.ProductID, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return PLUMapping{}, fmt.Errorf("mapping %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return PLUMapping{}, fmt.Errorf("querying mapping %s: %w", ref, err)
	}

	if m.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return PLUMapping{}, fmt.Errorf("parsing unit price %q: %w", price, err)
	}
	return m, nil
}

// ListMappings returns all PLU mappings ordered by device reference.
func (s *Store) ListMappings(ctx context.Context) ([]PLUMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_ref, product_id, unit_price FROM plu_mappings ORDER BY device_ref`)
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	defer rows.Close()

	var mappings []PLUMapping
	for rows.Next() {
		var (
			m     PLUMapping
			price string
		)
		if err := rows.Scan(&m.DeviceRef, &m.ProductID, &price); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		if m.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing unit price %q: %w", price, err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// DeleteMapping removes a PLU mapping. Missing mappings are reported as
// ErrNotFound.
func (s *Store) DeleteMapping(ctx context.Context, ref string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM plu_mappings WHERE device_ref = ?`, ref)
	if err != nil {
		return fmt.Errorf("deleting mapping %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting mapping %s: %w", ref, err)
	}
	if n == 0 {
		return fmt.Errorf("mapping %s: %w", ref, ErrNotFound)
	}
	return nil
}
