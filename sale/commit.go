// Package sale resolves a stable weight reading to a product and commits
// the resulting sale record to the store.
package sale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scalebridge/scale"
	"scalebridge/store"
)

var (
	// ErrUnmappedReference is returned when a device-reported PLU has no
	// mapping. The weight stays displayed; commit is blocked until a
	// mapping is added or a product is chosen manually.
	ErrUnmappedReference = errors.New("unmapped product reference")

	// ErrNoStableWeight is returned when a commit is attempted without a
	// locked reading.
	ErrNoStableWeight = errors.New("no stable weight to commit")
)

// ProductStore is the read side of the product catalog.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (store.Product, error)
}

// MappingStore resolves device-reported references.
type MappingStore interface {
	FindByReference(ctx context.Context, ref string) (store.PLUMapping, error)
}

// SaleStore accepts committed sales. The implementation must reject the
// write when stock cannot cover the weight.
type SaleStore interface {
	AddSale(ctx context.Context, rec store.SaleRecord) error
}

// Committer turns stable readings into sale records.
type Committer struct {
	products ProductStore
	mappings MappingStore
	sales    SaleStore
	logger   *slog.Logger

	// onCommitted runs after a successful write; the session uses it to
	// reset the stability detector so the next item starts clean.
	onCommitted func()
}

// NewCommitter wires the store collaborators. onCommitted may be nil.
func NewCommitter(products ProductStore, mappings MappingStore, sales SaleStore, onCommitted func(), logger *slog.Logger) *Committer {
	return &Committer{
		products:    products,
		mappings:    mappings,
		sales:       sales,
		onCommitted: onCommitted,
		logger:      logger,
	}
}

// Total computes the billable amount for a weight at a unit price,
// rounded to two decimal places.
func Total(weight float64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromFloat(weight)).Round(2)
}

// Resolve maps a device-reported reference to its product, with the
// mapping's unit price taking precedence over the catalog price.
func (c *Committer) Resolve(ctx context.Context, ref string) (store.Product, error) {
	mapping, err := c.mappings.FindByReference(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return store.Product{}, fmt.Errorf("reference %q: %w", ref, ErrUnmappedReference)
	}
	if err != nil {
		return store.Product{}, fmt.Errorf("resolving reference %q: %w", ref, err)
	}

	product, err := c.products.GetProduct(ctx, mapping.ProductID)
	if err != nil {
		return store.Product{}, fmt.Errorf("loading product %s for reference %q: %w",
			mapping.ProductID, ref, err)
	}

	product.UnitPrice = mapping.UnitPrice
	return product, nil
}

// Commit writes one sale record for a stable reading against product.
// On success the detector reset hook runs so the next item starts from
// a clean state.
func (c *Committer) Commit(ctx context.Context, stable scale.WeightData, product store.Product, note string) (store.SaleRecord, error) {
	if !stable.Stable || stable.Weight <= 0 {
		return store.SaleRecord{}, ErrNoStableWeight
	}

	rec := store.SaleRecord{
		ID:        uuid.NewString(),
		ProductID: product.ID,
		Weight:    stable.Weight,
		UnitPrice: product.UnitPrice,
		Total:     Total(stable.Weight, product.UnitPrice),
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}

	if err := c.sales.AddSale(ctx, rec); err != nil {
		return store.SaleRecord{}, fmt.Errorf("committing sale: %w", err)
	}

	c.logger.Info("Sale committed",
		"sale_id", rec.ID,
		"product", product.ID,
		"weight_kg", rec.Weight,
		"total", rec.Total.String())

	if c.onCommitted != nil {
		c.onCommitted()
	}
	return rec, nil
}

// CommitByReference resolves the reading's device-reported reference and
// commits against the mapped product.
func (c *Committer) CommitByReference(ctx context.Context, stable scale.WeightData, note string) (store.SaleRecord, error) {
	if stable.ProductRef == "" {
		return store.SaleRecord{}, fmt.Errorf("reading carries no reference: %w", ErrUnmappedReference)
	}

	product, err := c.Resolve(ctx, stable.ProductRef)
	if err != nil {
		return store.SaleRecord{}, err
	}
	return c.Commit(ctx, stable, product, note)
}
