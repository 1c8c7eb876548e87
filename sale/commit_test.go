package sale

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scalebridge/scale"
	"scalebridge/store"
)

type fakeStores struct {
	products map[string]store.Product
	mappings map[string]store.PLUMapping
	sales    []store.SaleRecord
	saleErr  error
}

func (f *fakeStores) GetProduct(_ context.Context, id string) (store.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return store.Product{}, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStores) FindByReference(_ context.Context, ref string) (store.PLUMapping, error) {
	m, ok := f.mappings[ref]
	if !ok {
		return store.PLUMapping{}, fmt.Errorf("mapping %s: %w", ref, store.ErrNotFound)
	}
	return m, nil
}

func (f *fakeStores) AddSale(_ context.Context, rec store.SaleRecord) error {
	if f.saleErr != nil {
		return f.saleErr
	}
	f.sales = append(f.sales, rec)
	return nil
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("NewFromString(%q) error = %v", v, err)
	}
	return d
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stableReading(weight float64, ref string) scale.WeightData {
	return scale.WeightData{Weight: weight, Stable: true, ProductRef: ref, Timestamp: time.Now()}
}

func TestTotalRounding(t *testing.T) {
	tests := []struct {
		weight    float64
		unitPrice string
		want      string
	}{
		{2.5, "200", "500"},
		{1.234, "850.00", "1048.90"},
		{0.333, "999.99", "333.00"},
		{1.005, "100", "100.50"},
	}

	for _, tt := range tests {
		got := Total(tt.weight, dec(t, tt.unitPrice))
		if !got.Equal(dec(t, tt.want)) {
			t.Errorf("Total(%v, %s) = %s, want %s", tt.weight, tt.unitPrice, got, tt.want)
		}
	}
}

func TestCommitWritesSale(t *testing.T) {
	stores := &fakeStores{
		products: map[string]store.Product{
			"prod-1": {ID: "prod-1", Name: "Tomatoes", UnitPrice: dec(t, "200"), Stock: 10},
		},
	}
	resetCalled := 0
	c := NewCommitter(stores, stores, stores, func() { resetCalled++ }, discard())

	rec, err := c.Commit(context.Background(), stableReading(2.5, ""), stores.products["prod-1"], "lane 1")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if !rec.Total.Equal(dec(t, "500.00")) {
		t.Errorf("Total = %s, want 500.00", rec.Total)
	}
	if rec.ID == "" {
		t.Error("sale ID is empty")
	}
	if rec.Note != "lane 1" {
		t.Errorf("Note = %q, want %q", rec.Note, "lane 1")
	}
	if len(stores.sales) != 1 {
		t.Errorf("stored sales = %d, want 1", len(stores.sales))
	}
	if resetCalled != 1 {
		t.Errorf("detector reset hook called %d times, want 1", resetCalled)
	}
}

func TestCommitInsufficientStock(t *testing.T) {
	stores := &fakeStores{
		products: map[string]store.Product{
			"prod-1": {ID: "prod-1", UnitPrice: dec(t, "200"), Stock: 1},
		},
		saleErr: fmt.Errorf("product prod-1 has 1.000 kg, need 2.500 kg: %w", store.ErrInsufficientStock),
	}
	resetCalled := 0
	c := NewCommitter(stores, stores, stores, func() { resetCalled++ }, discard())

	_, err := c.Commit(context.Background(), stableReading(2.5, ""), stores.products["prod-1"], "")
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("Commit() error = %v, want ErrInsufficientStock", err)
	}
	if len(stores.sales) != 0 {
		t.Errorf("stored sales = %d, want 0", len(stores.sales))
	}
	if resetCalled != 0 {
		t.Errorf("detector reset hook called %d times on failure, want 0", resetCalled)
	}
}

func TestCommitRequiresStableWeight(t *testing.T) {
	stores := &fakeStores{}
	c := NewCommitter(stores, stores, stores, nil, discard())

	unstable := scale.WeightData{Weight: 2.5, Stable: false}
	if _, err := c.Commit(context.Background(), unstable, store.Product{}, ""); !errors.Is(err, ErrNoStableWeight) {
		t.Errorf("Commit() with unstable reading error = %v, want ErrNoStableWeight", err)
	}

	zero := scale.WeightData{Weight: 0, Stable: true}
	if _, err := c.Commit(context.Background(), zero, store.Product{}, ""); !errors.Is(err, ErrNoStableWeight) {
		t.Errorf("Commit() with zero weight error = %v, want ErrNoStableWeight", err)
	}
}

func TestResolveUsesMappingPrice(t *testing.T) {
	stores := &fakeStores{
		products: map[string]store.Product{
			"prod-1": {ID: "prod-1", Name: "Tomatoes", UnitPrice: dec(t, "100"), Stock: 10},
		},
		mappings: map[string]store.PLUMapping{
			"0001": {DeviceRef: "0001", ProductID: "prod-1", UnitPrice: dec(t, "850.00")},
		},
	}
	c := NewCommitter(stores, stores, stores, nil, discard())

	product, err := c.Resolve(context.Background(), "0001")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if product.ID != "prod-1" {
		t.Errorf("ID = %q, want prod-1", product.ID)
	}
	if !product.UnitPrice.Equal(dec(t, "850.00")) {
		t.Errorf("UnitPrice = %s, want mapping price 850.00", product.UnitPrice)
	}
}

func TestResolveUnmappedReference(t *testing.T) {
	stores := &fakeStores{}
	c := NewCommitter(stores, stores, stores, nil, discard())

	if _, err := c.Resolve(context.Background(), "4242"); !errors.Is(err, ErrUnmappedReference) {
		t.Errorf("Resolve() error = %v, want ErrUnmappedReference", err)
	}
}

func TestCommitByReferenceEndToEnd(t *testing.T) {
	// Raw line P0001W+001.234U0850.00T1048.90 parses to reference 0001
	// and weight 1.234; a mapping at 850.00/kg must price the sale at
	// exactly 1048.90.
	reading, ok := scale.Parse("P0001W+001.234U0850.00T1048.90")
	if !ok {
		t.Fatal("Parse() not ok")
	}
	if reading.ProductRef != "0001" || reading.Weight != 1.234 {
		t.Fatalf("Parse() = %+v, want ref 0001 weight 1.234", reading)
	}

	stores := &fakeStores{
		products: map[string]store.Product{
			"prod-1": {ID: "prod-1", Name: "Tomatoes", UnitPrice: dec(t, "850.00"), Stock: 10},
		},
		mappings: map[string]store.PLUMapping{
			"0001": {DeviceRef: "0001", ProductID: "prod-1", UnitPrice: dec(t, "850.00")},
		},
	}
	c := NewCommitter(stores, stores, stores, nil, discard())

	rec, err := c.CommitByReference(context.Background(), stableReading(reading.Weight, reading.ProductRef), "")
	if err != nil {
		t.Fatalf("CommitByReference() error = %v", err)
	}
	if !rec.Total.Equal(dec(t, "1048.90")) {
		t.Errorf("Total = %s, want 1048.90", rec.Total)
	}
}

func TestCommitByReferenceWithoutReference(t *testing.T) {
	stores := &fakeStores{}
	c := NewCommitter(stores, stores, stores, nil, discard())

	if _, err := c.CommitByReference(context.Background(), stableReading(1.0, ""), ""); !errors.Is(err, ErrUnmappedReference) {
		t.Errorf("CommitByReference() error = %v, want ErrUnmappedReference", err)
	}
}
