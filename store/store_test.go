package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDecimal(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("NewFromString(%q) error = %v", v, err)
	}
	return d
}

func TestProductRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := Product{ID: "0001", Name: "Tomatoes", UnitPrice: mustDecimal(t, "850.00"), Stock: 12.5}
	if err := s.AddProduct(ctx, p); err != nil {
		t.Fatalf("AddProduct() error = %v", err)
	}

	got, err := s.GetProduct(ctx, "0001")
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	if got.Name != "Tomatoes" {
		t.Errorf("Name = %q, want Tomatoes", got.Name)
	}
	if !got.UnitPrice.Equal(p.UnitPrice) {
		t.Errorf("UnitPrice = %s, want %s", got.UnitPrice, p.UnitPrice)
	}
	if got.Stock != 12.5 {
		t.Errorf("Stock = %v, want 12.5", got.Stock)
	}
}

func TestGetProductNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetProduct(context.Background(), "9999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProduct() error = %v, want ErrNotFound", err)
	}
}

func TestAddSaleDecrementsStock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := Product{ID: "0001", Name: "Tomatoes", UnitPrice: mustDecimal(t, "200"), Stock: 10}
	if err := s.AddProduct(ctx, p); err != nil {
		t.Fatalf("AddProduct() error = %v", err)
	}

	rec := SaleRecord{
		ID:        "sale-1",
		ProductID: "0001",
		Weight:    2.5,
		UnitPrice: mustDecimal(t, "200"),
		Total:     mustDecimal(t, "500.00"),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.AddSale(ctx, rec); err != nil {
		t.Fatalf("AddSale() error = %v", err)
	}

	got, err := s.GetProduct(ctx, "0001")
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	if got.Stock != 7.5 {
		t.Errorf("Stock after sale = %v, want 7.5", got.Stock)
	}

	sales, err := s.RecentSales(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSales() error = %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("len(sales) = %d, want 1", len(sales))
	}
	if !sales[0].Total.Equal(mustDecimal(t, "500.00")) {
		t.Errorf("Total = %s, want 500.00", sales[0].Total)
	}
}

func TestAddSaleInsufficientStockWritesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := Product{ID: "0001", Name: "Tomatoes", UnitPrice: mustDecimal(t, "200"), Stock: 1.0}
	if err := s.AddProduct(ctx, p); err != nil {
		t.Fatalf("AddProduct() error = %v", err)
	}

	rec := SaleRecord{
		ID:        "sale-1",
		ProductID: "0001",
		Weight:    2.5,
		UnitPrice: mustDecimal(t, "200"),
		Total:     mustDecimal(t, "500.00"),
		CreatedAt: time.Now().UTC(),
	}
	err := s.AddSale(ctx, rec)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("AddSale() error = %v, want ErrInsufficientStock", err)
	}

	sales, err := s.RecentSales(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSales() error = %v", err)
	}
	if len(sales) != 0 {
		t.Errorf("len(sales) = %d, want 0 after rejected sale", len(sales))
	}

	got, err := s.GetProduct(ctx, "0001")
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	if got.Stock != 1.0 {
		t.Errorf("Stock = %v, want unchanged 1.0", got.Stock)
	}
}

func TestAddSaleUnknownProduct(t *testing.T) {
	s := openTestStore(t)

	err := s.AddSale(context.Background(), SaleRecord{
		ID:        "sale-1",
		ProductID: "missing",
		Weight:    1.0,
		UnitPrice: mustDecimal(t, "100"),
		Total:     mustDecimal(t, "100.00"),
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AddSale() error = %v, want ErrNotFound", err)
	}
}

func TestMappingLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := Product{ID: "prod-1", Name: "Onions", UnitPrice: mustDecimal(t, "650.00"), Stock: 5}
	if err := s.AddProduct(ctx, p); err != nil {
		t.Fatalf("AddProduct() error = %v", err)
	}

	m := PLUMapping{DeviceRef: "0003", ProductID: "prod-1", UnitPrice: mustDecimal(t, "650.00")}
	if err := s.UpsertMapping(ctx, m); err != nil {
		t.Fatalf("UpsertMapping() error = %v", err)
	}

	got, err := s.FindByReference(ctx, "0003")
	if err != nil {
		t.Fatalf("FindByReference() error = %v", err)
	}
	if got.ProductID != "prod-1" {
		t.Errorf("ProductID = %q, want prod-1", got.ProductID)
	}
	if !got.UnitPrice.Equal(m.UnitPrice) {
		t.Errorf("UnitPrice = %s, want %s", got.UnitPrice, m.UnitPrice)
	}

	// Upsert replaces the price.
	m.UnitPrice = mustDecimal(t, "700.00")
	if err := s.UpsertMapping(ctx, m); err != nil {
		t.Fatalf("UpsertMapping() update error = %v", err)
	}
	got, err = s.FindByReference(ctx, "0003")
	if err != nil {
		t.Fatalf("FindByReference() error = %v", err)
	}
	if !got.UnitPrice.Equal(mustDecimal(t, "700.00")) {
		t.Errorf("UnitPrice after upsert = %s, want 700.00", got.UnitPrice)
	}

	mappings, err := s.ListMappings(ctx)
	if err != nil {
		t.Fatalf("ListMappings() error = %v", err)
	}
	if len(mappings) != 1 {
		t.Errorf("len(mappings) = %d, want 1", len(mappings))
	}

	if err := s.DeleteMapping(ctx, "0003"); err != nil {
		t.Fatalf("DeleteMapping() error = %v", err)
	}
	if _, err := s.FindByReference(ctx, "0003"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByReference() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteMapping(ctx, "0003"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteMapping() twice error = %v, want ErrNotFound", err)
	}
}
