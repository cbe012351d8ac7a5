package memory

import (
	"context"
	"errors"
	"testing"

	"scanpos/backend/internal/domain"
	"scanpos/backend/internal/store"
)

// Seeded scan code used by these tests.
const scanRoti = "8991002501041" // Roti Tawar, 17800 cents, stock 40

func TestCreateSaleDuplicateLinesCannotOversell(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, _, err := s.CreateSale(ctx, domain.Sale{}, []domain.SaleLine{
		{ScanCode: scanRoti, Quantity: 30},
		{ScanCode: scanRoti, Quantity: 30},
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if stockErr.Available != 10 {
		t.Fatalf("expected available 10 after the first line, got %d", stockErr.Available)
	}

	product, err := s.GetProductByScanCode(ctx, scanRoti)
	if err != nil {
		t.Fatalf("lookup after failed sale: %v", err)
	}
	if product.Stock != 40 {
		t.Fatalf("expected stock untouched at 40 after failed batch, got %d", product.Stock)
	}
}

func TestCreateSaleDuplicateLinesApplyCumulatively(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	created, newStock, err := s.CreateSale(ctx, domain.Sale{}, []domain.SaleLine{
		{ScanCode: scanRoti, Quantity: 25},
		{ScanCode: scanRoti, Quantity: 15},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if newStock[scanRoti] != 0 {
		t.Fatalf("expected stock 0 after selling all 40, got %d", newStock[scanRoti])
	}
	if created.TotalAmountCents != 40*17800 {
		t.Fatalf("expected total %d, got %d", 40*17800, created.TotalAmountCents)
	}
}
