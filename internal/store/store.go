package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scanpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrForbidden         = errors.New("admin role required")
)

// InsufficientStockError reports a conditional stock adjustment that failed
// because the product holds fewer units than requested. Available is the
// stock level observed when the adjustment was rejected.
type InsufficientStockError struct {
	ScanCode  string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: only %d left", e.ScanCode, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the persistence contract. Sales and returns are append-only:
// there is no update or delete for ledger records.
//
// CreateSale and CreateReturn are composed atomic operations: the conditional
// stock adjustments and the ledger insert happen in one transaction, and any
// failure rolls back everything.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByScanCode(ctx context.Context, scanCode string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	NextProductCode(ctx context.Context) (int64, error)
	AdjustStockIfSufficient(ctx context.Context, scanCode string, delta int) (*domain.Product, error)

	CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, map[string]int, error)
	CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, *domain.Product, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	ListReturns(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Return, error)

	RecordUnknownScan(ctx context.Context, scanCode string, at time.Time) (*domain.UnknownScan, error)
	ListUnknownScans(ctx context.Context) ([]domain.UnknownScan, error)
	RemoveUnknownScan(ctx context.Context, scanCode string) error

	GetSalesReport(ctx context.Context, query domain.ReportQuery) (domain.SalesReport, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
