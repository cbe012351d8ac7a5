package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"scanpos/backend/internal/cache"
	"scanpos/backend/internal/domain"
	"scanpos/backend/internal/store"
	"scanpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service coordinates catalog, ledger and unknown-scan operations on top of
// the Repository. Sale and return flows are all-or-nothing: the store runs
// each one as a single composed atomic operation, so the service only
// validates, orchestrates and maps results.
type Service struct {
	repo     store.Repository
	products cache.ProductCache
	cacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, cacheTTL time.Duration) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Service{
		repo:     repo,
		products: products,
		cacheTTL: cacheTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// GetProduct is the scan-path lookup: cache first, store on miss. Cache
// failures degrade to the store, never to an error.
func (s *Service) GetProduct(ctx context.Context, scanCode string) (domain.Product, error) {
	scanCode = strings.TrimSpace(scanCode)
	if scanCode == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}

	if cached, ok, err := s.products.Get(ctx, scanCode); err != nil {
		log.Printf("[service] WARN: product cache get scan_code=%s: %v", scanCode, err)
	} else if ok {
		return *cached, nil
	}

	product, err := s.repo.GetProductByScanCode(ctx, scanCode)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.products.Set(ctx, scanCode, product, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: product cache set scan_code=%s: %v", scanCode, err)
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, store.ErrForbidden
	}

	req.ScanCode = strings.TrimSpace(req.ScanCode)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.ScanCode == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.SellingRateCents < 1 || req.BasicRateCents < 0 || req.MRPCents < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}

	product := domain.Product{
		ID:               xid.New("prod"),
		ScanCode:         req.ScanCode,
		Name:             req.Name,
		Category:         req.Category,
		BasicRateCents:   req.BasicRateCents,
		SellingRateCents: req.SellingRateCents,
		MRPCents:         req.MRPCents,
		Stock:            req.InitialStock,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, created.ScanCode)

	log.Printf("[service] product created code=%d scan_code=%s by=%s", created.Code, created.ScanCode, actor.Username)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, scanCode string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, store.ErrForbidden
	}

	scanCode = strings.TrimSpace(scanCode)
	if scanCode == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}

	existing, err := s.repo.GetProductByScanCode(ctx, scanCode)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.ScanCode != nil {
		next := strings.TrimSpace(*req.ScanCode)
		if next == "" {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.ScanCode = next
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.BasicRateCents != nil {
		if *req.BasicRateCents < 0 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.BasicRateCents = *req.BasicRateCents
	}
	if req.SellingRateCents != nil {
		if *req.SellingRateCents < 1 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.SellingRateCents = *req.SellingRateCents
	}
	if req.MRPCents != nil {
		if *req.MRPCents < 0 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.MRPCents = *req.MRPCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.Stock = *req.Stock
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, scanCode, saved.ScanCode)

	log.Printf("[service] product updated code=%d scan_code=%s by=%s", saved.Code, saved.ScanCode, actor.Username)
	return *saved, nil
}

// AdjustStock applies a signed delta to a product's stock for receiving and
// corrections. The store rejects any delta that would drive stock negative.
func (s *Service) AdjustStock(ctx context.Context, scanCode string, delta int) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, store.ErrForbidden
	}

	scanCode = strings.TrimSpace(scanCode)
	if scanCode == "" || delta == 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}

	product, err := s.repo.AdjustStockIfSufficient(ctx, scanCode, delta)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, scanCode)

	log.Printf("[service] stock adjusted scan_code=%s delta=%d stock=%d by=%s", scanCode, delta, product.Stock, actor.Username)
	return *product, nil
}

// RecordSale is the single-item instant sale: one scan, one decrement, one
// ledger entry, committed atomically by the store.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	req.ScanCode = strings.TrimSpace(req.ScanCode)
	if req.ScanCode == "" || req.Quantity < 1 {
		return domain.SaleResponse{}, store.ErrInvalidRequest
	}
	payment, err := normalizePayment(req.PaymentMethod)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	sale := domain.Sale{
		ID:            xid.New("sale"),
		PaymentMethod: payment,
		CreatedAt:     time.Now().UTC(),
	}
	created, newStock, err := s.repo.CreateSale(ctx, sale, []domain.SaleLine{{ScanCode: req.ScanCode, Quantity: req.Quantity}})
	if err != nil {
		return domain.SaleResponse{}, err
	}
	s.invalidate(ctx, req.ScanCode)

	item := created.Items[0]
	return domain.SaleResponse{
		SaleID: created.ID,
		Product: domain.ProductSummary{
			DisplayName: item.Name,
			Category:    s.categoryOf(ctx, item.ScanCode),
			ScanCode:    item.ScanCode,
			RateCents:   item.RateCents,
		},
		NewStock:         newStock[req.ScanCode],
		TotalAmountCents: created.TotalAmountCents,
		CreatedAt:        created.CreatedAt.Format(time.RFC3339),
	}, nil
}

// RecordBatchSale decrements every line and writes one multi-line ledger
// entry. Every raw line is validated before duplicates are merged, so a
// negative quantity is rejected rather than absorbed into a sibling line;
// any failing line aborts the whole batch with no stock change.
func (s *Service) RecordBatchSale(ctx context.Context, req domain.BatchSaleRequest) (domain.BatchSaleResponse, error) {
	for _, line := range req.Items {
		if strings.TrimSpace(line.ScanCode) == "" || line.Quantity < 1 {
			return domain.BatchSaleResponse{}, store.ErrInvalidRequest
		}
	}
	lines := normalizeLines(req.Items)
	if len(lines) == 0 {
		return domain.BatchSaleResponse{}, store.ErrInvalidRequest
	}
	payment, err := normalizePayment(req.PaymentMethod)
	if err != nil {
		return domain.BatchSaleResponse{}, err
	}

	sale := domain.Sale{
		ID:            xid.New("sale"),
		PaymentMethod: payment,
		CreatedAt:     time.Now().UTC(),
	}
	created, _, err := s.repo.CreateSale(ctx, sale, lines)
	if err != nil {
		return domain.BatchSaleResponse{}, err
	}
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		codes = append(codes, line.ScanCode)
	}
	s.invalidate(ctx, codes...)

	return domain.BatchSaleResponse{
		SaleID:           created.ID,
		Items:            created.Items,
		TotalAmountCents: created.TotalAmountCents,
		PaymentMethod:    created.PaymentMethod,
		CreatedAt:        created.CreatedAt.Format(time.RFC3339),
	}, nil
}

// RecordReturn restocks the product and appends a refund record. The refund
// amount is the selling rate at return time multiplied by quantity.
func (s *Service) RecordReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	req.ScanCode = strings.TrimSpace(req.ScanCode)
	if req.ScanCode == "" || req.Quantity < 1 {
		return domain.ReturnResponse{}, store.ErrInvalidRequest
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = domain.DefaultReturnReason
	}

	ret := domain.Return{
		ID:        xid.New("ret"),
		ScanCode:  req.ScanCode,
		Quantity:  req.Quantity,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	created, product, err := s.repo.CreateReturn(ctx, ret)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	s.invalidate(ctx, req.ScanCode)

	return domain.ReturnResponse{
		ReturnID: created.ID,
		Product: domain.ProductSummary{
			DisplayName: product.Name,
			Category:    product.Category,
			ScanCode:    product.ScanCode,
			RateCents:   product.SellingRateCents,
		},
		NewStock:    product.Stock,
		RefundCents: created.RefundCents,
		CreatedAt:   created.CreatedAt.Format(time.RFC3339),
	}, nil
}

// RecordUnknownScan logs a scan code that matched nothing in the catalog.
// It is invoked explicitly by the scan-to-add flow, never as a side effect
// of a failed sale.
func (s *Service) RecordUnknownScan(ctx context.Context, req domain.UnknownScanRequest) (domain.UnknownScanResponse, error) {
	scanCode := strings.TrimSpace(req.ScanCode)
	if scanCode == "" {
		return domain.UnknownScanResponse{}, store.ErrInvalidRequest
	}

	entry, err := s.repo.RecordUnknownScan(ctx, scanCode, time.Now().UTC())
	if err != nil {
		return domain.UnknownScanResponse{}, err
	}
	return toUnknownScanResponse(*entry), nil
}

func (s *Service) ListUnknownScans(ctx context.Context) ([]domain.UnknownScanResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, store.ErrForbidden
	}

	entries, err := s.repo.ListUnknownScans(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.UnknownScanResponse, 0, len(entries))
	for _, entry := range entries {
		result = append(result, toUnknownScanResponse(entry))
	}
	return result, nil
}

func (s *Service) RemoveUnknownScan(ctx context.Context, scanCode string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return store.ErrForbidden
	}

	scanCode = strings.TrimSpace(scanCode)
	if scanCode == "" {
		return store.ErrInvalidRequest
	}
	return s.repo.RemoveUnknownScan(ctx, scanCode)
}

func (s *Service) ListSales(ctx context.Context, from string, to string, limit int) ([]domain.Sale, error) {
	fromTime, toTime, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, fromTime, toTime, limit)
}

func (s *Service) ListReturns(ctx context.Context, from string, to string, limit int) ([]domain.Return, error) {
	fromTime, toTime, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, fromTime, toTime, limit)
}

// SalesReport aggregates the sales ledger into daily and per-product
// buckets. A window that matches nothing yields zero totals and empty
// bucket lists, not an error.
func (s *Service) SalesReport(ctx context.Context, from string, to string, productName string) (domain.SalesReport, error) {
	fromTime, toTime, err := parseDateRange(from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}

	return s.repo.GetSalesReport(ctx, domain.ReportQuery{
		From:        fromTime,
		To:          toTime,
		ProductName: strings.TrimSpace(productName),
	})
}

func (s *Service) invalidate(ctx context.Context, scanCodes ...string) {
	if err := s.products.Invalidate(ctx, scanCodes...); err != nil {
		log.Printf("[service] WARN: product cache invalidate codes=%v: %v", scanCodes, err)
	}
}

// parseDateRange turns optional YYYY-MM-DD bounds into an inclusive UTC
// window: from is start of day, to is end of day.
func parseDateRange(from string, to string) (time.Time, time.Time, error) {
	var fromTime, toTime time.Time
	if strings.TrimSpace(from) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(from))
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrInvalidRequest
		}
		fromTime = parsed.UTC()
	}
	if strings.TrimSpace(to) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(to))
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrInvalidRequest
		}
		toTime = parsed.UTC().Add(24*time.Hour - time.Nanosecond)
	}
	if !fromTime.IsZero() && !toTime.IsZero() && toTime.Before(fromTime) {
		return time.Time{}, time.Time{}, store.ErrInvalidRequest
	}
	return fromTime, toTime, nil
}

func normalizePayment(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return domain.PaymentCash, nil
	}
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentOther:
		return method, nil
	}
	return "", store.ErrInvalidRequest
}

// normalizeLines trims scan codes and merges duplicate lines, preserving
// first-seen order. Lines with an empty scan code are dropped.
func normalizeLines(lines []domain.SaleLine) []domain.SaleLine {
	merged := make([]domain.SaleLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		code := strings.TrimSpace(line.ScanCode)
		if code == "" {
			continue
		}
		if i, ok := index[code]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[code] = len(merged)
		merged = append(merged, domain.SaleLine{ScanCode: code, Quantity: line.Quantity})
	}
	return merged
}

func toUnknownScanResponse(entry domain.UnknownScan) domain.UnknownScanResponse {
	return domain.UnknownScanResponse{
		ScanCode:      entry.ScanCode,
		Count:         entry.Count,
		LastScannedAt: entry.LastScannedAt.Format(time.RFC3339),
	}
}

// categoryOf reads the category for a sale confirmation. The lookup is best
// effort: the sale already committed, so a miss just leaves it blank.
func (s *Service) categoryOf(ctx context.Context, scanCode string) string {
	product, err := s.repo.GetProductByScanCode(ctx, scanCode)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: category lookup scan_code=%s: %v", scanCode, err)
		}
		return ""
	}
	return product.Category
}
