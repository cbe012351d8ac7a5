package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"scanpos/backend/internal/domain"
	"scanpos/backend/internal/store"
	"scanpos/backend/internal/xid"
)

// firstProductCode is the catalog code assigned to the first product when
// the catalog is empty. Subsequent codes are max+1.
const firstProductCode = 100001

type Store struct {
	mu             sync.RWMutex
	productsByScan map[string]domain.Product
	salesByID      map[string]*domain.Sale
	saleOrder      []string
	returnsByID    map[string]domain.Return
	returnOrder    []string
	unknownScans   map[string]domain.UnknownScan
	usersByName    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		productsByScan: make(map[string]domain.Product),
		salesByID:      make(map[string]*domain.Sale),
		saleOrder:      make([]string, 0, 128),
		returnsByID:    make(map[string]domain.Return),
		returnOrder:    make([]string, 0, 32),
		unknownScans:   make(map[string]domain.UnknownScan),
		usersByName:    seedUsers(),
	}
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ScanCode: "8991002501010", Name: "Mie Goreng Instan", Category: "grocery", BasicRateCents: 2700, SellingRateCents: 3500, MRPCents: 3800, Stock: 120},
		{ScanCode: "8991002501027", Name: "Telur 10 Butir", Category: "grocery", BasicRateCents: 23000, SellingRateCents: 26500, MRPCents: 27500, Stock: 60},
		{ScanCode: "8991002501034", Name: "Susu UHT 1L", Category: "dairy", BasicRateCents: 13600, SellingRateCents: 18900, MRPCents: 19500, Stock: 80},
		{ScanCode: "8991002501041", Name: "Roti Tawar", Category: "bakery", BasicRateCents: 12400, SellingRateCents: 17800, MRPCents: 18000, Stock: 40},
		{ScanCode: "8991002501058", Name: "Kopi Sachet", Category: "beverage", BasicRateCents: 1700, SellingRateCents: 2600, MRPCents: 3000, Stock: 300},
		{ScanCode: "8991002501065", Name: "Gula 1kg", Category: "grocery", BasicRateCents: 15300, SellingRateCents: 17400, MRPCents: 18000, Stock: 90},
		{ScanCode: "8991002501072", Name: "Teh Celup", Category: "beverage", BasicRateCents: 7200, SellingRateCents: 9800, MRPCents: 10500, Stock: 70},
		{ScanCode: "8991002501089", Name: "Air Mineral 600ml", Category: "beverage", BasicRateCents: 3200, SellingRateCents: 3900, MRPCents: 4000, Stock: 240},
		{ScanCode: "8991002501096", Name: "Keripik Singkong", Category: "snack", BasicRateCents: 8000, SellingRateCents: 12800, MRPCents: 13000, Stock: 55},
		{ScanCode: "8991002501102", Name: "Coklat Batang", Category: "snack", BasicRateCents: 5600, SellingRateCents: 8600, MRPCents: 9000, Stock: 65},
		{ScanCode: "8991002501119", Name: "Sabun Mandi", Category: "household", BasicRateCents: 5000, SellingRateCents: 7400, MRPCents: 7500, Stock: 110},
		{ScanCode: "8991002501126", Name: "Shampoo Sachet", Category: "household", BasicRateCents: 2100, SellingRateCents: 3200, MRPCents: 3500, Stock: 200},
	}

	s := New()
	for i, p := range products {
		p.ID = xid.New("prod")
		p.Code = int64(firstProductCode + i)
		s.productsByScan[p.ScanCode] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByScan))
	for _, p := range s.productsByScan {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Code < b.Code {
			return -1
		}
		if a.Code > b.Code {
			return 1
		}
		return cmpString(a.ScanCode, b.ScanCode)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ScanCode == "" || product.Name == "" || product.SellingRateCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.productsByScan[product.ScanCode]; exists {
		return nil, store.ErrDuplicateKey
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.Code == 0 {
		product.Code = s.nextCodeLocked()
	}
	s.productsByScan[product.ScanCode] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByScanCode(_ context.Context, scanCode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByScan[scanCode]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.ScanCode == "" || product.Name == "" || product.SellingRateCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}

	var prevScan string
	found := false
	for scan, existing := range s.productsByScan {
		if existing.ID == product.ID {
			prevScan = scan
			found = true
			break
		}
	}
	if !found {
		return nil, store.ErrNotFound
	}
	if other, exists := s.productsByScan[product.ScanCode]; exists && other.ID != product.ID {
		return nil, store.ErrDuplicateKey
	}

	if prevScan != product.ScanCode {
		delete(s.productsByScan, prevScan)
	}
	s.productsByScan[product.ScanCode] = product
	updated := product
	return &updated, nil
}

func (s *Store) NextProductCode(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCodeLocked(), nil
}

func (s *Store) nextCodeLocked() int64 {
	next := int64(firstProductCode)
	for _, p := range s.productsByScan {
		if p.Code >= next {
			next = p.Code + 1
		}
	}
	return next
}

// AdjustStockIfSufficient applies delta to the product's stock only when the
// result stays non-negative. The check and the write happen under one lock,
// mirroring the single conditional UPDATE of the postgres store.
func (s *Store) AdjustStockIfSufficient(_ context.Context, scanCode string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByScan[scanCode]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return nil, &store.InsufficientStockError{ScanCode: scanCode, Available: product.Stock}
	}
	product.Stock += delta
	s.productsByScan[scanCode] = product
	copyProduct := product
	return &copyProduct, nil
}

// CreateSale validates and applies every line against the current stock and
// appends the sale, all under one lock. Nothing is decremented unless every
// line fits, so a failed batch leaves stock untouched.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) == 0 {
		return nil, nil, store.ErrInvalidRequest
	}

	items := make([]domain.SaleItem, 0, len(lines))
	total := int64(0)
	pending := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, nil, store.ErrInvalidRequest
		}
		product, exists := s.productsByScan[line.ScanCode]
		if !exists {
			return nil, nil, store.ErrNotFound
		}
		// Earlier lines for the same scan code count against the stock too,
		// matching the sequential decrements of the postgres transaction.
		remaining := product.Stock - pending[line.ScanCode]
		if remaining < line.Quantity {
			return nil, nil, &store.InsufficientStockError{ScanCode: line.ScanCode, Available: remaining}
		}
		pending[line.ScanCode] += line.Quantity
		lineTotal := int64(line.Quantity) * product.SellingRateCents
		items = append(items, domain.SaleItem{
			ProductID:  product.ID,
			ScanCode:   product.ScanCode,
			Name:       product.Name,
			Quantity:   line.Quantity,
			RateCents:  product.SellingRateCents,
			TotalCents: lineTotal,
		})
		total += lineTotal
	}

	newStock := make(map[string]int, len(lines))
	for _, line := range lines {
		product := s.productsByScan[line.ScanCode]
		product.Stock -= line.Quantity
		s.productsByScan[line.ScanCode] = product
		newStock[line.ScanCode] = product.Stock
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.PaymentMethod == "" {
		sale.PaymentMethod = domain.PaymentCash
	}
	sale.Items = items
	sale.TotalAmountCents = total

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	s.saleOrder = append(s.saleOrder, sale.ID)

	return cloneSale(saved), newStock, nil
}

// CreateReturn restocks the product and appends the return record under one
// lock. Name and refund are snapshotted from the product at return time.
func (s *Store) CreateReturn(_ context.Context, ret domain.Return) (*domain.Return, *domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ret.ScanCode == "" || ret.Quantity < 1 {
		return nil, nil, store.ErrInvalidRequest
	}
	product, exists := s.productsByScan[ret.ScanCode]
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	product.Stock += ret.Quantity
	s.productsByScan[ret.ScanCode] = product

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	if ret.Reason == "" {
		ret.Reason = domain.DefaultReturnReason
	}
	ret.ProductID = product.ID
	ret.Name = product.Name
	ret.RefundCents = int64(ret.Quantity) * product.SellingRateCents

	s.returnsByID[ret.ID] = ret
	s.returnOrder = append(s.returnOrder, ret.ID)

	created := ret
	copyProduct := product
	return &created, &copyProduct, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if !inRange(sale.CreatedAt, from, to) {
			continue
		}
		result = append(result, *cloneSale(sale))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListReturns(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Return, 0, 16)
	for i := len(s.returnOrder) - 1; i >= 0; i-- {
		ret := s.returnsByID[s.returnOrder[i]]
		if !inRange(ret.CreatedAt, from, to) {
			continue
		}
		result = append(result, ret)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) RecordUnknownScan(_ context.Context, scanCode string, at time.Time) (*domain.UnknownScan, error) {
	if strings.TrimSpace(scanCode) == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry, exists := s.unknownScans[scanCode]
	if !exists {
		entry = domain.UnknownScan{ScanCode: scanCode}
	}
	entry.Count++
	entry.LastScannedAt = at
	s.unknownScans[scanCode] = entry

	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) ListUnknownScans(_ context.Context) ([]domain.UnknownScan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UnknownScan, 0, len(s.unknownScans))
	for _, entry := range s.unknownScans {
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.UnknownScan) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return cmpString(a.ScanCode, b.ScanCode)
	})
	return result, nil
}

func (s *Store) RemoveUnknownScan(_ context.Context, scanCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.unknownScans[scanCode]; !exists {
		return store.ErrNotFound
	}
	delete(s.unknownScans, scanCode)
	return nil
}

func (s *Store) GetSalesReport(_ context.Context, query domain.ReportQuery) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{
		DailySales:   make([]domain.DailySalesBucket, 0, 8),
		ProductSales: make([]domain.ProductSalesBucket, 0, 16),
	}
	byDay := map[string]*domain.DailySalesBucket{}
	byProduct := map[string]*domain.ProductSalesBucket{}

	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if !inRange(sale.CreatedAt, query.From, query.To) {
			continue
		}

		day := sale.CreatedAt.UTC().Format("2006-01-02")
		matched := false
		for _, item := range sale.Items {
			if query.ProductName != "" && !strings.EqualFold(item.Name, query.ProductName) {
				continue
			}
			matched = true

			daily := byDay[day]
			if daily == nil {
				daily = &domain.DailySalesBucket{Date: day}
				byDay[day] = daily
			}
			daily.RevenueCents += item.TotalCents
			daily.ItemsSold += int64(item.Quantity)

			product := byProduct[item.Name]
			if product == nil {
				product = &domain.ProductSalesBucket{ProductName: item.Name}
				byProduct[item.Name] = product
			}
			product.RevenueCents += item.TotalCents
			product.ItemsSold += int64(item.Quantity)

			report.Totals.RevenueCents += item.TotalCents
			report.Totals.ItemsSold += int64(item.Quantity)
		}
		if matched {
			byDay[day].Transactions++
			report.Totals.Transactions++
		}
	}

	for _, bucket := range byDay {
		report.DailySales = append(report.DailySales, *bucket)
	}
	for _, bucket := range byProduct {
		report.ProductSales = append(report.ProductSales, *bucket)
	}

	slices.SortFunc(report.DailySales, func(a, b domain.DailySalesBucket) int {
		return cmpString(a.Date, b.Date)
	})
	slices.SortFunc(report.ProductSales, func(a, b domain.ProductSalesBucket) int {
		if a.RevenueCents != b.RevenueCents {
			if a.RevenueCents > b.RevenueCents {
				return -1
			}
			return 1
		}
		return cmpString(a.ProductName, b.ProductName)
	})

	return report, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByName[username]; exists {
		return store.ErrDuplicateKey
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByName[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

// inRange reports whether t falls inside the inclusive [from, to] window.
// Zero bounds are unbounded.
func inRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
