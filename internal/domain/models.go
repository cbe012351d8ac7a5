package domain

import "time"

type Product struct {
	ID               string `json:"id"`
	Code             int64  `json:"code"`
	ScanCode         string `json:"scan_code"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	BasicRateCents   int64  `json:"basic_rate_cents"`
	SellingRateCents int64  `json:"selling_rate_cents"`
	MRPCents         int64  `json:"mrp_cents"`
	Stock            int    `json:"stock"`
}

type ProductCreateRequest struct {
	ScanCode         string `json:"scan_code"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	BasicRateCents   int64  `json:"basic_rate_cents"`
	MRPCents         int64  `json:"mrp_cents"`
	SellingRateCents int64  `json:"selling_rate_cents"`
	InitialStock     int    `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	ScanCode         *string `json:"scan_code,omitempty"`
	Name             *string `json:"name,omitempty"`
	Category         *string `json:"category,omitempty"`
	BasicRateCents   *int64  `json:"basic_rate_cents,omitempty"`
	MRPCents         *int64  `json:"mrp_cents,omitempty"`
	SellingRateCents *int64  `json:"selling_rate_cents,omitempty"`
	Stock            *int    `json:"stock,omitempty"`
}

// ProductSummary is the display slice of a product returned with sale and
// return confirmations. RateCents is the selling rate at transaction time.
type ProductSummary struct {
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	ScanCode    string `json:"scan_code"`
	RateCents   int64  `json:"rate_cents"`
}

// SaleItem is a point-in-time snapshot of the product sold. Later catalog
// edits never change what a historical sale shows.
type SaleItem struct {
	ProductID  string `json:"product_id"`
	ScanCode   string `json:"scan_code"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	RateCents  int64  `json:"rate_cents"`
	TotalCents int64  `json:"total_cents"`
}

type Sale struct {
	ID               string     `json:"id"`
	Items            []SaleItem `json:"items"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	PaymentMethod    string     `json:"payment_method"`
	CreatedAt        time.Time  `json:"created_at"`
}

type Return struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	ScanCode    string    `json:"scan_code"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	RefundCents int64     `json:"refund_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

type UnknownScan struct {
	ScanCode      string    `json:"scan_code"`
	Count         int       `json:"count"`
	LastScannedAt time.Time `json:"last_scanned_at"`
}

// StockAdjustRequest applies a signed delta to a product's stock: positive
// for receiving, negative for corrections. Adjustments never drive stock
// below zero.
type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

type SaleRequest struct {
	ScanCode      string `json:"scan_code"`
	Quantity      int    `json:"quantity"`
	PaymentMethod string `json:"payment_method"`
}

type SaleLine struct {
	ScanCode string `json:"scan_code"`
	Quantity int    `json:"quantity"`
}

type BatchSaleRequest struct {
	Items         []SaleLine `json:"items"`
	PaymentMethod string     `json:"payment_method"`
}

type SaleResponse struct {
	SaleID           string         `json:"sale_id"`
	Product          ProductSummary `json:"product"`
	NewStock         int            `json:"new_stock"`
	TotalAmountCents int64          `json:"total_amount_cents"`
	CreatedAt        string         `json:"created_at"`
}

type BatchSaleResponse struct {
	SaleID           string     `json:"sale_id"`
	Items            []SaleItem `json:"items"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	PaymentMethod    string     `json:"payment_method"`
	CreatedAt        string     `json:"created_at"`
}

type ReturnRequest struct {
	ScanCode string `json:"scan_code"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type ReturnResponse struct {
	ReturnID    string         `json:"return_id"`
	Product     ProductSummary `json:"product"`
	NewStock    int            `json:"new_stock"`
	RefundCents int64          `json:"refund_cents"`
	CreatedAt   string         `json:"created_at"`
}

type UnknownScanRequest struct {
	ScanCode string `json:"scan_code"`
}

type UnknownScanResponse struct {
	ScanCode      string `json:"scan_code"`
	Count         int    `json:"count"`
	LastScannedAt string `json:"last_scanned_at"`
}

type DailySalesBucket struct {
	Date         string `json:"date"`
	RevenueCents int64  `json:"revenue_cents"`
	ItemsSold    int64  `json:"items_sold"`
	Transactions int64  `json:"transactions"`
}

type ProductSalesBucket struct {
	ProductName  string `json:"product_name"`
	ItemsSold    int64  `json:"items_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

type SalesReportTotals struct {
	RevenueCents int64 `json:"revenue_cents"`
	ItemsSold    int64 `json:"items_sold"`
	Transactions int64 `json:"transactions"`
}

type SalesReport struct {
	DailySales   []DailySalesBucket   `json:"daily_sales"`
	ProductSales []ProductSalesBucket `json:"product_sales"`
	Totals       SalesReportTotals    `json:"totals"`
}

// ReportQuery bounds are inclusive; zero times mean unbounded.
type ReportQuery struct {
	From        time.Time
	To          time.Time
	ProductName string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash  = "cash"
	PaymentCard  = "card"
	PaymentOther = "other"
)

// DefaultReturnReason is applied when a return request omits the reason.
const DefaultReturnReason = "Damaged"
