package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"scanpos/backend/internal/domain"
	"scanpos/backend/internal/store"
	"scanpos/backend/internal/xid"
)

// firstProductCode is the catalog code assigned when the catalog is empty.
const firstProductCode = 100001

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, code, scan_code, name, category, basic_rate_cents, selling_rate_cents, mrp_cents, stock`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Code, &p.ScanCode, &p.Name, &p.Category, &p.BasicRateCents, &p.SellingRateCents, &p.MRPCents, &p.Stock)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ScanCode == "" || product.Name == "" || product.SellingRateCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if product.Code == 0 {
		err = pgTx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(code) + 1, $1)
			FROM products
		`, firstProductCode).Scan(&product.Code)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO products (id, code, scan_code, name, category, basic_rate_cents, selling_rate_cents, mrp_cents, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
	`, product.ID, product.Code, product.ScanCode, product.Name, product.Category,
		product.BasicRateCents, product.SellingRateCents, product.MRPCents, product.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateKey
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductByScanCode(ctx context.Context, scanCode string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE scan_code = $1
	`, scanCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.ScanCode == "" || product.Name == "" || product.SellingRateCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET scan_code = $2, name = $3, category = $4, basic_rate_cents = $5,
			selling_rate_cents = $6, mrp_cents = $7, stock = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.ScanCode, product.Name, product.Category,
		product.BasicRateCents, product.SellingRateCents, product.MRPCents, product.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateKey
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) NextProductCode(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(code) + 1, $1)
		FROM products
	`, firstProductCode).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// AdjustStockIfSufficient applies delta with a single conditional UPDATE so
// the check and the write cannot be split by a concurrent adjustment. When
// no row matches, a follow-up read distinguishes an unknown scan code from a
// rejected decrement.
func (s *Store) AdjustStockIfSufficient(ctx context.Context, scanCode string, delta int) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE scan_code = $1 AND stock + $2 >= 0
		RETURNING `+productColumns+`
	`, scanCode, delta))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var available int
	err = s.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE scan_code = $1
	`, scanCode).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return nil, &store.InsufficientStockError{ScanCode: scanCode, Available: available}
}

// CreateSale runs the whole sale in one serializable transaction: every line
// is a conditional stock decrement and the ledger rows are inserted last, so
// a failed line rolls back all prior decrements.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, lines []domain.SaleLine) (*domain.Sale, map[string]int, error) {
	if len(lines) == 0 {
		return nil, nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	items := make([]domain.SaleItem, 0, len(lines))
	newStock := make(map[string]int, len(lines))
	total := int64(0)
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, nil, store.ErrInvalidRequest
		}
		product, err := scanProduct(pgTx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE scan_code = $1 AND stock >= $2
			RETURNING `+productColumns+`
		`, line.ScanCode, line.Quantity))
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, nil, err
			}
			var available int
			err = pgTx.QueryRowContext(ctx, `
				SELECT stock FROM products WHERE scan_code = $1
			`, line.ScanCode).Scan(&available)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, nil, store.ErrNotFound
				}
				return nil, nil, err
			}
			return nil, nil, &store.InsufficientStockError{ScanCode: line.ScanCode, Available: available}
		}

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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, total_amount_cents, payment_method, created_at)
		VALUES ($1,$2,$3,$4)
	`, sale.ID, sale.TotalAmountCents, sale.PaymentMethod, sale.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, scan_code, name, qty, rate_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, item.ProductID, item.ScanCode, item.Name, item.Quantity, item.RateCents, item.TotalCents)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	return &sale, newStock, nil
}

// CreateReturn restocks the product and appends the return record in one
// serializable transaction. Name and refund are snapshotted from the product
// row at return time.
func (s *Store) CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, *domain.Product, error) {
	if ret.ScanCode == "" || ret.Quantity < 1 {
		return nil, nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	product, err := scanProduct(pgTx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE scan_code = $1
		RETURNING `+productColumns+`
	`, ret.ScanCode, ret.Quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO returns (id, product_id, scan_code, name, qty, refund_cents, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ret.ID, ret.ProductID, ret.ScanCode, ret.Name, ret.Quantity, ret.RefundCents, ret.Reason, ret.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	return &ret, product, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, total_amount_cents, payment_method, created_at
		FROM sales
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, nullTimeArg(from), nullTimeArg(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.TotalAmountCents, &sale.PaymentMethod, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sale.Items = make([]domain.SaleItem, 0, 4)
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, scan_code, name, qty, rate_cents, total_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemsBySale := make(map[string][]domain.SaleItem, len(ids))
	for itemRows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := itemRows.Scan(&saleID, &item.ProductID, &item.ScanCode, &item.Name, &item.Quantity, &item.RateCents, &item.TotalCents); err != nil {
			return nil, err
		}
		itemsBySale[saleID] = append(itemsBySale[saleID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		if items, ok := itemsBySale[sales[i].ID]; ok {
			sales[i].Items = items
		}
	}
	return sales, nil
}

func (s *Store) ListReturns(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, scan_code, name, qty, refund_cents, reason, created_at
		FROM returns
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, nullTimeArg(from), nullTimeArg(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, limit)
	for rows.Next() {
		var ret domain.Return
		if err := rows.Scan(&ret.ID, &ret.ProductID, &ret.ScanCode, &ret.Name, &ret.Quantity, &ret.RefundCents, &ret.Reason, &ret.CreatedAt); err != nil {
			return nil, err
		}
		ret.CreatedAt = ret.CreatedAt.UTC()
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return returns, nil
}

func (s *Store) RecordUnknownScan(ctx context.Context, scanCode string, at time.Time) (*domain.UnknownScan, error) {
	if strings.TrimSpace(scanCode) == "" {
		return nil, store.ErrInvalidRequest
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var entry domain.UnknownScan
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO unknown_scans (scan_code, count, last_scanned_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (scan_code)
		DO UPDATE SET count = unknown_scans.count + 1, last_scanned_at = EXCLUDED.last_scanned_at
		RETURNING scan_code, count, last_scanned_at
	`, scanCode, at).Scan(&entry.ScanCode, &entry.Count, &entry.LastScannedAt)
	if err != nil {
		return nil, err
	}
	entry.LastScannedAt = entry.LastScannedAt.UTC()
	return &entry, nil
}

func (s *Store) ListUnknownScans(ctx context.Context) ([]domain.UnknownScan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_code, count, last_scanned_at
		FROM unknown_scans
		ORDER BY count DESC, scan_code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.UnknownScan, 0, 32)
	for rows.Next() {
		var entry domain.UnknownScan
		if err := rows.Scan(&entry.ScanCode, &entry.Count, &entry.LastScannedAt); err != nil {
			return nil, err
		}
		entry.LastScannedAt = entry.LastScannedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RemoveUnknownScan(ctx context.Context, scanCode string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM unknown_scans WHERE scan_code = $1
	`, scanCode)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSalesReport(ctx context.Context, query domain.ReportQuery) (domain.SalesReport, error) {
	report := domain.SalesReport{
		DailySales:   make([]domain.DailySalesBucket, 0, 8),
		ProductSales: make([]domain.ProductSalesBucket, 0, 16),
	}
	from := nullTimeArg(query.From)
	to := nullTimeArg(query.To)
	name := strings.TrimSpace(query.ProductName)

	dailyRows, err := s.db.QueryContext(ctx, `
		SELECT to_char(s.created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COALESCE(SUM(si.total_cents),0)::bigint,
			COALESCE(SUM(si.qty),0)::bigint,
			COUNT(DISTINCT s.id)::bigint
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		WHERE ($1::timestamptz IS NULL OR s.created_at >= $1)
			AND ($2::timestamptz IS NULL OR s.created_at <= $2)
			AND ($3 = '' OR lower(si.name) = lower($3))
		GROUP BY day
		ORDER BY day ASC
	`, from, to, name)
	if err != nil {
		return report, err
	}
	for dailyRows.Next() {
		var bucket domain.DailySalesBucket
		if err := dailyRows.Scan(&bucket.Date, &bucket.RevenueCents, &bucket.ItemsSold, &bucket.Transactions); err != nil {
			_ = dailyRows.Close()
			return report, err
		}
		report.DailySales = append(report.DailySales, bucket)
		report.Totals.RevenueCents += bucket.RevenueCents
		report.Totals.ItemsSold += bucket.ItemsSold
		report.Totals.Transactions += bucket.Transactions
	}
	if err := dailyRows.Err(); err != nil {
		_ = dailyRows.Close()
		return report, err
	}
	_ = dailyRows.Close()

	productRows, err := s.db.QueryContext(ctx, `
		SELECT si.name,
			COALESCE(SUM(si.qty),0)::bigint,
			COALESCE(SUM(si.total_cents),0)::bigint
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		WHERE ($1::timestamptz IS NULL OR s.created_at >= $1)
			AND ($2::timestamptz IS NULL OR s.created_at <= $2)
			AND ($3 = '' OR lower(si.name) = lower($3))
		GROUP BY si.name
		ORDER BY 3 DESC, si.name ASC
	`, from, to, name)
	if err != nil {
		return report, err
	}
	for productRows.Next() {
		var bucket domain.ProductSalesBucket
		if err := productRows.Scan(&bucket.ProductName, &bucket.ItemsSold, &bucket.RevenueCents); err != nil {
			_ = productRows.Close()
			return report, err
		}
		report.ProductSales = append(report.ProductSales, bucket)
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return report, err
	}
	_ = productRows.Close()

	return report, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTimeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
