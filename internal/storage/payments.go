package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// --- Package methods ---

const packageColumns = `id, name, description, price_cents, currency, stripe_price_id, interval, active, created_at`

func scanPackage(sc scanner) (*domain.Package, error) {
	var p domain.Package
	var desc sql.NullString
	if err := sc.Scan(&p.ID, &p.Name, &desc, &p.PriceCents, &p.Currency, &p.StripePriceID, &p.Interval, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Description = scanNullStringValue(desc)
	return &p, nil
}

// ListPackages returns packages ordered by price
func (s *Store) ListPackages(ctx context.Context, activeOnly bool) ([]domain.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY price_cents, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	packages := []domain.Package{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, *p)
	}
	return packages, rows.Err()
}

// GetPackage returns a package by ID
func (s *Store) GetPackage(ctx context.Context, id int64) (*domain.Package, error) {
	p, err := scanPackage(s.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id))
	return p, notFound(err)
}

// CreatePackage inserts a package
func (s *Store) CreatePackage(ctx context.Context, p *domain.Package) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO packages (name, description, price_cents, currency, stripe_price_id, interval, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.Name, nullString(p.Description), p.PriceCents, p.Currency, p.StripePriceID, p.Interval, p.Active)
	if err != nil {
		return err
	}
	p.ID, _ = result.LastInsertId()
	return nil
}

// UpdatePackage replaces a package's fields
func (s *Store) UpdatePackage(ctx context.Context, p *domain.Package) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE packages SET name = ?, description = ?, price_cents = ?, currency = ?, stripe_price_id = ?, interval = ?, active = ?
		WHERE id = ?
	`, p.Name, nullString(p.Description), p.PriceCents, p.Currency, p.StripePriceID, p.Interval, p.Active, p.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeletePackage soft deletes a package so past payments keep their reference
func (s *Store) DeletePackage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE packages SET active = FALSE WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// --- Payment methods ---

// RecordPayment stores a completed checkout. Webhook redeliveries of the same
// checkout session are ignored; the return value reports whether a row was inserted.
func (s *Store) RecordPayment(ctx context.Context, p *domain.Payment) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (stripe_session_id, package_id, customer_email, amount_cents, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stripe_session_id) DO NOTHING
	`, p.StripeSessionID, p.PackageID, nullString(p.CustomerEmail), p.AmountCents, p.Currency, formatTimestamp(p.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	p.ID, _ = result.LastInsertId()
	return true, nil
}

// ListPayments returns the most recent payments
func (s *Store) ListPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	limit = clampLimit(limit, 50, 500)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stripe_session_id, package_id, customer_email, amount_cents, currency, created_at
		FROM payments ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		var p domain.Payment
		var pkg sql.NullInt64
		var email sql.NullString
		if err := rows.Scan(&p.ID, &p.StripeSessionID, &pkg, &email, &p.AmountCents, &p.Currency, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PackageID = scanNullInt64Ptr(pkg)
		p.CustomerEmail = scanNullStringValue(email)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// --- Subscription methods ---

// UpsertSubscription creates or updates a subscription by its Stripe ID
func (s *Store) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	now := formatTimestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (stripe_subscription_id, stripe_customer_id, customer_email, package_id,
			status, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stripe_subscription_id) DO UPDATE SET
			stripe_customer_id = COALESCE(excluded.stripe_customer_id, subscriptions.stripe_customer_id),
			customer_email = COALESCE(excluded.customer_email, subscriptions.customer_email),
			package_id = COALESCE(excluded.package_id, subscriptions.package_id),
			status = excluded.status,
			current_period_end = COALESCE(excluded.current_period_end, subscriptions.current_period_end),
			updated_at = excluded.updated_at
	`, sub.StripeSubscriptionID, nullString(sub.StripeCustomerID), nullString(sub.CustomerEmail), sub.PackageID,
		sub.Status, nullTimestamp(sub.CurrentPeriodEnd), now, now)
	if err != nil {
		return err
	}
	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return s.db.QueryRowContext(ctx, `
		SELECT id FROM subscriptions WHERE stripe_subscription_id = ?
	`, sub.StripeSubscriptionID).Scan(&sub.ID)
}

// EnsureSubscription records a subscription seen at checkout. A row that
// already exists keeps its status, which subscription events own; only
// missing customer and package details are filled in.
func (s *Store) EnsureSubscription(ctx context.Context, sub *domain.Subscription) error {
	now := formatTimestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (stripe_subscription_id, stripe_customer_id, customer_email, package_id,
			status, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stripe_subscription_id) DO UPDATE SET
			stripe_customer_id = COALESCE(subscriptions.stripe_customer_id, excluded.stripe_customer_id),
			customer_email = COALESCE(subscriptions.customer_email, excluded.customer_email),
			package_id = COALESCE(subscriptions.package_id, excluded.package_id)
	`, sub.StripeSubscriptionID, nullString(sub.StripeCustomerID), nullString(sub.CustomerEmail), sub.PackageID,
		sub.Status, nullTimestamp(sub.CurrentPeriodEnd), now, now)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `
		SELECT id, status FROM subscriptions WHERE stripe_subscription_id = ?
	`, sub.StripeSubscriptionID).Scan(&sub.ID, &sub.Status)
}

// ListSubscriptions returns subscriptions, optionally filtered by status
func (s *Store) ListSubscriptions(ctx context.Context, status string) ([]domain.Subscription, error) {
	query := `
		SELECT id, stripe_subscription_id, stripe_customer_id, customer_email, package_id, status,
			current_period_end, created_at, updated_at
		FROM subscriptions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		var sub domain.Subscription
		var customer, email sql.NullString
		var pkg sql.NullInt64
		var periodEnd sql.NullTime
		if err := rows.Scan(&sub.ID, &sub.StripeSubscriptionID, &customer, &email, &pkg, &sub.Status,
			&periodEnd, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		sub.StripeCustomerID = scanNullStringValue(customer)
		sub.CustomerEmail = scanNullStringValue(email)
		sub.PackageID = scanNullInt64Ptr(pkg)
		sub.CurrentPeriodEnd = scanNullTime(periodEnd)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// --- Financial metrics ---

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GetFinancialSummary computes revenue and subscription metrics relative to now.
// Amounts are never added across currencies: ByCurrency holds one entry per
// currency and the top-level figures are those of the primary currency.
// ActiveSubscriptions at the top level counts every active subscription.
func (s *Store) GetFinancialSummary(ctx context.Context, now time.Time) (*domain.FinancialSummary, error) {
	thisMonth := monthStart(now)
	lastMonth := thisMonth.AddDate(0, -1, 0)

	totals := make(map[string]*domain.CurrencyTotals)
	entry := func(currency string) *domain.CurrencyTotals {
		t, ok := totals[currency]
		if !ok {
			t = &domain.CurrencyTotals{Currency: currency}
			totals[currency] = t
		}
		return t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			LOWER(currency),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN amount_cents END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? AND created_at < ? THEN amount_cents END), 0)
		FROM payments
		WHERE created_at >= ?
		GROUP BY LOWER(currency)
	`, formatTimestamp(thisMonth), formatTimestamp(lastMonth), formatTimestamp(thisMonth), formatTimestamp(lastMonth))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var currency string
		var thisRev, lastRev int64
		if err := rows.Scan(&currency, &thisRev, &lastRev); err != nil {
			return nil, err
		}
		t := entry(currency)
		t.RevenueThisMonth, t.RevenueLastMonth = thisRev, lastRev
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var summary domain.FinancialSummary

	// Yearly plans contribute a twelfth of their price to MRR. Subscriptions
	// without a known package are counted but add nothing.
	subRows, err := s.db.QueryContext(ctx, `
		SELECT
			LOWER(COALESCE(p.currency, '')),
			COUNT(*),
			COALESCE(SUM(CASE p.interval WHEN 'year' THEN p.price_cents / 12 ELSE p.price_cents END), 0)
		FROM subscriptions sub
		LEFT JOIN packages p ON p.id = sub.package_id
		WHERE sub.status = ?
		GROUP BY LOWER(COALESCE(p.currency, ''))
	`, domain.SubscriptionActive)
	if err != nil {
		return nil, err
	}
	defer subRows.Close()
	for subRows.Next() {
		var currency string
		var count int
		var mrr int64
		if err := subRows.Scan(&currency, &count, &mrr); err != nil {
			return nil, err
		}
		summary.ActiveSubscriptions += count
		if currency == "" {
			continue
		}
		t := entry(currency)
		t.ActiveSubscriptions, t.MRR = count, mrr
	}
	if err := subRows.Err(); err != nil {
		return nil, err
	}

	primary, err := s.primaryCurrency(ctx)
	if err != nil {
		return nil, err
	}
	if primary == "" {
		// No payments yet: use the currency with the most active subscriptions
		best := -1
		for _, t := range totals {
			if t.ActiveSubscriptions > best || (t.ActiveSubscriptions == best && t.Currency < primary) {
				primary, best = t.Currency, t.ActiveSubscriptions
			}
		}
	}

	summary.Currency = primary
	summary.ByCurrency = make([]domain.CurrencyTotals, 0, len(totals))
	for _, t := range totals {
		summary.ByCurrency = append(summary.ByCurrency, *t)
	}
	sort.Slice(summary.ByCurrency, func(i, j int) bool {
		return summary.ByCurrency[i].Currency < summary.ByCurrency[j].Currency
	})
	if t, ok := totals[primary]; ok {
		summary.RevenueThisMonth = t.RevenueThisMonth
		summary.RevenueLastMonth = t.RevenueLastMonth
		summary.MRR = t.MRR
	}
	return &summary, nil
}

// primaryCurrency is the currency of the most recent payment, lowercased
func (s *Store) primaryCurrency(ctx context.Context) (string, error) {
	var currency sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT LOWER(currency) FROM payments ORDER BY created_at DESC, id DESC LIMIT 1
	`).Scan(&currency)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}
	return scanNullStringValue(currency), nil
}

// GetRevenueByMonth returns one entry per month for the last n months, oldest first,
// counting only payments in currency. An empty currency means the primary one.
// Months without payments are included with zero revenue.
func (s *Store) GetRevenueByMonth(ctx context.Context, months int, currency string, now time.Time) ([]domain.MonthlyRevenue, error) {
	if months <= 0 || months > 36 {
		months = 12
	}
	first := monthStart(now).AddDate(0, -(months - 1), 0)

	currency = strings.ToLower(currency)
	if currency == "" {
		var err error
		if currency, err = s.primaryCurrency(ctx); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(created_at, 1, 7) AS month, SUM(amount_cents), COUNT(*)
		FROM payments
		WHERE created_at >= ? AND LOWER(currency) = ?
		GROUP BY month
	`, formatTimestamp(first), currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byMonth := make(map[string]domain.MonthlyRevenue)
	for rows.Next() {
		var m domain.MonthlyRevenue
		if err := rows.Scan(&m.Month, &m.AmountCents, &m.Payments); err != nil {
			return nil, err
		}
		byMonth[m.Month] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]domain.MonthlyRevenue, 0, months)
	for i := 0; i < months; i++ {
		key := first.AddDate(0, i, 0).Format("2006-01")
		m, ok := byMonth[key]
		if !ok {
			m = domain.MonthlyRevenue{Month: key}
		}
		result = append(result, m)
	}
	return result, nil
}
