package domain

import "time"

// Package billing intervals; empty means a one-time purchase
const (
	IntervalOneTime = ""
	IntervalMonth   = "month"
	IntervalYear    = "year"
)

// Package is a purchasable item (priority queue, supporter tier, ...)
type Package struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	PriceCents    int64     `json:"price_cents"`
	Currency      string    `json:"currency"`
	StripePriceID string    `json:"stripe_price_id"`
	Interval      string    `json:"interval,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recurring reports whether the package is sold as a subscription
func (p Package) Recurring() bool {
	return p.Interval != IntervalOneTime
}

// Payment is a completed checkout
type Payment struct {
	ID              int64     `json:"id"`
	StripeSessionID string    `json:"stripe_session_id"`
	PackageID       *int64    `json:"package_id,omitempty"`
	CustomerEmail   string    `json:"customer_email,omitempty"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
}

// Subscription statuses mirror Stripe's
const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Subscription tracks a recurring Stripe subscription
type Subscription struct {
	ID                   int64      `json:"id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	CustomerEmail        string     `json:"customer_email,omitempty"`
	PackageID            *int64     `json:"package_id,omitempty"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// FinancialSummary feeds the revenue widgets. Money fields are in Currency.
type FinancialSummary struct {
	RevenueThisMonth    int64            `json:"revenue_this_month"`
	RevenueLastMonth    int64            `json:"revenue_last_month"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
	MRR                 int64            `json:"mrr"`
	Currency            string           `json:"currency"`
	ByCurrency          []CurrencyTotals `json:"by_currency"`
}

// CurrencyTotals are the summary figures for a single currency
type CurrencyTotals struct {
	Currency            string `json:"currency"`
	RevenueThisMonth    int64  `json:"revenue_this_month"`
	RevenueLastMonth    int64  `json:"revenue_last_month"`
	ActiveSubscriptions int    `json:"active_subscriptions"`
	MRR                 int64  `json:"mrr"`
}

// MonthlyRevenue is one bar of the revenue chart
type MonthlyRevenue struct {
	Month       string `json:"month"` // YYYY-MM
	AmountCents int64  `json:"amount_cents"`
	Payments    int    `json:"payments"`
}
