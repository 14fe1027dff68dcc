// Package payments sells store packages through Stripe Checkout and keeps
// payments and subscriptions in sync from Stripe webhooks.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/config"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

var (
	ErrNotConfigured      = errors.New("payments not configured")
	ErrPackageUnavailable = errors.New("package is not available")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)

// metadataPackageID carries the package through Checkout into webhooks
const metadataPackageID = "package_id"

// CheckoutRequest is what a buyer supplies
type CheckoutRequest struct {
	CustomerEmail string `json:"customer_email"`
}

// CheckoutSession is a created Checkout page
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Checkout creates hosted payment pages
type Checkout interface {
	CreateSession(ctx context.Context, pkg *domain.Package, req CheckoutRequest) (*CheckoutSession, error)
}

// StripeCheckout creates Stripe Checkout Sessions
type StripeCheckout struct {
	api        *client.API
	successURL string
	cancelURL  string
}

// NewStripeCheckout creates a Checkout backed by the Stripe API.
// backends may be nil to use Stripe's default endpoints.
func NewStripeCheckout(cfg config.StripeConfig, backends *stripe.Backends) (*StripeCheckout, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &StripeCheckout{api: api, successURL: cfg.SuccessURL, cancelURL: cfg.CancelURL}, nil
}

// CreateSession creates a subscription or one-time payment session for a package.
// Packages without a Stripe price are priced inline.
func (c *StripeCheckout) CreateSession(ctx context.Context, pkg *domain.Package, req CheckoutRequest) (*CheckoutSession, error) {
	lineItem := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if pkg.StripePriceID != "" {
		lineItem.Price = stripe.String(pkg.StripePriceID)
	} else {
		lineItem.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(pkg.Currency)),
			UnitAmount: stripe.Int64(pkg.PriceCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(pkg.Name),
			},
		}
		if pkg.Recurring() {
			lineItem.PriceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String(pkg.Interval),
			}
		}
	}

	packageID := strconv.FormatInt(pkg.ID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{lineItem},
	}
	if pkg.Recurring() {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataPackageID: packageID},
		}
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata(metadataPackageID, packageID)
	params.Context = ctx

	cs, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}
	return &CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}
