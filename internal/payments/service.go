package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/events"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/storage"
)

// Store is the persistence the payment flow needs
type Store interface {
	GetPackage(ctx context.Context, id int64) (*domain.Package, error)
	RecordPayment(ctx context.Context, p *domain.Payment) (bool, error)
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) error
	EnsureSubscription(ctx context.Context, sub *domain.Subscription) error
	InsertAuditLog(ctx context.Context, l *domain.AuditLog) error
}

// Service ties checkout creation and webhook processing to the store
type Service struct {
	checkout      Checkout
	store         Store
	publisher     events.Publisher
	webhookSecret string
}

// NewService creates a payment service. checkout may be nil when Stripe is not configured.
func NewService(checkout Checkout, store Store, publisher events.Publisher, webhookSecret string) *Service {
	return &Service{checkout: checkout, store: store, publisher: publisher, webhookSecret: webhookSecret}
}

// CreateCheckout starts a Checkout for an active package
func (s *Service) CreateCheckout(ctx context.Context, packageID int64, req CheckoutRequest) (*CheckoutSession, error) {
	if s.checkout == nil {
		return nil, ErrNotConfigured
	}
	pkg, err := s.store.GetPackage(ctx, packageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPackageUnavailable
	}
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return nil, ErrPackageUnavailable
	}
	return s.checkout.CreateSession(ctx, pkg, req)
}

// HandleWebhook verifies a Stripe webhook delivery and applies it.
// Unhandled event types are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return ErrNotConfigured
	}
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("decoding checkout session: %w", err)
		}
		return s.checkoutCompleted(ctx, &cs)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decoding subscription: %w", err)
		}
		return s.subscriptionChanged(ctx, &sub)
	}

	zap.L().Debug("ignoring stripe event", zap.String("type", string(event.Type)))
	return nil
}

func (s *Service) checkoutCompleted(ctx context.Context, cs *stripe.CheckoutSession) error {
	packageID := packageIDFromMetadata(cs.Metadata)
	email := cs.CustomerEmail
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		email = cs.CustomerDetails.Email
	}

	payment := &domain.Payment{
		StripeSessionID: cs.ID,
		PackageID:       packageID,
		CustomerEmail:   email,
		AmountCents:     cs.AmountTotal,
		Currency:        strings.ToUpper(string(cs.Currency)),
	}
	inserted, err := s.store.RecordPayment(ctx, payment)
	if err != nil {
		return fmt.Errorf("recording payment: %w", err)
	}

	if cs.Mode == stripe.CheckoutSessionModeSubscription && cs.Subscription != nil {
		sub := &domain.Subscription{
			StripeSubscriptionID: cs.Subscription.ID,
			CustomerEmail:        email,
			PackageID:            packageID,
			Status:               domain.SubscriptionActive,
		}
		if cs.Customer != nil {
			sub.StripeCustomerID = cs.Customer.ID
		}
		if err := s.store.EnsureSubscription(ctx, sub); err != nil {
			return fmt.Errorf("recording subscription: %w", err)
		}
	}

	if !inserted {
		// redelivery of a session we already recorded
		return nil
	}

	var packageName string
	if packageID != nil {
		if pkg, err := s.store.GetPackage(ctx, *packageID); err == nil {
			packageName = pkg.Name
		}
	}

	if err := s.store.InsertAuditLog(ctx, &domain.AuditLog{
		ActorName:  "stripe",
		Action:     domain.AuditPaymentReceived,
		TargetType: "payment",
		TargetID:   strconv.FormatInt(payment.ID, 10),
		Severity:   domain.SeverityInfo,
		Details: map[string]any{
			"session_id": cs.ID,
			"amount":     payment.AmountCents,
			"currency":   payment.Currency,
			"package":    packageName,
		},
	}); err != nil {
		zap.L().Error("writing payment audit entry", zap.Error(err))
	}

	if s.publisher != nil {
		evt := domain.NewEvent(domain.EventPaymentReceived, domain.PaymentEvent{
			PackageName:   packageName,
			CustomerEmail: email,
			AmountCents:   payment.AmountCents,
			Currency:      payment.Currency,
		})
		if err := s.publisher.Publish(ctx, evt); err != nil {
			zap.L().Warn("publishing payment event", zap.Error(err))
		}
	}

	zap.L().Info("payment received",
		zap.String("session_id", cs.ID),
		zap.Int64("amount", payment.AmountCents),
		zap.String("currency", payment.Currency))
	return nil
}

func (s *Service) subscriptionChanged(ctx context.Context, sub *stripe.Subscription) error {
	record := &domain.Subscription{
		StripeSubscriptionID: sub.ID,
		PackageID:            packageIDFromMetadata(sub.Metadata),
		Status:               string(sub.Status),
	}
	if sub.Customer != nil {
		record.StripeCustomerID = sub.Customer.ID
		record.CustomerEmail = sub.Customer.Email
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		record.CurrentPeriodEnd = &end
	}
	if err := s.store.UpsertSubscription(ctx, record); err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}

	if err := s.store.InsertAuditLog(ctx, &domain.AuditLog{
		ActorName:  "stripe",
		Action:     domain.AuditSubscriptionChange,
		TargetType: "subscription",
		TargetID:   sub.ID,
		Severity:   domain.SeverityInfo,
		Details:    map[string]any{"status": record.Status},
	}); err != nil {
		zap.L().Error("writing subscription audit entry", zap.Error(err))
	}
	return nil
}

func packageIDFromMetadata(metadata map[string]string) *int64 {
	raw, ok := metadata[metadataPackageID]
	if !ok {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
