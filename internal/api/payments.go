package api

import (
	"errors"
	"io"
	"net/http"
	"net/mail"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/payments"
)

// maxWebhookBytes matches the size Stripe documents for event payloads
const maxWebhookBytes = 64 << 10

func (r *Router) handlePublicPackages(w http.ResponseWriter, req *http.Request) {
	packages, err := r.store.ListPackages(req.Context(), true)
	if err != nil {
		writeFailure(w, req, err, "packages")
		return
	}
	if packages == nil {
		packages = []domain.Package{}
	}
	writeJSON(w, http.StatusOK, packages)
}

// CheckoutBody starts a purchase of one package
type CheckoutBody struct {
	PackageID     int64  `json:"package_id"`
	CustomerEmail string `json:"customer_email"`
}

// handleCheckout creates a Stripe Checkout session and returns its URL
func (r *Router) handleCheckout(w http.ResponseWriter, req *http.Request) {
	var body CheckoutBody
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.PackageID <= 0 {
		writeError(w, http.StatusBadRequest, "package_id is required")
		return
	}
	if body.CustomerEmail != "" {
		if _, err := mail.ParseAddress(body.CustomerEmail); err != nil {
			writeError(w, http.StatusBadRequest, "customer_email is invalid")
			return
		}
	}
	if r.payments == nil {
		writeError(w, http.StatusServiceUnavailable, payments.ErrNotConfigured.Error())
		return
	}

	session, err := r.payments.CreateCheckout(req.Context(), body.PackageID,
		payments.CheckoutRequest{CustomerEmail: body.CustomerEmail})
	switch {
	case errors.Is(err, payments.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, payments.ErrPackageUnavailable):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		zap.L().Error("creating checkout", zap.Int64("package_id", body.PackageID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "checkout is unavailable right now")
	default:
		writeJSON(w, http.StatusOK, session)
	}
}

// handleStripeWebhook verifies and applies a Stripe event
func (r *Router) handleStripeWebhook(w http.ResponseWriter, req *http.Request) {
	if r.payments == nil {
		writeError(w, http.StatusServiceUnavailable, payments.ErrNotConfigured.Error())
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	err = r.payments.HandleWebhook(req.Context(), payload, req.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		zap.L().Warn("rejected stripe webhook", zap.String("ip", r.clientIP(req)), zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, payments.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		zap.L().Error("handling stripe webhook", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func (r *Router) handleListPackages(w http.ResponseWriter, req *http.Request) {
	packages, err := r.store.ListPackages(req.Context(), false)
	if err != nil {
		writeFailure(w, req, err, "packages")
		return
	}
	if packages == nil {
		packages = []domain.Package{}
	}
	writeJSON(w, http.StatusOK, packages)
}

func (r *Router) handleCreatePackage(w http.ResponseWriter, req *http.Request) {
	p := domain.Package{Active: true}
	if !decodeJSON(w, req, &p) {
		return
	}
	if err := validatePackage(&p); err != nil {
		writeFailure(w, req, err, "package")
		return
	}
	if err := r.store.CreatePackage(req.Context(), &p); err != nil {
		writeFailure(w, req, err, "package")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (r *Router) handleUpdatePackage(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "package")
	if !ok {
		return
	}
	var p domain.Package
	if !decodeJSON(w, req, &p) {
		return
	}
	p.ID = id
	if err := validatePackage(&p); err != nil {
		writeFailure(w, req, err, "package")
		return
	}
	if err := r.store.UpdatePackage(req.Context(), &p); err != nil {
		writeFailure(w, req, err, "package")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (r *Router) handleDeletePackage(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "package")
	if !ok {
		return
	}
	if err := r.store.DeletePackage(req.Context(), id); err != nil {
		writeFailure(w, req, err, "package")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "package deactivated"})
}

func (r *Router) handleListPayments(w http.ResponseWriter, req *http.Request) {
	list, err := r.store.ListPayments(req.Context(), parseLimit(req, 50, 500))
	if err != nil {
		writeFailure(w, req, err, "payments")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleListSubscriptions lists subscriptions, optionally by status
func (r *Router) handleListSubscriptions(w http.ResponseWriter, req *http.Request) {
	status := req.URL.Query().Get("status")
	switch status {
	case "", domain.SubscriptionActive, domain.SubscriptionPastDue, domain.SubscriptionCanceled:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	subs, err := r.store.ListSubscriptions(req.Context(), status)
	if err != nil {
		writeFailure(w, req, err, "subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}
