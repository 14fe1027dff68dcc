package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/payments"
)

const webhookSecret = "whsec_test"

func postWebhook(env *testEnv, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookRecordsPayment(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Payments = payments.NewService(nil, d.Store, d.Publisher, webhookSecret)
	})
	env.createStaff("finance", false, domain.PermPaymentsManage)
	token := env.login("finance")

	pkg := &domain.Package{Name: "VIP", PriceCents: 999, Currency: "EUR", Active: true}
	require.NoError(t, env.store.CreatePackage(context.Background(), pkg))

	rec := postWebhook(env, []byte(`{"id":"evt_1"}`), "t=1,v1=bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload := fmt.Sprintf(`{"id":"evt_2","object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":{
		"id":"cs_42","object":"checkout.session","mode":"payment","amount_total":999,"currency":"eur",
		"customer_details":{"email":"buyer@example.com"},"metadata":{"package_id":"%d"}}}}`,
		stripe.APIVersion, pkg.ID)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	rec = postWebhook(env, signed.Payload, signed.Header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/payments", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]domain.Payment](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, int64(999), list[0].AmountCents)
	assert.Equal(t, "buyer@example.com", list[0].CustomerEmail)
	assert.Contains(t, env.pub.types(), domain.EventPaymentReceived)
}

func TestPaymentsNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	rec := postWebhook(env, []byte(`{}`), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodPost, "/api/public/checkout", CheckoutBody{PackageID: 1}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodPost, "/api/public/checkout", CheckoutBody{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPackageCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.createStaff("finance", false, domain.PermPaymentsManage)
	token := env.login("finance")

	rec := env.do(http.MethodPost, "/api/packages", domain.Package{Name: "Free lunch"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/packages", domain.Package{
		Name: "Gold", PriceCents: 1500, Currency: "USD", Interval: domain.IntervalMonth,
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.Package](t, rec)
	assert.True(t, created.Active)

	rec = env.do(http.MethodGet, "/api/public/packages", nil, "")
	assert.Len(t, decodeBody[[]domain.Package](t, rec), 1)

	rec = env.do(http.MethodDelete, "/api/packages/"+itoa(created.ID), nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/api/public/packages", nil, "")
	assert.Empty(t, decodeBody[[]domain.Package](t, rec))

	rec = env.do(http.MethodGet, "/api/subscriptions?status=bogus", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
