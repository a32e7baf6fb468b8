package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	artifactdomain "github.com/smallbiznis/contextswitch/internal/artifact/domain"
	artifactrepo "github.com/smallbiznis/contextswitch/internal/artifact/repository"
	artifactsvc "github.com/smallbiznis/contextswitch/internal/artifact/service"
	authsvc "github.com/smallbiznis/contextswitch/internal/auth/service"
	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"github.com/smallbiznis/contextswitch/internal/clock"
	compressiondomain "github.com/smallbiznis/contextswitch/internal/compression/domain"
	compressionsvc "github.com/smallbiznis/contextswitch/internal/compression/service"
	"github.com/smallbiznis/contextswitch/internal/config"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/contextswitch/internal/entitlement/repository"
	entitlementsvc "github.com/smallbiznis/contextswitch/internal/entitlement/service"
	gate "github.com/smallbiznis/contextswitch/internal/metering/service"
	"github.com/smallbiznis/contextswitch/internal/observability"
	"github.com/smallbiznis/contextswitch/internal/payment/adapters/stripe"
	"github.com/smallbiznis/contextswitch/internal/payment/checkout"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
	"github.com/smallbiznis/contextswitch/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret     = "test-jwt-secret"
	testAdminToken = "test-admin-token"
)

type fakePayments struct {
	result paymentdomain.IngestResult
	err    error

	provider string
	payload  []byte
}

func (f *fakePayments) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	f.provider = provider
	f.payload = payload
	return f.result, f.err
}

type stubCompressor struct {
	output string
	err    error
}

func (s stubCompressor) Compress(ctx context.Context, projectName, conversation string) (string, error) {
	return s.output, s.err
}

// fakeStripe answers the customer and session endpoints the checkout flow
// calls and records each form it receives.
type fakeStripe struct {
	mu    sync.Mutex
	calls map[string][]url.Values
}

func newFakeStripe(t *testing.T) (*fakeStripe, *httptest.Server) {
	t.Helper()
	fake := &fakeStripe{calls: map[string][]url.Values{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fake.mu.Lock()
		fake.calls[r.URL.Path] = append(fake.calls[r.URL.Path], r.PostForm)
		fake.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers":
			_, _ = w.Write([]byte(`{"id":"cus_test"}`))
		case "/v1/checkout/sessions":
			_, _ = w.Write([]byte(`{"id":"cs_test","url":"https://checkout.stripe.test/cs_test"}`))
		case "/v1/billing_portal/sessions":
			_, _ = w.Write([]byte(`{"id":"bps_test","url":"https://billing.stripe.test/session"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"unknown path"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return fake, srv
}

func (f *fakeStripe) forms(path string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.calls[path]...)
}

type testServer struct {
	server   *Server
	store    entitlementdomain.Store
	payments *fakePayments
	stripe   *fakeStripe
	clock    *clock.FakeClock
	node     *snowflake.Node
	verifier *authsvc.Service
}

func newTestServer(t *testing.T, compressor stubCompressor) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := testsupport.OpenSQLite(t, &entitlementdomain.Account{}, &artifactdomain.Artifact{})
	clk := clock.NewFakeClock(time.Date(2026, 5, 12, 8, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	store := entitlementrepo.New(conn, clk, entitlementrepo.DefaultOptions())
	entitlements := entitlementsvc.NewService(entitlementsvc.ServiceParam{Store: store, Log: zap.NewNop(), GenID: node, Clock: clk})
	artifacts := artifactsvc.New(artifactrepo.Provide(conn), nil, zap.NewNop(), node, clk, 5)
	compression := compressionsvc.New(entitlements, artifacts, gate.New(store, clk, zap.NewNop(), nil), compressor, nil, nil, zap.NewNop())
	verifier := authsvc.NewWithSecret(testSecret, "contextswitch-test", testAdminToken, clk)
	payments := &fakePayments{}

	cfg := config.Config{Environment: "test", Billing: config.BillingConfig{FrontendURL: "https://app.test"}}
	catalog := config.DefaultCatalog()
	catalog.Plans[0].Monthly.PriceID = "price_pro_m"
	catalog.Plans[1].Monthly.PriceID = "price_ent_m"
	catalogHolder := config.NewStaticCatalogHolder(catalog)

	fake, stripeSrv := newFakeStripe(t)
	checkouts := checkout.NewService(checkout.Params{
		Cfg:          cfg,
		Log:          zap.NewNop(),
		Entitlements: entitlements,
		Catalog:      catalogHolder,
		API:          stripe.NewAPIClient(stripeSrv.URL, "sk_test", stripeSrv.Client()),
	})

	engine := NewEngine(observability.Config{Environment: "test"}, nil)
	srv := NewServer(ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		Log:          zap.NewNop(),
		Verifier:     verifier,
		Entitlements: entitlements,
		Artifacts:    artifacts,
		Compression:  compression,
		Payments:     payments,
		Checkout:     checkouts,
		Catalog:      catalogHolder,
	})

	return &testServer{server: srv, store: store, payments: payments, stripe: fake, clock: clk, node: node, verifier: verifier}
}

func (ts *testServer) seed(t *testing.T, mutate func(*entitlementdomain.Account)) (entitlementdomain.Account, string) {
	t.Helper()
	account := entitlementdomain.NewFreeAccount(ts.node.Generate(), "user@example.com", "Ada", ts.clock.Now())
	if mutate != nil {
		mutate(&account)
	}
	require.NoError(t, ts.store.Create(context.Background(), &account))
	token, err := ts.verifier.Issue(account.ID, account.Email, time.Hour)
	require.NoError(t, err)
	return account, token
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	return rec
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return payload["type"].(string)
}

func compressBody() map[string]any {
	return map[string]any{
		"projectName": "Checkout",
		"platform":    "chatgpt",
		"messages": []map[string]string{
			{"role": "user", "content": "Design the subscription webhook handler and keep it idempotent."},
			{"role": "assistant", "content": "Record processed event ids inside the same transaction as the update."},
		},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	rec := ts.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompressRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t, stubCompressor{output: "summary"})

	rec := ts.do(http.MethodPost, "/api/compress", compressBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(t, rec))

	rec = ts.do(http.MethodPost, "/api/compress", compressBody(), bearer("not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCompressReturnsResultAndUsage(t *testing.T) {
	ts := newTestServer(t, stubCompressor{output: "PROJECT_CONTEXT: idempotent webhooks"})
	account, token := ts.seed(t, nil)

	rec := ts.do(http.MethodPost, "/api/compress", compressBody(), bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "PROJECT_CONTEXT: idempotent webhooks", data["compressed_context"])
	usage := data["usage"].(map[string]any)
	assert.EqualValues(t, 1, usage["used"])
	assert.EqualValues(t, 49, usage["remaining"])

	stored, err := ts.store.Get(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.MonthlyUsage)
}

func TestCompressQuotaExceededReturns402WithUsage(t *testing.T) {
	ts := newTestServer(t, stubCompressor{output: "never"})
	_, token := ts.seed(t, func(a *entitlementdomain.Account) { a.MonthlyUsage = 50 })

	rec := ts.do(http.MethodPost, "/api/compress", compressBody(), bearer(token))
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "quota_exceeded", body["error"].(map[string]any)["type"])
	usage := body["usage"].(map[string]any)
	assert.EqualValues(t, 50, usage["used"])
	assert.EqualValues(t, 50, usage["limit"])
}

func TestCompressRejectsEmptyMessages(t *testing.T) {
	ts := newTestServer(t, stubCompressor{output: "summary"})
	_, token := ts.seed(t, nil)

	rec := ts.do(http.MethodPost, "/api/compress", map[string]any{"messages": []any{}}, bearer(token))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "validation_error", payload["type"])
	errs := payload["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "messages", errs[0].(map[string]any)["field"])
}

func TestCompressorFailureMapsToBadGateway(t *testing.T) {
	ts := newTestServer(t, stubCompressor{err: fmt.Errorf("%w: upstream status 500", compressiondomain.ErrCompressorUnavailable)})
	account, token := ts.seed(t, nil)

	rec := ts.do(http.MethodPost, "/api/compress", compressBody(), bearer(token))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "compressor_unavailable", errorType(t, rec))

	stored, err := ts.store.Get(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.MonthlyUsage)
}

func TestSaveContextThenHistory(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	_, token := ts.seed(t, nil)

	for i := 0; i < 3; i++ {
		rec := ts.do(http.MethodPost, "/api/compress/save", map[string]any{
			"projectName":    "Billing",
			"platform":       "claude",
			"messageCount":   4,
			"characterCount": 800,
		}, bearer(token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		ts.clock.Advance(time.Minute)
	}

	rec := ts.do(http.MethodGet, "/api/user/history?page=1&limit=2", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Len(t, body["data"].([]any), 2)
	pageInfo := body["page_info"].(map[string]any)
	assert.EqualValues(t, 3, pageInfo["total"])
	assert.EqualValues(t, 2, pageInfo["pages"])
}

func TestSaveContextEnforcesArtifactLimit(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	_, token := ts.seed(t, func(a *entitlementdomain.Account) { a.MaxStoredArtifacts = 1 })

	body := map[string]any{"projectName": "Billing", "characterCount": 10}
	rec := ts.do(http.MethodPost, "/api/compress/save", body, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/compress/save", body, bearer(token))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "artifact_limit_reached", errorType(t, rec))
}

func TestEntitlementAndProfile(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	account, token := ts.seed(t, func(a *entitlementdomain.Account) {
		a.ApplyPlan(entitlementdomain.PlanPro)
		a.Status = entitlementdomain.StatusActive
		a.MonthlyUsage = 120
	})

	rec := ts.do(http.MethodGet, "/api/user/entitlement", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "pro", view["plan"])
	assert.EqualValues(t, 380, view["remaining_usage"])

	rec = ts.do(http.MethodGet, "/api/user/profile", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, account.ID.String(), data["user"].(map[string]any)["id"])
	assert.Contains(t, data, "context_stats")
	assert.Contains(t, data, "recent_activity")
}

func TestEntitlementUnknownAccount(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	token, err := ts.verifier.Issue(ts.node.Generate(), "ghost@example.com", time.Hour)
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/user/entitlement", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookPassesRawBody(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	ts.payments.result = paymentdomain.IngestResult{EventID: "evt_1", EventType: "checkout.session.completed", Outcome: eventdomain.OutcomeApplied}

	raw := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	rec := ts.do(http.MethodPost, "/api/billing/webhooks/stripe", raw, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "stripe", ts.payments.provider)
	assert.Equal(t, raw, ts.payments.payload)
	assert.Equal(t, "applied", decode(t, rec)["outcome"])
}

func TestWebhookErrors(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})

	ts.payments.err = paymentdomain.ErrInvalidSignature
	rec := ts.do(http.MethodPost, "/api/billing/webhooks/stripe", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", errorType(t, rec))

	ts.payments.err = paymentdomain.ErrProviderNotFound
	rec = ts.do(http.MethodPost, "/api/billing/webhooks/paddle", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.payments.err = entitlementdomain.ErrConflictRetryExhausted
	rec = ts.do(http.MethodPost, "/api/billing/webhooks/stripe", []byte(`{}`), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListPlansIncludesLimits(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})

	rec := ts.do(http.MethodGet, "/api/billing/plans", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	plans := decode(t, rec)["data"].([]any)
	require.Len(t, plans, 3)
	codes := make([]string, 0, len(plans))
	for _, p := range plans {
		codes = append(codes, p.(map[string]any)["code"].(string))
	}
	assert.Equal(t, []string{"free", "pro", "enterprise"}, codes)

	enterprise := plans[2].(map[string]any)["limits"].(map[string]any)
	assert.EqualValues(t, entitlementdomain.Unlimited, enterprise["max_usage_per_month"])
}

func TestContactValidation(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})

	rec := ts.do(http.MethodPost, "/api/contact", map[string]string{"name": "Ada"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)["error"].(map[string]any)["errors"].([]any)
	assert.Len(t, errs, 2)

	rec = ts.do(http.MethodPost, "/api/contact", map[string]string{
		"name":    "Ada",
		"email":   "ada@example.com",
		"message": "Do you offer team plans?",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/contact/subscription", map[string]string{
		"name":  "Ada",
		"email": "not-an-email",
		"plan":  "pro",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAccountRequiresAdmin(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	body := map[string]string{"email": "new@example.com", "name": "New"}

	rec := ts.do(http.MethodPost, "/internal/accounts", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/internal/accounts", body, map[string]string{HeaderAdminToken: testAdminToken})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decode(t, rec)["data"].(map[string]any)
	token := data["access_token"].(string)
	principal, err := ts.verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", principal.Email)

	rec = ts.do(http.MethodGet, "/api/user/entitlement", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "free", decode(t, rec)["data"].(map[string]any)["plan"])

	rec = ts.do(http.MethodPost, "/internal/accounts", body, bearer(testAdminToken))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})

	req := httptest.NewRequest(http.MethodOptions, "/api/compress", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	rec := ts.do(http.MethodGet, "/api/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(t, rec))
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	raw := bytes.Repeat([]byte("a"), maxWebhookBody+1)

	rec := ts.do(http.MethodPost, "/api/billing/webhooks/stripe", raw, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", errorType(t, rec))
	assert.Empty(t, ts.payments.provider, "oversized body must not reach the adapter")
}

func TestCheckoutSessionStampsAccountMetadata(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	account, token := ts.seed(t, nil)

	rec := ts.do(http.MethodPost, "/api/billing/checkout-session", map[string]string{"price_id": "price_ent_m"}, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "cs_test", data["session_id"])
	assert.Equal(t, "https://checkout.stripe.test/cs_test", data["url"])

	customers := ts.stripe.forms("/v1/customers")
	require.Len(t, customers, 1)
	assert.Equal(t, "user@example.com", customers[0].Get("email"))

	sessions := ts.stripe.forms("/v1/checkout/sessions")
	require.Len(t, sessions, 1)
	form := sessions[0]
	assert.Equal(t, "cus_test", form.Get("customer"))
	assert.Equal(t, "price_ent_m", form.Get("line_items[0][price]"))
	assert.Equal(t, account.ID.String(), form.Get("subscription_data[metadata][account_id]"))
	assert.Equal(t, "enterprise", form.Get("metadata[planType]"))
	assert.True(t, strings.HasPrefix(form.Get("success_url"), "https://app.test/profile"))

	stored, err := ts.store.Get(context.Background(), account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.BillingCustomerRef)
	assert.Equal(t, "cus_test", *stored.BillingCustomerRef)
	assert.Equal(t, entitlementdomain.PlanFree, stored.Plan)
}

func TestCheckoutSessionValidation(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	_, token := ts.seed(t, nil)

	rec := ts.do(http.MethodPost, "/api/billing/checkout-session", map[string]string{}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))

	rec = ts.do(http.MethodPost, "/api/billing/checkout-session", map[string]string{"price_id": "price_unknown"}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))
	assert.Empty(t, ts.stripe.forms("/v1/checkout/sessions"))

	rec = ts.do(http.MethodPost, "/api/billing/checkout-session", map[string]string{"price_id": "price_pro_m"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPortalSessionRequiresCustomer(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	_, token := ts.seed(t, nil)

	rec := ts.do(http.MethodPost, "/api/billing/portal-session", nil, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_subscription", errorType(t, rec))

	ref := "cus_existing"
	_, paidToken := ts.seed(t, func(a *entitlementdomain.Account) {
		a.Email = "paid@example.com"
		a.BillingCustomerRef = &ref
	})
	rec = ts.do(http.MethodPost, "/api/billing/portal-session", nil, bearer(paidToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://billing.stripe.test/session", decode(t, rec)["data"].(map[string]any)["url"])

	portals := ts.stripe.forms("/v1/billing_portal/sessions")
	require.Len(t, portals, 1)
	assert.Equal(t, "cus_existing", portals[0].Get("customer"))
	assert.Equal(t, "https://app.test/profile", portals[0].Get("return_url"))
}

func TestSubscriptionStatus(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	periodEnd := ts.clock.Now().Add(30 * 24 * time.Hour)
	_, token := ts.seed(t, func(a *entitlementdomain.Account) {
		a.ApplyPlan(entitlementdomain.PlanPro)
		a.Status = entitlementdomain.StatusActive
		a.BillingPeriodEnd = &periodEnd
	})

	rec := ts.do(http.MethodGet, "/api/billing/subscription", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	sub := data["subscription"].(map[string]any)
	assert.Equal(t, "pro", sub["plan"])
	assert.Equal(t, "active", sub["status"])
	assert.Equal(t, false, sub["manageable"])
	assert.NotEmpty(t, sub["period_end"])
	assert.Contains(t, data, "entitlement")
}

func TestUpdateProfileName(t *testing.T) {
	ts := newTestServer(t, stubCompressor{})
	account, token := ts.seed(t, nil)

	rec := ts.do(http.MethodPut, "/api/user/profile", map[string]string{"name": "Grace"}, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode(t, rec)["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "Grace", user["name"])
	assert.Equal(t, account.ID.String(), user["id"])

	rec = ts.do(http.MethodPut, "/api/user/profile", map[string]string{"name": strings.Repeat("x", 300)}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))
}
