package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"github.com/smallbiznis/contextswitch/internal/billingsync"
	"github.com/smallbiznis/contextswitch/internal/payment/adapters"
	"github.com/smallbiznis/contextswitch/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	events []eventdomain.Event
	result billingsync.Result
	err    error
}

func (f *fakeApplier) Apply(_ context.Context, event eventdomain.Event) (billingsync.Result, error) {
	f.events = append(f.events, event)
	return f.result, f.err
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(applier Applier) *Service {
	registry := adapters.NewRegistry([]paymentdomain.AdapterConfig{{
		Provider: "Stripe",
		Config:   map[string]any{"webhook_secret": "whsec_test"},
		Now:      func() time.Time { return testNow },
	}}, stripe.NewFactory())
	return New(nil, applier, registry)
}

func signedHeaders(secret string, payload []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", testNow.Unix(), payload)))
	headers := http.Header{}
	headers.Set(stripe.SignatureHeader, fmt.Sprintf("t=%d,v1=%s", testNow.Unix(), hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func TestIngestWebhookAppliesVerifiedEvent(t *testing.T) {
	applier := &fakeApplier{result: billingsync.Result{Outcome: eventdomain.OutcomeApplied}}
	svc := newTestService(applier)
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"customer":"cus_1"}}}`)

	res, err := svc.IngestWebhook(context.Background(), "stripe", payload, signedHeaders("whsec_test", payload))
	require.NoError(t, err)
	assert.Equal(t, eventdomain.OutcomeApplied, res.Outcome)
	assert.Equal(t, "evt_1", res.EventID)
	assert.Equal(t, "invoice.paid", res.EventType)
	require.Len(t, applier.events, 1)
	assert.Equal(t, eventdomain.KindInvoicePaid, applier.events[0].Kind)
	assert.Equal(t, "cus_1", applier.events[0].Ref.CustomerRef)
}

func TestIngestWebhookRejectsBadSignatureBeforeParsing(t *testing.T) {
	applier := &fakeApplier{}
	svc := newTestService(applier)
	// not even JSON: verification must fail first
	payload := []byte(`garbage`)

	_, err := svc.IngestWebhook(context.Background(), "stripe", payload, signedHeaders("whsec_other", payload))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Empty(t, applier.events)
}

func TestIngestWebhookRejectsMalformedVerifiedBody(t *testing.T) {
	applier := &fakeApplier{}
	svc := newTestService(applier)
	payload := []byte(`{"type":`)

	_, err := svc.IngestWebhook(context.Background(), "stripe", payload, signedHeaders("whsec_test", payload))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
	assert.Empty(t, applier.events)
}

func TestIngestWebhookUnknownProvider(t *testing.T) {
	svc := newTestService(&fakeApplier{})

	_, err := svc.IngestWebhook(context.Background(), "paddle", []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	_, err = svc.IngestWebhook(context.Background(), " ", []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidProvider)
}

func TestIngestWebhookPropagatesSyncErrors(t *testing.T) {
	boom := fmt.Errorf("db down")
	svc := newTestService(&fakeApplier{err: boom})
	payload := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`)

	_, err := svc.IngestWebhook(context.Background(), "stripe", payload, signedHeaders("whsec_test", payload))
	require.ErrorIs(t, err, boom)
}
