package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
)

const (
	ProviderName     = "stripe"
	SignatureHeader  = "Stripe-Signature"
	DefaultTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.WebhookAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{webhookSecret: secret, tolerance: tolerance, now: now}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

// Verify checks the v1 HMAC-SHA256 over "timestamp.payload" and rejects
// timestamps outside the tolerance window.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := a.now().Sub(time.Unix(unix, 0))
	if age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Parse normalizes a verified payload. Types outside the handled set come
// back as KindUnknown so they are acknowledged without side effects.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*eventdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &eventdomain.Event{
		ID:         event.ID,
		Provider:   ProviderName,
		Kind:       eventdomain.KindUnknown,
		RawType:    strings.TrimSpace(event.Type),
		OccurredAt: timestamp(event.Created, a.now),
		Raw:        payload,
	}

	var err error
	switch out.RawType {
	case "checkout.session.completed":
		err = parseCheckoutSession(event, out)
	case "customer.subscription.created", "customer.subscription.updated":
		out.Kind = eventdomain.KindSubscriptionUpdated
		err = parseSubscription(event, out)
	case "customer.subscription.deleted":
		out.Kind = eventdomain.KindSubscriptionDeleted
		err = parseSubscription(event, out)
	case "invoice.paid":
		out.Kind = eventdomain.KindInvoicePaid
		err = parseInvoice(event, out)
	case "invoice.payment_failed":
		out.Kind = eventdomain.KindPaymentFailed
		err = parseInvoice(event, out)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID            string         `json:"id"`
	Customer      stripeRef      `json:"customer"`
	Subscription  stripeRef      `json:"subscription"`
	CustomerEmail string         `json:"customer_email"`
	Metadata      map[string]any `json:"metadata"`
}

type stripeSubscription struct {
	ID               string         `json:"id"`
	Customer         stripeRef      `json:"customer"`
	Status           string         `json:"status"`
	CurrentPeriodEnd int64          `json:"current_period_end"`
	Metadata         map[string]any `json:"metadata"`
}

type stripeInvoice struct {
	ID            string         `json:"id"`
	Customer      stripeRef      `json:"customer"`
	Subscription  stripeRef      `json:"subscription"`
	CustomerEmail string         `json:"customer_email"`
	Metadata      map[string]any `json:"metadata"`
}

// stripeRef accepts either an id string or an expanded object with an id.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = stripeRef(strings.TrimSpace(id))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = stripeRef(strings.TrimSpace(obj.ID))
	return nil
}

func parseCheckoutSession(event stripeEvent, out *eventdomain.Event) error {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	out.Kind = eventdomain.KindCheckoutCompleted
	out.Ref = eventdomain.AccountRef{
		AccountID:       metadataAccountID(session.Metadata),
		CustomerRef:     string(session.Customer),
		SubscriptionRef: string(session.Subscription),
	}
	out.TargetPlan = firstMetadata(session.Metadata, "planType", "plan")
	out.CustomerEmail = strings.TrimSpace(session.CustomerEmail)
	return nil
}

func parseSubscription(event stripeEvent, out *eventdomain.Event) error {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	out.Ref = eventdomain.AccountRef{
		AccountID:       metadataAccountID(sub.Metadata),
		CustomerRef:     string(sub.Customer),
		SubscriptionRef: strings.TrimSpace(sub.ID),
	}
	out.ExternalStatus = strings.TrimSpace(sub.Status)
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	return nil
}

func parseInvoice(event stripeEvent, out *eventdomain.Event) error {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	out.Ref = eventdomain.AccountRef{
		AccountID:       metadataAccountID(invoice.Metadata),
		CustomerRef:     string(invoice.Customer),
		SubscriptionRef: string(invoice.Subscription),
	}
	out.CustomerEmail = strings.TrimSpace(invoice.CustomerEmail)
	return nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "t":
			timestamp = strings.TrimSpace(keyValue[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(keyValue[1]))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(created int64, now func() time.Time) time.Time {
	if created == 0 {
		return now().UTC()
	}
	return time.Unix(created, 0).UTC()
}

// metadataAccountID reads the account id checkout stamped on the session.
// Malformed ids are dropped so resolution can fall back to provider refs.
func metadataAccountID(metadata map[string]any) *snowflake.ID {
	raw := firstMetadata(metadata, "account_id", "userId")
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func firstMetadata(metadata map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := readMetadataValue(metadata, key); value != "" {
			return value
		}
	}
	return ""
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
