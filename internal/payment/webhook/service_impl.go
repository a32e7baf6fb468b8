package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/smallbiznis/contextswitch/internal/billingsync"
	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
	"github.com/smallbiznis/contextswitch/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Applier reconciles a normalized event.
type Applier interface {
	Apply(ctx context.Context, event eventdomain.Event) (billingsync.Result, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Sync     *billingsync.Service
	Adapters *adapters.Registry
}

type Service struct {
	log      *zap.Logger
	sync     Applier
	adapters *adapters.Registry
}

func NewService(p Params) paymentdomain.Service {
	return New(p.Log, p.Sync, p.Adapters)
}

func New(log *zap.Logger, sync Applier, registry *adapters.Registry) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log.Named("payment.webhook"), sync: sync, adapters: registry}
}

// IngestWebhook authenticates the raw body before reading any of it, then
// hands the normalized event to billing sync.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidProvider
	}

	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		return paymentdomain.IngestResult{}, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.log.Warn("webhook payload rejected", zap.String("provider", provider), zap.Error(err))
		return paymentdomain.IngestResult{}, err
	}
	event.Provider = provider

	res, err := s.sync.Apply(ctx, *event)
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}
	return paymentdomain.IngestResult{
		EventID:   event.ID,
		EventType: event.RawType,
		Outcome:   res.Outcome,
	}, nil
}
