// Package notification delivers user and operator messages off the request
// path. Delivery is best effort: failures are logged and never surface to
// the caller.
package notification

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/contextswitch/internal/config"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/providers/email"
	"github.com/smallbiznis/contextswitch/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 15 * time.Second
)

type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type SubscriptionInterest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Plan         string `json:"plan"`
	BillingCycle string `json:"billing_cycle"`
	Message      string `json:"message"`
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

type Notifier struct {
	email               email.Provider
	slack               slack.Provider
	log                 *zap.Logger
	inbox               string
	opsTo               string
	notifyPaymentFailed bool

	queue   chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Config    config.Config
	Email     email.Provider
	Slack     slack.Provider `optional:"true"`
	Log       *zap.Logger
}

func NewFromParams(p Params) *Notifier {
	n := New(p.Config, p.Email, p.Slack, p.Log)
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				n.Close(ctx)
				return nil
			},
		})
	}
	return n
}

// New starts a single delivery worker.
func New(cfg config.Config, mailer email.Provider, chat slack.Provider, log *zap.Logger) *Notifier {
	if mailer == nil {
		mailer = &email.NoOpProvider{}
	}
	if chat == nil {
		chat = &slack.NoOpProvider{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := &Notifier{
		email:               mailer,
		slack:               chat,
		log:                 log.Named("notification"),
		inbox:               strings.TrimSpace(cfg.Email.InboxAddress),
		opsTo:               strings.TrimSpace(cfg.Billing.NotifyBillingEventsTo),
		notifyPaymentFailed: cfg.Billing.NotifyPaymentFailed,
		queue:               make(chan job, defaultQueueSize),
		timeout:             defaultSendTimeout,
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for j := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := j.run(ctx); err != nil {
			n.log.Warn("notification failed", zap.String("notification", j.name), zap.Error(err))
		}
		cancel()
	}
}

func (n *Notifier) enqueue(name string, run func(ctx context.Context) error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.log.Debug("notifier closed, dropping", zap.String("notification", name))
		return
	}
	select {
	case n.queue <- job{name: name, run: run}:
	default:
		n.log.Warn("notification queue full, dropping", zap.String("notification", name))
	}
}

// Close stops accepting work and waits for queued deliveries or ctx.
func (n *Notifier) Close(ctx context.Context) {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (n *Notifier) PaymentFailed(account domain.Account) {
	if !n.notifyPaymentFailed {
		return
	}
	data := accountData(account)
	n.enqueue(email.TemplatePaymentFailed, func(ctx context.Context) error {
		if account.Email != "" {
			if err := n.email.SendTemplate(ctx, []string{account.Email}, email.TemplatePaymentFailed, data); err != nil {
				return err
			}
		}
		return n.alertOps(ctx, "payment failed for account "+account.ID.String()+" ("+string(account.Plan)+")")
	})
}

func (n *Notifier) PlanActivated(account domain.Account) {
	if account.Email == "" {
		return
	}
	data := accountData(account)
	n.enqueue(email.TemplatePlanActivated, func(ctx context.Context) error {
		return n.email.SendTemplate(ctx, []string{account.Email}, email.TemplatePlanActivated, data)
	})
}

func (n *Notifier) SubscriptionCancelled(account domain.Account) {
	if account.Email == "" {
		return
	}
	data := accountData(account)
	n.enqueue(email.TemplateSubscriptionCancelled, func(ctx context.Context) error {
		return n.email.SendTemplate(ctx, []string{account.Email}, email.TemplateSubscriptionCancelled, data)
	})
}

// UnresolvedBillingEvent tells operators that an event could not be matched
// to any account.
func (n *Notifier) UnresolvedBillingEvent(provider, eventID, eventType string) {
	n.enqueue("unresolved_billing_event", func(ctx context.Context) error {
		return n.alertOps(ctx, "unresolvable "+provider+" event "+eventID+" ("+eventType+") was discarded")
	})
}

func (n *Notifier) Contact(msg ContactMessage) {
	if n.inbox == "" {
		n.log.Info("contact inbox not configured, dropping message")
		return
	}
	data := map[string]any{
		"name":         msg.Name,
		"email":        msg.Email,
		"subject_line": msg.Subject,
		"message":      msg.Message,
	}
	n.enqueue(email.TemplateContactMessage, func(ctx context.Context) error {
		return n.email.SendTemplate(ctx, []string{n.inbox}, email.TemplateContactMessage, data)
	})
}

func (n *Notifier) SubscriptionInterest(req SubscriptionInterest) {
	if n.inbox == "" {
		n.log.Info("contact inbox not configured, dropping subscription interest")
		return
	}
	data := map[string]any{
		"name":          req.Name,
		"email":         req.Email,
		"plan":          req.Plan,
		"billing_cycle": req.BillingCycle,
		"message":       req.Message,
	}
	n.enqueue(email.TemplateSubscriptionInterest, func(ctx context.Context) error {
		return n.email.SendTemplate(ctx, []string{n.inbox}, email.TemplateSubscriptionInterest, data)
	})
}

func (n *Notifier) alertOps(ctx context.Context, message string) error {
	if err := n.slack.PostMessage(ctx, message); err != nil {
		return err
	}
	if n.opsTo == "" {
		return nil
	}
	return n.email.Send(ctx, []string{n.opsTo}, "[ContextSwitch billing] "+message, "<p>"+message+"</p>")
}

func accountData(account domain.Account) map[string]any {
	limit := "unlimited"
	if l := account.EffectiveLimits().MaxUsagePerMonth; l != domain.Unlimited {
		limit = strconv.FormatInt(l, 10)
	}
	return map[string]any{
		"name":          account.Name,
		"plan":          string(account.Plan),
		"monthly_limit": limit,
	}
}
