package service

import (
	"context"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/rollover"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Store domain.Store
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	store domain.Store
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		store: p.Store,
		log:   p.Log.Named("entitlement.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Get returns the account with any pending monthly rollover applied.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	if id == 0 {
		return domain.Account{}, domain.ErrInvalidAccountID
	}
	return s.store.ApplyAtomic(ctx, id, rollover.Mutation(s.clock.Now()))
}

func (s *Service) View(ctx context.Context, id snowflake.ID) (domain.View, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return domain.View{}, err
	}
	return domain.NewView(account), nil
}

// Provision creates a free account for a new user.
func (s *Service) Provision(ctx context.Context, req domain.ProvisionRequest) (domain.Account, error) {
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.Account{}, domain.ErrInvalidEmail
	}

	account := domain.NewFreeAccount(s.genID.Generate(), email, req.Name, s.clock.Now())
	if err := s.store.Create(ctx, &account); err != nil {
		return domain.Account{}, err
	}

	s.log.Info("account provisioned",
		zap.String("account_id", account.ID.String()),
		zap.String("plan", string(account.Plan)),
	)
	return account, nil
}

const maxNameLength = 255

// UpdateProfile changes the display name. An empty name leaves it as is.
func (s *Service) UpdateProfile(ctx context.Context, id snowflake.ID, req domain.ProfileUpdate) (domain.Account, error) {
	if id == 0 {
		return domain.Account{}, domain.ErrInvalidAccountID
	}
	name := strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(name) > maxNameLength {
		return domain.Account{}, domain.ErrInvalidName
	}
	if name == "" {
		return s.Get(ctx, id)
	}
	return s.store.ApplyAtomic(ctx, id, func(current domain.Account) (domain.Account, error) {
		if current.Name == name {
			return current, domain.ErrNoChange
		}
		current.Name = name
		return current, nil
	})
}

func (s *Service) AttachCustomerRef(ctx context.Context, id snowflake.ID, ref string) (domain.Account, error) {
	if id == 0 {
		return domain.Account{}, domain.ErrInvalidAccountID
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Account{}, domain.ErrInvalidCustomerRef
	}
	account, err := s.store.ApplyAtomic(ctx, id, func(current domain.Account) (domain.Account, error) {
		if current.BillingCustomerRef != nil && *current.BillingCustomerRef != "" {
			return current, domain.ErrNoChange
		}
		current.BillingCustomerRef = &ref
		return current, nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	if account.BillingCustomerRef != nil && *account.BillingCustomerRef != ref {
		s.log.Warn("customer ref already attached, keeping existing",
			zap.String("account_id", id.String()),
			zap.String("kept_ref", *account.BillingCustomerRef),
			zap.String("discarded_ref", ref),
		)
	}
	return account, nil
}
