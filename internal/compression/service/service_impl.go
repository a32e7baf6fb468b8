package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	artifact "github.com/smallbiznis/contextswitch/internal/artifact/domain"
	"github.com/smallbiznis/contextswitch/internal/compression/domain"
	entitlement "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	metering "github.com/smallbiznis/contextswitch/internal/metering/domain"
	"github.com/smallbiznis/contextswitch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/contextswitch/internal/observability/metrics"
	"github.com/smallbiznis/contextswitch/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const rateLimitEndpoint = "compress"

// Limiter throttles compression per account.
type Limiter interface {
	AllowAccount(ctx context.Context, accountID string) (ratelimit.Result, error)
}

type ServiceParam struct {
	fx.In

	Entitlements entitlement.Service
	Artifacts    artifact.Service
	Gate         metering.Gate
	Compressor   domain.Compressor
	Limiter      *ratelimit.CompressLimiter `optional:"true"`
	Metrics      *obsmetrics.Metrics        `optional:"true"`
	Log          *zap.Logger
}

type Service struct {
	entitlements entitlement.Service
	artifacts    artifact.Service
	gate         metering.Gate
	compressor   domain.Compressor
	limiter      Limiter
	metrics      *obsmetrics.Metrics
	log          *zap.Logger
}

func NewService(p ServiceParam) domain.Service {
	var limiter Limiter
	if p.Limiter.Enabled() {
		limiter = p.Limiter
	}
	return New(p.Entitlements, p.Artifacts, p.Gate, p.Compressor, limiter, p.Metrics, p.Log)
}

func New(
	entitlements entitlement.Service,
	artifacts artifact.Service,
	gate metering.Gate,
	compressor domain.Compressor,
	limiter Limiter,
	m *obsmetrics.Metrics,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		entitlements: entitlements,
		artifacts:    artifacts,
		gate:         gate,
		compressor:   compressor,
		limiter:      limiter,
		metrics:      m,
		log:          log.Named("compression.service"),
	}
}

// Compress admits one unit of monthly usage, runs the compressor and records
// the artifact. Usage is refunded when compression or the save fails.
func (s *Service) Compress(ctx context.Context, req domain.Request) (domain.Result, error) {
	if err := req.Validate(); err != nil {
		return domain.Result{}, err
	}
	log := logger.WithAccount(logger.WithContext(ctx, s.log), req.AccountID.String())

	if err := s.allow(ctx, req.AccountID); err != nil {
		return domain.Result{}, err
	}
	account, err := s.ensureCapacity(ctx, req.AccountID)
	if err != nil {
		return domain.Result{}, err
	}

	admission, err := s.gate.TryConsume(ctx, req.AccountID, 1)
	if err != nil {
		if errors.Is(err, metering.ErrQuotaExceeded) {
			s.metrics.RecordCompression(ctx, string(account.Plan), "quota_exceeded", 0)
			return domain.Result{Usage: admission}, err
		}
		return domain.Result{}, err
	}

	conversation := domain.FormatConversation(req.Messages)
	compressed, err := s.compressor.Compress(ctx, req.ProjectName, conversation)
	if err != nil {
		s.release(ctx, log, admission)
		s.metrics.RecordCompression(ctx, string(admission.Plan), "failed", 0)
		log.Warn("compression failed", zap.Error(err))
		return domain.Result{}, err
	}

	originalLength := int64(len(conversation))
	compressedLength := int64(len(compressed))
	originalTokens := domain.EstimateTokens(originalLength)
	compressedTokens := domain.EstimateTokens(compressedLength)
	stats := domain.Stats{
		OriginalLength:   originalLength,
		CompressedLength: compressedLength,
		CompressionRatio: domain.CompressionRatio(originalLength, compressedLength),
		MessageCount:     int64(len(req.Messages)),
		TokensSaved:      originalTokens - compressedTokens,
	}

	saved, err := s.artifacts.Save(ctx, artifact.SaveRequest{
		AccountID:         req.AccountID,
		ProjectName:       req.ProjectName,
		Platform:          req.Platform,
		Status:            artifact.StatusCompressed,
		OriginalMessages:  stats.MessageCount,
		OriginalChars:     originalLength,
		OriginalTokens:    originalTokens,
		CompressedChars:   compressedLength,
		CompressedTokens:  compressedTokens,
		CompressionRatio:  stats.CompressionRatio,
		CompressedContext: compressed,
	})
	if err != nil {
		s.release(ctx, log, admission)
		s.metrics.RecordCompression(ctx, string(admission.Plan), "failed", 0)
		return domain.Result{}, err
	}

	if err := s.gate.RecordStats(ctx, req.AccountID, metering.Stats{
		TokensSaved:          stats.TokensSaved,
		CharactersCompressed: originalLength,
	}); err != nil {
		log.Warn("record compression stats failed", zap.Error(err))
	}
	s.metrics.RecordCompression(ctx, string(admission.Plan), "compressed", originalLength-compressedLength)

	return domain.Result{
		CompressedContext: compressed,
		ContextID:         saved.ID,
		Stats:             stats,
		Usage:             admission,
	}, nil
}

// Save stores a context without compressing it. It counts against the
// artifact limit but not against monthly usage.
func (s *Service) Save(ctx context.Context, req domain.SaveRequest) (snowflake.ID, error) {
	if req.AccountID == 0 {
		return 0, entitlement.ErrInvalidAccountID
	}
	if _, err := s.ensureCapacity(ctx, req.AccountID); err != nil {
		return 0, err
	}

	chars := max(req.CharacterCount, 0)
	saved, err := s.artifacts.Save(ctx, artifact.SaveRequest{
		AccountID:        req.AccountID,
		ProjectName:      req.ProjectName,
		Platform:         req.Platform,
		Status:           artifact.StatusSaved,
		OriginalMessages: max(req.MessageCount, 0),
		OriginalChars:    chars,
		OriginalTokens:   domain.EstimateTokens(chars),
	})
	if err != nil {
		return 0, err
	}
	if err := s.gate.RecordSaved(ctx, req.AccountID); err != nil {
		logger.WithContext(ctx, s.log).Warn("record saved context failed",
			zap.String("account_id", req.AccountID.String()),
			zap.Error(err),
		)
	}
	return saved.ID, nil
}

func (s *Service) allow(ctx context.Context, accountID snowflake.ID) error {
	if s.limiter == nil {
		return nil
	}
	_, err := s.limiter.AllowAccount(ctx, accountID.String())
	switch {
	case err == nil:
		s.metrics.RecordRateLimitAllowed(ctx, rateLimitEndpoint)
		return nil
	case errors.Is(err, ratelimit.ErrRateLimited):
		s.metrics.RecordRateLimitDenied(ctx, rateLimitEndpoint, "account")
		return err
	default:
		s.metrics.RecordRateLimitDenied(ctx, rateLimitEndpoint, "unavailable")
		return fmt.Errorf("%w: %v", ratelimit.ErrUnavailable, err)
	}
}

func (s *Service) ensureCapacity(ctx context.Context, accountID snowflake.ID) (entitlement.Account, error) {
	account, err := s.entitlements.Get(ctx, accountID)
	if err != nil {
		return entitlement.Account{}, err
	}
	if err := s.artifacts.EnsureCapacity(ctx, accountID, account.EffectiveLimits().MaxStoredArtifacts); err != nil {
		return entitlement.Account{}, err
	}
	return account, nil
}

func (s *Service) release(ctx context.Context, log *zap.Logger, admission metering.Admission) {
	ctx = context.WithoutCancel(ctx)
	if err := s.gate.Release(ctx, admission.AccountID, 1, admission.AdmittedAt); err != nil {
		log.Error("usage release failed", zap.Error(err))
	}
}
