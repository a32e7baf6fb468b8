package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/contextswitch/internal/artifact/blob"
	"github.com/smallbiznis/contextswitch/internal/artifact/domain"
	"github.com/smallbiznis/contextswitch/internal/clock"
	"github.com/smallbiznis/contextswitch/internal/config"
	entitlement "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Config config.Config
	Repo   domain.Repository
	Blobs  blob.Store
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
}

type Service struct {
	repo        domain.Repository
	blobs       blob.Store
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	recentLimit int
}

func NewService(p ServiceParam) domain.Service {
	return New(p.Repo, p.Blobs, p.Log, p.GenID, p.Clock, p.Config.Artifacts.RecentLimit)
}

func New(repo domain.Repository, blobs blob.Store, log *zap.Logger, genID *snowflake.Node, clk clock.Clock, recentLimit int) *Service {
	if blobs == nil {
		blobs = blob.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &Service{
		repo:        repo,
		blobs:       blobs,
		log:         log.Named("artifact.service"),
		genID:       genID,
		clock:       clk,
		recentLimit: recentLimit,
	}
}

func (s *Service) EnsureCapacity(ctx context.Context, accountID snowflake.ID, limit int64) error {
	if limit == entitlement.Unlimited {
		return nil
	}
	stored, err := s.repo.CountStored(ctx, accountID)
	if err != nil {
		return err
	}
	if stored >= limit {
		return domain.ErrArtifactLimitReached
	}
	return nil
}

// Save records an artifact. Compressed text goes to the blob store when one
// is configured and stays inline otherwise; a failed upload falls back to
// inline so the user's compression is never lost.
func (s *Service) Save(ctx context.Context, req domain.SaveRequest) (domain.Artifact, error) {
	if req.AccountID == 0 {
		return domain.Artifact{}, domain.ErrInvalidArtifact
	}
	name := strings.TrimSpace(req.ProjectName)
	if name == "" {
		name = domain.DefaultProjectName
	}
	if len(name) > 255 {
		name = name[:255]
	}
	status := req.Status
	if status == "" {
		status = domain.StatusSaved
	}
	projectSlug := slug.Make(name)
	if projectSlug == "" {
		projectSlug = slug.Make(domain.DefaultProjectName)
	}

	now := s.clock.Now()
	artifact := domain.Artifact{
		ID:               s.genID.Generate(),
		AccountID:        req.AccountID,
		ProjectName:      name,
		ProjectSlug:      projectSlug,
		Platform:         domain.ParsePlatform(req.Platform),
		Status:           status,
		OriginalMessages: max(req.OriginalMessages, 0),
		OriginalChars:    max(req.OriginalChars, 0),
		OriginalTokens:   max(req.OriginalTokens, 0),
		CompressedChars:  max(req.CompressedChars, 0),
		CompressedTokens: max(req.CompressedTokens, 0),
		CompressionRatio: max(req.CompressionRatio, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if text := req.CompressedContext; text != "" {
		key := fmt.Sprintf("%s/%s/%s.txt", req.AccountID, projectSlug, artifact.ID)
		if s.blobs.Enabled() {
			if err := s.blobs.Put(ctx, key, []byte(text), "text/plain; charset=utf-8"); err != nil {
				s.log.Warn("artifact upload failed, storing inline",
					zap.String("artifact_id", artifact.ID.String()),
					zap.Error(err),
				)
				artifact.CompressedContext = &text
			} else {
				artifact.BlobKey = &key
			}
		} else {
			artifact.CompressedContext = &text
		}
	}

	if err := s.repo.Create(ctx, &artifact); err != nil {
		return domain.Artifact{}, err
	}
	return artifact, nil
}

func (s *Service) History(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) ([]*domain.Artifact, pagination.PageInfo, error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, accountID, page)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return items, pagination.BuildPageInfo(page, total), nil
}

func (s *Service) Recent(ctx context.Context, accountID snowflake.ID) ([]*domain.Artifact, error) {
	return s.repo.Recent(ctx, accountID, s.recentLimit)
}

func (s *Service) Stats(ctx context.Context, accountID snowflake.ID) (domain.Stats, error) {
	return s.repo.Stats(ctx, accountID)
}

// Content returns the compressed text wherever it is stored.
func (s *Service) Content(ctx context.Context, artifact domain.Artifact) (string, error) {
	if artifact.CompressedContext != nil {
		return *artifact.CompressedContext, nil
	}
	if artifact.BlobKey == nil {
		return "", nil
	}
	body, err := s.blobs.Get(ctx, *artifact.BlobKey)
	if err != nil {
		if errors.Is(err, blob.ErrDisabled) {
			return "", blob.ErrNotFound
		}
		return "", err
	}
	return string(body), nil
}
