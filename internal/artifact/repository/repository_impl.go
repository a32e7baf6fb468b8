package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/internal/artifact/domain"
	"github.com/smallbiznis/contextswitch/pkg/db/option"
	"github.com/smallbiznis/contextswitch/pkg/db/pagination"
	"github.com/smallbiznis/contextswitch/pkg/repository"
	"gorm.io/gorm"
)

var sortable = map[string]bool{"created_at": true}

type repo struct {
	db    *gorm.DB
	store repository.Repository[domain.Artifact]
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db, store: repository.ProvideStore[domain.Artifact](db)}
}

func (r *repo) Create(ctx context.Context, artifact *domain.Artifact) error {
	return r.store.Create(ctx, artifact)
}

func (r *repo) CountStored(ctx context.Context, accountID snowflake.ID) (int64, error) {
	return r.store.Count(ctx, &domain.Artifact{AccountID: accountID}, notDeleted())
}

func (r *repo) List(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) ([]*domain.Artifact, int64, error) {
	return r.store.FindPage(ctx, &domain.Artifact{AccountID: accountID}, page, notDeleted(), newestFirst())
}

func (r *repo) Recent(ctx context.Context, accountID snowflake.ID, limit int) ([]*domain.Artifact, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.store.Find(ctx, &domain.Artifact{AccountID: accountID},
		notDeleted(),
		newestFirst(),
		option.WithLimitOffset(limit, 0),
	)
}

type statsRow struct {
	TotalContexts        int64
	TotalCompressions    int64
	TotalOriginalChars   int64
	TotalCompressedChars int64
	TotalTokensSaved     int64
	AvgCompressionRatio  float64
}

type platformRow struct {
	Platform domain.Platform
	Total    int64
}

func (r *repo) Stats(ctx context.Context, accountID snowflake.ID) (domain.Stats, error) {
	var row statsRow
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_contexts,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS total_compressions,
			COALESCE(SUM(original_chars), 0) AS total_original_chars,
			COALESCE(SUM(compressed_chars), 0) AS total_compressed_chars,
			COALESCE(SUM(CASE WHEN status = ? THEN original_tokens - compressed_tokens ELSE 0 END), 0) AS total_tokens_saved,
			COALESCE(AVG(CASE WHEN status = ? THEN compression_ratio END), 0) AS avg_compression_ratio
		FROM usage_artifacts
		WHERE account_id = ? AND status <> ?`,
		domain.StatusCompressed, domain.StatusCompressed, domain.StatusCompressed,
		accountID, domain.StatusDeleted,
	).Scan(&row).Error
	if err != nil {
		return domain.Stats{}, err
	}

	var platforms []platformRow
	err = r.db.WithContext(ctx).
		Model(&domain.Artifact{}).
		Select("platform, COUNT(*) AS total").
		Where("account_id = ? AND status <> ?", accountID, domain.StatusDeleted).
		Group("platform").
		Scan(&platforms).Error
	if err != nil {
		return domain.Stats{}, err
	}

	breakdown := make(map[domain.Platform]int64, len(platforms))
	for _, p := range platforms {
		breakdown[p.Platform] = p.Total
	}
	return domain.Stats{
		TotalContexts:        row.TotalContexts,
		TotalCompressions:    row.TotalCompressions,
		TotalOriginalChars:   row.TotalOriginalChars,
		TotalCompressedChars: row.TotalCompressedChars,
		TotalTokensSaved:     row.TotalTokensSaved,
		AvgCompressionRatio:  row.AvgCompressionRatio,
		PlatformBreakdown:    breakdown,
	}, nil
}

func newestFirst() option.QueryOption {
	return option.WithSortBy(option.QuerySortBy{Allow: sortable, SortBy: "created_at", Desc: true})
}

func notDeleted() option.QueryOption {
	return option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: domain.StatusDeleted})
}
