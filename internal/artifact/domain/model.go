// Package domain models stored context artifacts.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contextswitch/pkg/db/pagination"
)

var (
	ErrArtifactLimitReached = errors.New("artifact_limit_reached")
	ErrInvalidArtifact      = errors.New("invalid_artifact")
)

type Platform string

const (
	PlatformChatGPT Platform = "chatgpt"
	PlatformClaude  Platform = "claude"
	PlatformGemini  Platform = "gemini"
	PlatformOther   Platform = "other"
)

// ParsePlatform maps anything unrecognized to other.
func ParsePlatform(value string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(value))); p {
	case PlatformChatGPT, PlatformClaude, PlatformGemini:
		return p
	default:
		return PlatformOther
	}
}

type Status string

const (
	StatusSaved      Status = "saved"
	StatusCompressed Status = "compressed"
	StatusDeleted    Status = "deleted"
)

const DefaultProjectName = "Untitled"

// Artifact is one saved or compressed conversation.
type Artifact struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID   snowflake.ID `gorm:"not null;index:ix_usage_artifacts_account_created,priority:1" json:"account_id"`
	ProjectName string       `gorm:"type:varchar(255);not null" json:"project_name"`
	ProjectSlug string       `gorm:"type:varchar(255);not null;index" json:"project_slug"`
	Platform    Platform     `gorm:"type:varchar(16);not null" json:"platform"`
	Status      Status       `gorm:"type:varchar(16);not null" json:"status"`

	OriginalMessages int64 `gorm:"not null;default:0" json:"original_messages"`
	OriginalChars    int64 `gorm:"not null;default:0" json:"original_chars"`
	OriginalTokens   int64 `gorm:"not null;default:0" json:"original_tokens"`
	CompressedChars  int64 `gorm:"not null;default:0" json:"compressed_chars"`
	CompressedTokens int64 `gorm:"not null;default:0" json:"compressed_tokens"`
	CompressionRatio int64 `gorm:"not null;default:0" json:"compression_ratio"`

	// BlobKey is set when the compressed text lives in object storage;
	// otherwise CompressedContext holds it inline.
	BlobKey           *string `gorm:"type:varchar(512)" json:"-"`
	CompressedContext *string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"not null;index:ix_usage_artifacts_account_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Artifact) TableName() string { return "usage_artifacts" }

// Stats aggregates an account's artifacts for the profile view.
type Stats struct {
	TotalContexts        int64              `json:"total_contexts"`
	TotalCompressions    int64              `json:"total_compressions"`
	TotalOriginalChars   int64              `json:"total_original_chars"`
	TotalCompressedChars int64              `json:"total_compressed_chars"`
	TotalTokensSaved     int64              `json:"total_tokens_saved"`
	AvgCompressionRatio  float64            `json:"avg_compression_ratio"`
	PlatformBreakdown    map[Platform]int64 `json:"platform_breakdown"`
}

type SaveRequest struct {
	AccountID         snowflake.ID
	ProjectName       string
	Platform          string
	Status            Status
	OriginalMessages  int64
	OriginalChars     int64
	OriginalTokens    int64
	CompressedChars   int64
	CompressedTokens  int64
	CompressionRatio  int64
	CompressedContext string
}

type Repository interface {
	Create(ctx context.Context, artifact *Artifact) error
	CountStored(ctx context.Context, accountID snowflake.ID) (int64, error)
	List(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) ([]*Artifact, int64, error)
	Recent(ctx context.Context, accountID snowflake.ID, limit int) ([]*Artifact, error)
	Stats(ctx context.Context, accountID snowflake.ID) (Stats, error)
}

type Service interface {
	// EnsureCapacity returns ErrArtifactLimitReached when one more stored
	// artifact would exceed limit. Unlimited is -1.
	EnsureCapacity(ctx context.Context, accountID snowflake.ID, limit int64) error
	Save(ctx context.Context, req SaveRequest) (Artifact, error)
	History(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) ([]*Artifact, pagination.PageInfo, error)
	Recent(ctx context.Context, accountID snowflake.ID) ([]*Artifact, error)
	Stats(ctx context.Context, accountID snowflake.ID) (Stats, error)
	Content(ctx context.Context, artifact Artifact) (string, error)
}
