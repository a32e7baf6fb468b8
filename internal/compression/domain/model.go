// Package domain describes conversation compression requests and results.
package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	metering "github.com/smallbiznis/contextswitch/internal/metering/domain"
)

var (
	ErrInvalidMessages       = errors.New("invalid_messages")
	ErrCompressorUnavailable = errors.New("compressor_unavailable")
	ErrEmptyCompression      = errors.New("empty_compression")
)

// UnknownProject is the project name shown to the model when none is given.
const UnknownProject = "Unknown"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	AccountID   snowflake.ID
	ProjectName string
	Platform    string
	Messages    []Message
}

type SaveRequest struct {
	AccountID      snowflake.ID
	ProjectName    string
	Platform       string
	MessageCount   int64
	CharacterCount int64
}

type Stats struct {
	OriginalLength   int64 `json:"original_length"`
	CompressedLength int64 `json:"compressed_length"`
	CompressionRatio int64 `json:"compression_ratio"`
	MessageCount     int64 `json:"message_count"`
	TokensSaved      int64 `json:"tokens_saved"`
}

type Result struct {
	CompressedContext string             `json:"compressed_context"`
	ContextID         snowflake.ID       `json:"context_id"`
	Stats             Stats              `json:"stats"`
	Usage             metering.Admission `json:"usage"`
}

// Compressor turns a formatted conversation into a compact summary.
type Compressor interface {
	Compress(ctx context.Context, projectName, conversation string) (string, error)
}

type Service interface {
	Compress(ctx context.Context, req Request) (Result, error)
	Save(ctx context.Context, req SaveRequest) (snowflake.ID, error)
}

// FormatConversation renders messages as "[ROLE]: content" blocks.
func FormatConversation(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, fmt.Sprintf("[%s]: %s", strings.ToUpper(msg.Role), msg.Content))
	}
	return strings.Join(parts, "\n\n")
}

// EstimateTokens approximates four characters per token.
func EstimateTokens(chars int64) int64 {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// CompressionRatio is the rounded percentage removed, never negative.
func CompressionRatio(original, compressed int64) int64 {
	if original <= 0 {
		return 0
	}
	ratio := math.Round((1 - float64(compressed)/float64(original)) * 100)
	return max(int64(ratio), 0)
}

// Validate rejects requests without at least one message with a role.
func (r Request) Validate() error {
	if r.AccountID == 0 || len(r.Messages) == 0 {
		return ErrInvalidMessages
	}
	for _, msg := range r.Messages {
		if strings.TrimSpace(msg.Role) == "" {
			return ErrInvalidMessages
		}
	}
	return nil
}
