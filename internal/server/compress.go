package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	compressiondomain "github.com/smallbiznis/contextswitch/internal/compression/domain"
	meteringdomain "github.com/smallbiznis/contextswitch/internal/metering/domain"
)

type compressRequest struct {
	Messages    []compressiondomain.Message `json:"messages"`
	ProjectName string                      `json:"projectName"`
	Platform    string                      `json:"platform"`
}

type saveContextRequest struct {
	ProjectName    string `json:"projectName"`
	Platform       string `json:"platform"`
	MessageCount   int64  `json:"messageCount"`
	CharacterCount int64  `json:"characterCount"`
}

func (s *Server) Compress(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req compressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.compression.Compress(c.Request.Context(), compressiondomain.Request{
		AccountID:   accountID,
		ProjectName: req.ProjectName,
		Platform:    req.Platform,
		Messages:    req.Messages,
	})
	if err != nil {
		if errors.Is(err, meteringdomain.ErrQuotaExceeded) {
			// Clients render the upgrade prompt from the usage block.
			status, payload := mapError(err)
			c.JSON(status, gin.H{
				"error": payload,
				"usage": result.Usage,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SaveContext(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req saveContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	id, err := s.compression.Save(c.Request.Context(), compressiondomain.SaveRequest{
		AccountID:      accountID,
		ProjectName:    req.ProjectName,
		Platform:       req.Platform,
		MessageCount:   req.MessageCount,
		CharacterCount: req.CharacterCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"context_id": id.String()}})
}
