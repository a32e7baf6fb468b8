package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	artifactdomain "github.com/smallbiznis/contextswitch/internal/artifact/domain"
	authdomain "github.com/smallbiznis/contextswitch/internal/auth/domain"
	compressiondomain "github.com/smallbiznis/contextswitch/internal/compression/domain"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	meteringdomain "github.com/smallbiznis/contextswitch/internal/metering/domain"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
	"github.com/smallbiznis/contextswitch/internal/ratelimit"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body too large",
		}
	case errors.Is(err, paymentdomain.ErrNoBillingCustomer):
		return http.StatusBadRequest, errorPayload{
			Type:    "no_subscription",
			Message: "no subscription found",
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_payload",
			Message: "webhook payload could not be parsed",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err),
					Code:    validationErrorCode(err),
					Message: validationErrorMessage(err),
				},
			},
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenExpired),
		errors.Is(err, authdomain.ErrInvalidAdminKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, meteringdomain.ErrQuotaExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "quota_exceeded",
			Message: "monthly compression limit reached",
		}
	case errors.Is(err, artifactdomain.ErrArtifactLimitReached):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "artifact_limit_reached",
			Message: "saved context limit reached",
		}
	case errors.Is(err, entitlementdomain.ErrAccountExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "account already exists",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, compressiondomain.ErrCompressorUnavailable),
		errors.Is(err, compressiondomain.ErrEmptyCompression):
		return http.StatusBadGateway, errorPayload{
			Type:    "compressor_unavailable",
			Message: "compression service unavailable",
		}
	case errors.Is(err, paymentdomain.ErrBillingUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "billing_unavailable",
			Message: "billing provider unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrBillingNotConfigured),
		errors.Is(err, entitlementdomain.ErrConflictRetryExhausted),
		errors.Is(err, ratelimit.ErrUnavailable),
		errors.Is(err, authdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code recorded on the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	case status == http.StatusTooManyRequests, status == http.StatusPaymentRequired:
		return "limit", payload.Type
	default:
		return "client", payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, compressiondomain.ErrInvalidMessages),
		errors.Is(err, entitlementdomain.ErrInvalidEmail),
		errors.Is(err, entitlementdomain.ErrInvalidAccountID),
		errors.Is(err, entitlementdomain.ErrInvalidName),
		errors.Is(err, artifactdomain.ErrInvalidArtifact),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrUnknownPrice):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, entitlementdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		compressiondomain.ErrInvalidMessages,
		entitlementdomain.ErrInvalidEmail,
		entitlementdomain.ErrInvalidAccountID,
		entitlementdomain.ErrInvalidName,
		artifactdomain.ErrInvalidArtifact,
		paymentdomain.ErrInvalidProvider,
		paymentdomain.ErrUnknownPrice,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid_request"
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, compressiondomain.ErrInvalidMessages):
		return "messages"
	case errors.Is(err, entitlementdomain.ErrInvalidEmail):
		return "email"
	case errors.Is(err, entitlementdomain.ErrInvalidAccountID):
		return "account_id"
	case errors.Is(err, entitlementdomain.ErrInvalidName):
		return "name"
	case errors.Is(err, paymentdomain.ErrInvalidProvider):
		return "provider"
	case errors.Is(err, paymentdomain.ErrUnknownPrice):
		return "price_id"
	default:
		return "request"
	}
}

func validationErrorMessage(err error) string {
	switch {
	case errors.Is(err, compressiondomain.ErrInvalidMessages):
		return "messages array is required"
	case errors.Is(err, entitlementdomain.ErrInvalidEmail):
		return "a valid email is required"
	case errors.Is(err, entitlementdomain.ErrInvalidName):
		return "name is too long"
	case errors.Is(err, paymentdomain.ErrUnknownPrice):
		return "price id is not in the plan catalog"
	default:
		return "invalid value"
	}
}
