package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/contextswitch/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithAccountID(ctx, "42")
	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["account_id"] != "42" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, ok := fields["trace_id"]; ok {
		t.Fatalf("trace_id must be omitted without a span")
	}
}

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	var seen string
	r.GET("/api/user/entitlement", func(c *gin.Context) {
		seen = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusPaymentRequired)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/user/entitlement", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen != "abc" || rec.Header().Get("X-Request-Id") != "abc" {
		t.Fatalf("expected request id to propagate, got %q / %q", seen, rec.Header().Get("X-Request-Id"))
	}
	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 request log, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel {
		t.Fatalf("quota rejections should log at info, got %v", entries[0].Level)
	}
}

func TestOperationFromSQL(t *testing.T) {
	if got := operationFromSQL(`UPDATE "accounts" SET "monthly_usage"=1`); got != "UPDATE" {
		t.Fatalf("expected UPDATE, got %s", got)
	}
	if got := operationFromSQL("(SELECT 1)"); got != "SELECT" {
		t.Fatalf("expected SELECT, got %s", got)
	}
}
