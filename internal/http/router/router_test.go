package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"phoneagent_backend/internal/config"
	"phoneagent_backend/platform/logger"
)

type pingModule struct{}

func (pingModule) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Env:         "test",
		CORSOrigins: []string{"http://localhost:4200"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	engine := New(testConfig(), logger.New("test"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing security header, got %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
}

func TestModuleRoutesMounted(t *testing.T) {
	engine := New(testConfig(), logger.New("test"), pingModule{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("module route not mounted: %d %q", rec.Code, rec.Body.String())
	}
}

func TestCORSOriginAllowed(t *testing.T) {
	engine := New(testConfig(), logger.New("test"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	engine.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}
