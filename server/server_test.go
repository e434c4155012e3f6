package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

type fixedHealth observability.Health

func (f fixedHealth) CheckHealth(context.Context) observability.Health {
	return observability.Health(f)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(Config{Host: "127.0.0.1"}, logger.Nop())
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestConfig(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.Port != 8080 || c.ShutdownTimeout != 5*time.Second || c.MaxBodyBytes != 1<<20 {
		t.Errorf("unexpected defaults %+v", c)
	}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: c},
		{name: "port", cfg: Config{Port: 70000}, wantErr: true},
		{name: "timeout", cfg: Config{ReadTimeout: -time.Second}, wantErr: true},
		{name: "body", cfg: Config{MaxBodyBytes: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		health     observability.HealthStatus
		wantStatus int
	}{
		{name: "up", health: observability.HealthStatusUp, wantStatus: http.StatusOK},
		{name: "degraded", health: observability.HealthStatusDegraded, wantStatus: http.StatusOK},
		{name: "down", health: observability.HealthStatusDown, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.RegisterProbes("wordflow", fixedHealth{Name: "graph", Status: tt.health})

			rr := serve(s, httptest.NewRequest(http.MethodGet, HealthPath, http.NoBody))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			var body observability.ServiceHealth
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.health || len(body.Components) != 1 {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.RegisterProbes("wordflow")
	rr := serve(s, httptest.NewRequest(http.MethodGet, VersionPath, http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"version"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestRequestIDAndTrace(t *testing.T) {
	s := newTestServer(t)
	var seen string
	s.Engine().GET("/trace", func(c *gin.Context) {
		seen, _ = logger.TraceIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/trace", http.NoBody)
	req.Header.Set(HeaderRequestID, "req-42")
	rr := serve(s, req)
	if got := rr.Header().Get(HeaderRequestID); got != "req-42" {
		t.Errorf("echoed id = %q", got)
	}
	if seen != "req-42" {
		t.Errorf("trace id in context = %q", seen)
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/trace", http.NoBody))
	if rr.Header().Get(HeaderRequestID) == "" {
		t.Error("expected generated request id")
	}
}

func TestRecovery(t *testing.T) {
	s := newTestServer(t)
	s.Engine().GET("/panic", func(*gin.Context) { panic("boom") })
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/panic", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var body errors.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != errors.ErrCodeInternal {
		t.Errorf("code = %s", body.Error.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	s := New(Config{MaxBodyBytes: 8}, logger.Nop())
	s.Engine().POST("/echo", func(c *gin.Context) {
		var v map[string]any
		if err := c.ShouldBindJSON(&v); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})
	rr := serve(s, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"text":"far too long"}`)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "app error", err: errors.InvalidInput("text", "empty"), want: http.StatusBadRequest},
		{name: "plain error", err: context.Canceled, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rr)
			RespondWithError(c, tt.err)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Host: "127.0.0.1"}, logger.Nop())
	s.httpServer.Addr = "127.0.0.1:0"
	s.RegisterProbes("wordflow")
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + VersionPath)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
