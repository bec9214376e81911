package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRequestLoggerMiddleware(t *testing.T) {
	buf := captureLogs(t)

	router := gin.New()
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	router.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
	})
	router.GET("/server-error", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
	})

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		logLevel       string
	}{
		{"success request", "/test", http.StatusOK, "INFO"},
		{"client error", "/error", http.StatusBadRequest, "WARN"},
		{"server error", "/server-error", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()

			req := httptest.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			logOutput := buf.String()
			if !strings.Contains(logOutput, "request completed") {
				t.Error("Expected 'request completed' in log")
			}
			if !strings.Contains(logOutput, tt.path) {
				t.Errorf("Expected path '%s' in log", tt.path)
			}
			if !strings.Contains(logOutput, tt.logLevel) {
				t.Errorf("Expected log level '%s' in log", tt.logLevel)
			}
			if !strings.Contains(logOutput, "request_id=") {
				t.Error("Expected request_id in log")
			}
		})
	}
}

func TestRequestLoggerRedactsLinkToken(t *testing.T) {
	buf := captureLogs(t)

	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/sign", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	req := httptest.NewRequest("GET", "/sign?linkToken=secret-link&type=CONTRACT", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	logOutput := buf.String()
	if strings.Contains(logOutput, "secret-link") {
		t.Error("Link token must not be logged")
	}
	if !strings.Contains(logOutput, "REDACTED") {
		t.Error("Expected redacted marker in log")
	}
	if !strings.Contains(logOutput, "CONTRACT") {
		t.Error("Expected other query parameters in log")
	}
}

func TestRequestLoggerSkipsPaths(t *testing.T) {
	buf := captureLogs(t)

	router := gin.New()
	router.Use(RequestLogger("/health"))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if buf.Len() != 0 {
		t.Errorf("Expected no log for skipped path, got %q", buf.String())
	}
}

func TestRequestLoggerIncludesSession(t *testing.T) {
	buf := captureLogs(t)
	cfg := testSessionConfig()
	token, _, _ := GenerateSessionToken("sess-42", "verification", cfg)

	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/session", SessionAuth(cfg, "verification"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	req := httptest.NewRequest("GET", "/session", nil)
	req.Header.Set(SessionHeader, token)
	router.ServeHTTP(httptest.NewRecorder(), req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "session_id=sess-42") {
		t.Errorf("Expected session id in log, got %q", logOutput)
	}
	if !strings.Contains(logOutput, "flow=verification") {
		t.Errorf("Expected flow in log, got %q", logOutput)
	}
}
