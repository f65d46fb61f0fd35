package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/auth"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestResolveViewerLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/post/user", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		users:    &stubUserDirectory{},
		logger:   zap.New(core),
	}

	handler.resolveViewer(ctx)

	if viewerID := ctx.GetString(viewerIDContextKey); viewerID != "" {
		t.Fatalf("expected no viewer, got %q", viewerID)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestResolveViewerLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/post/user", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrInvalidSessionToken},
		users:    &stubUserDirectory{},
		logger:   zap.New(core),
	}

	handler.resolveViewer(ctx)

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestResolveViewerIgnoresAnonymousRequestsSilently(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/post/abc", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	directory := &stubUserDirectory{}
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrMissingSessionToken},
		users:    directory,
		logger:   zap.New(core),
	}

	handler.resolveViewer(ctx)

	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
	if directory.resolved != 0 {
		t.Fatalf("expected directory to be skipped")
	}
}

func TestResolveViewerSetsCanonicalID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/post/user", http.NoBody)

	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "google:1"}},
		users:    &stubUserDirectory{canonicalID: "1"},
		logger:   zap.NewNop(),
	}

	handler.resolveViewer(ctx)

	if viewerID := ctx.GetString(viewerIDContextKey); viewerID != "1" {
		t.Fatalf("expected canonical viewer id, got %q", viewerID)
	}
}

func TestRequireViewerRejectsAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/post", http.NoBody)

	handler := &httpHandler{logger: zap.NewNop()}
	handler.requireViewer(ctx)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	expected := `{"error":"unauthenticated","code":"auth.unauthenticated"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
	if !ctx.IsAborted() {
		t.Fatalf("expected request chain to be aborted")
	}
}

func TestCORSMiddlewareAllowsCredentialedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://app.example.com"}))
	router.OPTIONS("/post", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/post", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowHeaders, "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allowed origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSMiddlewareRejectsUnknownOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://app.example.com"}))
	router.GET("/post/feed", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodGet, "/post/feed", http.NoBody)
	request.Header.Set("Origin", "https://evil.example.com")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSessionValidator) {
		t.Fatalf("expected missing session validator, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{SessionValidator: stubSessionValidator{}}); !errors.Is(err, errMissingUserDirectory) {
		t.Fatalf("expected missing user directory, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{SessionValidator: stubSessionValidator{}, Users: &stubUserDirectory{}}); !errors.Is(err, errMissingPostsService) {
		t.Fatalf("expected missing posts service, got %v", err)
	}
}

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubUserDirectory struct {
	canonicalID string
	resolved    int
}

func (s *stubUserDirectory) ResolveCanonicalUserID(context.Context, auth.SessionClaims) (string, error) {
	s.resolved++
	return s.canonicalID, nil
}

func (s *stubUserDirectory) GetUser(_ context.Context, userID string) (users.User, error) {
	return users.User{ID: userID}, nil
}

func (s *stubUserDirectory) DeleteUser(context.Context, string) error {
	return nil
}
