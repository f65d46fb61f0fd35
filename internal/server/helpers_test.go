package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/auth"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/database"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/posts"
	"github.com/MarcoPoloResearchLab/doodlemap/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "tauth"
	testCookieName    = "app_session"
	testContentB64    = "iVBORw0KGgo="
)

type testEnvironment struct {
	handler  http.Handler
	realtime *RealtimeDispatcher
}

func newTestEnvironment(t *testing.T) testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	store, err := posts.NewGormStore(posts.GormStoreConfig{Database: db, VoteRetryLimit: 64})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	postsService, err := posts.NewService(posts.ServiceConfig{
		Store:      store,
		IDProvider: posts.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build posts service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Users:            userService,
		PostsService:     postsService,
		Realtime:         realtime,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testEnvironment{handler: handler, realtime: realtime}
}

func mintSessionToken(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: strings.ToUpper(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}

// perform sends a request as userID; an empty userID sends it anonymously.
func (e testEnvironment) perform(t *testing.T, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		request.Header.Set("Authorization", "Bearer "+mintSessionToken(t, userID))
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func (e testEnvironment) createPost(t *testing.T, userID string, lat, lon float64) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{"lat": lat, "lon": lon, "content": testContentB64})
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	recorder := e.perform(t, http.MethodPost, "/post", userID, string(body))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeObject(t, recorder)
}

func decodeObject(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func decodeList(t *testing.T, recorder *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload []map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func assertError(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	payload := decodeObject(t, recorder)
	if payload["code"] != code {
		t.Fatalf("expected code %q, got %v", code, payload["code"])
	}
	if _, ok := payload["error"].(string); !ok {
		t.Fatalf("expected error message, got %v", payload)
	}
}

func performWithCookie(t *testing.T, env testEnvironment, method, target, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, body)
	request.Header.Set("Content-Type", "application/json")
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}
