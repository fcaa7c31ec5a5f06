package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/currency-check/internal/auth"
	"github.com/example/currency-check/internal/imageprocessor"
	"github.com/example/currency-check/internal/logging"
	"github.com/example/currency-check/internal/oracle"
	"github.com/example/currency-check/internal/repository"
	"github.com/example/currency-check/internal/usecase"
)

const testCookieName = "session_token"

type stubDetections struct {
	mu         sync.Mutex
	configured bool
	predictErr error
	entries    []*repository.HistoryEntry
	uploads    [][]byte
}

func (s *stubDetections) OracleConfigured() bool { return s.configured }

func (s *stubDetections) Predict(ctx context.Context, username string, upload []byte) (*usecase.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.predictErr != nil {
		return nil, s.predictErr
	}
	s.uploads = append(s.uploads, upload)
	entry := &repository.HistoryEntry{
		ID:          uint(len(s.entries) + 1),
		Username:    username,
		Result:      "REAL",
		Confidence:  87,
		Explanation: "Classification: REAL",
		Timestamp:   time.Now(),
	}
	s.entries = append(s.entries, entry)
	return &usecase.Detection{HistoryID: entry.ID, Label: "REAL", Confidence: 87, Explanation: entry.Explanation}, nil
}

func (s *stubDetections) History(ctx context.Context, username string) ([]*repository.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*repository.HistoryEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Username == username {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *stubDetections) Entry(ctx context.Context, username string, id uint) (*repository.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.ID == id && entry.Username == username {
			return entry, nil
		}
	}
	return nil, usecase.ErrNotFound
}

func (s *stubDetections) Stats(ctx context.Context, username string) (*usecase.DashboardStats, error) {
	entries, _ := s.History(ctx, username)
	stats := &usecase.DashboardStats{Recent: entries}
	for _, entry := range entries {
		stats.Total++
		if entry.Result == "REAL" {
			stats.RealCount++
		} else {
			stats.FakeCount++
		}
	}
	if len(stats.Recent) > repository.RecentLimit {
		stats.Recent = stats.Recent[:repository.RecentLimit]
	}
	return stats, nil
}

type stubAccounts struct {
	mu    sync.Mutex
	users map[string]string
}

func (s *stubAccounts) Register(ctx context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return auth.ErrUsernameTaken
	}
	s.users[username] = password
	return nil
}

func (s *stubAccounts) Verify(ctx context.Context, username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.users[username]
	return ok && stored == password, nil
}

type testServer struct {
	router     *gin.Engine
	detections *stubDetections
	sessions   *auth.MemoryRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	detections := &stubDetections{configured: true}
	accounts := &stubAccounts{users: map[string]string{"alice": "secret1", "bob": "secret2"}}
	sessions := auth.NewMemoryRegistry(time.Hour)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	h := New(detections, accounts, sessions, Options{CookieName: testCookieName, CookieSecure: true, SessionTTL: 24 * time.Hour}, zap.NewNop())
	h.RegisterRoutes(router)

	return &testServer{router: router, detections: detections, sessions: sessions}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	token, err := s.sessions.Create(context.Background(), username)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return token
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func withSession(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	return req
}

func sessionCookie(t *testing.T, resp *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range resp.Result().Cookies() {
		if c.Name == testCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestRegisterSetsSessionCookie(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(formRequest("/api/register", url.Values{"username": {"carol"}, "password": {"secret9"}}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	cookie := sessionCookie(t, resp)
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie flags: %+v", cookie)
	}
	if cookie.MaxAge != 86400 {
		t.Fatalf("expected 24h max age, got %d", cookie.MaxAge)
	}

	user := srv.do(withSession(httptest.NewRequest(http.MethodGet, "/api/user", nil), cookie.Value))
	if user.Code != http.StatusOK || decodeBody(t, user)["username"] != "carol" {
		t.Fatalf("session from registration should resolve to carol: %d %s", user.Code, user.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t)
	cases := []url.Values{
		{"username": {"ab"}, "password": {"secret9"}},
		{"username": {"carol"}, "password": {"12345"}},
		{"username": {"alice"}, "password": {"secret9"}},
		{},
	}
	for _, form := range cases {
		resp := srv.do(formRequest("/api/register", form))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("form %v: expected 400, got %d", form, resp.Code)
		}
		if _, ok := decodeBody(t, resp)["detail"].(string); !ok {
			t.Fatalf("form %v: expected a detail message", form)
		}
	}
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)

	bad := srv.do(formRequest("/api/login", url.Values{"username": {"alice"}, "password": {"secret2"}}))
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", bad.Code)
	}

	missing := srv.do(formRequest("/api/login", url.Values{"username": {"alice"}}))
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", missing.Code)
	}

	ok := srv.do(formRequest("/api/login", url.Values{"username": {"alice"}, "password": {"secret1"}}))
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", ok.Code)
	}
	sessionCookie(t, ok)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	resp := srv.do(withSession(httptest.NewRequest(http.MethodPost, "/api/logout", nil), token))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if cookie := sessionCookie(t, resp); cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cookie)
	}

	user := srv.do(withSession(httptest.NewRequest(http.MethodGet, "/api/user", nil), token))
	if user.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", user.Code)
	}

	anonymous := srv.do(httptest.NewRequest(http.MethodPost, "/api/logout", nil))
	if anonymous.Code != http.StatusOK {
		t.Fatalf("logout without a session should still succeed, got %d", anonymous.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	srv := newTestServer(t)
	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/user", nil),
		httptest.NewRequest(http.MethodGet, "/api/history", nil),
		httptest.NewRequest(http.MethodGet, "/api/history/1", nil),
		httptest.NewRequest(http.MethodGet, "/api/dashboard-stats", nil),
		httptest.NewRequest(http.MethodPost, "/predict", nil),
	}
	for _, req := range requests {
		if resp := srv.do(req); resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", req.Method, req.URL.Path, resp.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	srv.detections.configured = false

	resp := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	body := decodeBody(t, resp)
	if resp.Code != http.StatusOK || body["status"] != "healthy" || body["gemini_configured"] != false {
		t.Fatalf("unexpected health response: %d %v", resp.Code, body)
	}
}

func TestPredictReturnsVerdict(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	body, contentType := buildMultipartBody(t, "file", "image/png", []byte("png-bytes"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/predict", body), token)
	req.Header.Set("Content-Type", contentType)

	resp := srv.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	got := decodeBody(t, resp)
	if got["label"] != "REAL" || got["confidence"] != float64(87) || got["success"] != true || got["history_id"] != float64(1) {
		t.Fatalf("unexpected body: %v", got)
	}
	if string(srv.detections.uploads[0]) != "png-bytes" {
		t.Fatal("upload bytes were not forwarded")
	}
}

func TestPredictAcceptsImageField(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	body, contentType := buildMultipartBody(t, "image", "image/jpeg", []byte("jpeg-bytes"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/predict", body), token)
	req.Header.Set("Content-Type", contentType)

	if resp := srv.do(req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestPredictUnconfiguredOracle(t *testing.T) {
	srv := newTestServer(t)
	srv.detections.configured = false
	token := srv.login(t, "alice")

	body, contentType := buildMultipartBody(t, "file", "image/png", []byte("x"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/predict", body), token)
	req.Header.Set("Content-Type", contentType)

	resp := srv.do(req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if detail, _ := decodeBody(t, resp)["detail"].(string); !strings.Contains(detail, "GEMINI_API_KEY") {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestPredictFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		detail string
	}{
		{"empty oracle response", logging.NewOperationError("usecase.oracle_analyze", "r", oracle.ErrEmptyResponse), "empty response"},
		{"bad image", logging.NewOperationError("usecase.prepare_image", "r", fmt.Errorf("%w: unknown format", imageprocessor.ErrInvalidImage)), "Error processing image: invalid image"},
		{"provider error", errors.New("quota exceeded"), "Error processing image: quota exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.detections.predictErr = tc.err
			token := srv.login(t, "alice")

			body, contentType := buildMultipartBody(t, "file", "image/png", []byte("x"))
			req := withSession(httptest.NewRequest(http.MethodPost, "/predict", body), token)
			req.Header.Set("Content-Type", contentType)

			resp := srv.do(req)
			if resp.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", resp.Code)
			}
			if detail, _ := decodeBody(t, resp)["detail"].(string); !strings.Contains(detail, tc.detail) {
				t.Fatalf("expected detail containing %q, got %q", tc.detail, detail)
			}
		})
	}
}

func TestPredictRejectsLargeUpload(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	body, contentType := buildMultipartBody(t, "file", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	req := withSession(httptest.NewRequest(http.MethodPost, "/predict", body), token)
	req.Header.Set("Content-Type", contentType)

	if resp := srv.do(req); resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestPredictRejectsUnsupportedContentType(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	body, contentType := buildMultipartBody(t, "file", "text/plain", []byte("hello"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/predict", body), token)
	req.Header.Set("Content-Type", contentType)

	if resp := srv.do(req); resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestPredictRequiresFile(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	req := withSession(formRequest("/predict", url.Values{"other": {"x"}}), token)
	if resp := srv.do(req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHistoryIsolation(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.login(t, "alice")
	bob := srv.login(t, "bob")

	for i := 0; i < 2; i++ {
		body, contentType := buildMultipartBody(t, "file", "image/png", []byte("x"))
		req := withSession(httptest.NewRequest(http.MethodPost, "/predict", body), alice)
		req.Header.Set("Content-Type", contentType)
		if resp := srv.do(req); resp.Code != http.StatusOK {
			t.Fatalf("predict: %d", resp.Code)
		}
	}

	own := srv.do(withSession(httptest.NewRequest(http.MethodGet, "/api/history/1", nil), alice))
	if own.Code != http.StatusOK || decodeBody(t, own)["id"] != float64(1) {
		t.Fatalf("owner should see entry 1: %d %s", own.Code, own.Body.String())
	}

	foreign := srv.do(withSession(httptest.NewRequest(http.MethodGet, "/api/history/1", nil), bob))
	if foreign.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's entry, got %d", foreign.Code)
	}

	invalid := srv.do(withSession(httptest.NewRequest(http.MethodGet, "/api/history/abc", nil), alice))
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", invalid.Code)
	}

	list := srv.do(withSession(httptest.NewRequest(http.MethodGet, "/api/history", nil), bob))
	history, _ := decodeBody(t, list)["history"].([]any)
	if list.Code != http.StatusOK || len(history) != 0 {
		t.Fatalf("bob should have an empty history, got %d %v", list.Code, history)
	}

	stats := srv.do(withSession(httptest.NewRequest(http.MethodGet, "/api/dashboard-stats", nil), alice))
	got := decodeBody(t, stats)
	if got["total"] != float64(2) || got["real_count"] != float64(2) || got["fake_count"] != float64(0) {
		t.Fatalf("unexpected stats: %v", got)
	}
}

func buildMultipartBody(t *testing.T, field, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload"`, field))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
