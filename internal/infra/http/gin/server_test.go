package ginserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exodrive/internal/app/dto"
	"exodrive/internal/app/services/messaging"
	domainlistings "exodrive/internal/domain/listings"
	domainuser "exodrive/internal/domain/user"
	"exodrive/internal/infra/config"
	"exodrive/internal/infra/obs"
	"exodrive/internal/infra/realtime"
	"exodrive/internal/infra/security"
	"exodrive/internal/infra/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testApp struct {
	router   *gin.Engine
	verifier *security.TokenVerifier
	hub      *realtime.Hub
}

func newTestApp(t *testing.T, cfg config.Config) *testApp {
	t.Helper()
	ctx := context.Background()
	users := memory.NewUserRepository()
	listings := memory.NewListingRepository()
	for _, u := range []domainuser.User{{ID: "alice", Name: "Alice", Email: "alice@example.com"}, {ID: "bob", Name: "Bob", Email: "bob@example.com"}, {ID: "carol", Name: "Carol"}} {
		u := u
		require.NoError(t, users.Save(ctx, &u))
	}
	require.NoError(t, listings.Save(ctx, &domainlistings.Listing{ID: "L123", Owner: "alice", Title: "Volvo XC60", Brand: "Volvo", Model: "XC60"}))

	verifier, err := security.NewTokenVerifier("test-secret")
	require.NoError(t, err)
	hub := realtime.NewHub(nil, nil)
	svc := &messaging.Service{
		Conversations: memory.NewConversationStore(),
		Messages:      memory.NewMessageStore(),
		Users:         users,
		Listings:      listings,
		Realtime:      hub,
	}
	cfg.Env = "test"
	h := Handlers{
		Messages:       MessageHandler{Service: svc},
		Realtime:       RealtimeHandler{Sockets: realtime.NewServer(hub, svc, nil), Verifier: verifier},
		AuthMiddleware: AuthMiddleware{Verifier: verifier},
	}
	return &testApp{router: NewRouter(cfg, obs.Middleware{}, obs.HealthHandlers{}, h), verifier: verifier, hub: hub}
}

func (a *testApp) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := a.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testApp) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(t, userID))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func defaultConfig() config.Config {
	return config.Config{
		RateLimitEnabled:  true,
		MessageRateLimit:  100,
		MessageRateWindow: time.Minute,
		GeneralRateLimit:  5000,
		GeneralRateWindow: 15 * time.Minute,
	}
}

func TestMessagingScenario(t *testing.T) {
	app := newTestApp(t, defaultConfig())

	rec := app.do(t, http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "alice", ListingID: "L123", Content: "Interested in the car"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[dto.Message](t, rec)
	assert.Equal(t, "alice_bob_L123", sent.ConversationID)
	assert.Equal(t, "Bob", sent.Sender.Name)
	assert.False(t, sent.IsRead)

	rec = app.do(t, http.MethodGet, "/api/messages/unread-count", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[dto.UnreadCount](t, rec).Count)

	rec = app.do(t, http.MethodGet, "/api/messages/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]dto.Conversation](t, rec)
	require.Len(t, convs, 1)
	assert.Equal(t, "Volvo XC60", convs[0].Listing.Title)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "Interested in the car", convs[0].LastMessage.Content)

	rec = app.do(t, http.MethodGet, "/api/messages/conversations/alice_bob_L123", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]dto.Message](t, rec), 1)

	rec = app.do(t, http.MethodGet, "/api/messages/unread-count", "alice", nil)
	assert.Zero(t, decode[dto.UnreadCount](t, rec).Count)

	rec = app.do(t, http.MethodPut, "/api/messages/mark-read/alice_bob_L123", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.MarkReadResult{Message: "Messages marked as read", Updated: 0}, decode[dto.MarkReadResult](t, rec))
}

func TestErrorMapping(t *testing.T) {
	app := newTestApp(t, defaultConfig())
	rec := app.do(t, http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "alice", ListingID: "L123", Content: "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		kind   string
		field  string
	}{
		{"no token", http.MethodGet, "/api/messages/unread-count", "", nil, http.StatusUnauthorized, kindUnauthorized, ""},
		{"malformed json", http.MethodPost, "/api/messages/send", "bob", "{", http.StatusBadRequest, kindValidation, ""},
		{"blank content", http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "alice", ListingID: "L123", Content: "  "}, http.StatusBadRequest, kindValidation, "content"},
		{"missing receiver", http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ListingID: "L123", Content: "x"}, http.StatusBadRequest, kindValidation, "receiver_id"},
		{"self message", http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "bob", ListingID: "L123", Content: "x"}, http.StatusBadRequest, kindInvalidOperation, ""},
		{"unknown listing", http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "alice", ListingID: "nope", Content: "x"}, http.StatusNotFound, kindNotFound, ""},
		{"non participant", http.MethodGet, "/api/messages/conversations/alice_bob_L123", "carol", nil, http.StatusNotFound, kindNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt.method, tt.path, tt.user, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[map[string]any](t, rec)
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
			if tt.field != "" {
				assert.Equal(t, tt.field, body["field"])
			}
		})
	}
}

func TestInvalidTokenIsUnauthorized(t *testing.T) {
	app := newTestApp(t, defaultConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/messages/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendIsRateLimited(t *testing.T) {
	cfg := defaultConfig()
	cfg.MessageRateLimit = 2
	app := newTestApp(t, cfg)

	for i := 0; i < 2; i++ {
		rec := app.do(t, http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "alice", ListingID: "L123", Content: "hi"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := app.do(t, http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "alice", ListingID: "L123", Content: "hi"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, kindRateLimited, decode[map[string]any](t, rec)["kind"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other callers keep their own budget
	rec = app.do(t, http.MethodPost, "/api/messages/send", "alice", sendMessageRequest{ReceiverID: "bob", ListingID: "L123", Content: "hi"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimiterRefillsAndEvicts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter("test", 1, time.Minute, "")
	l.Now = func() time.Time { return now }

	ok, _ := l.allow("a")
	assert.True(t, ok)
	ok, retry := l.allow("a")
	assert.False(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), retry.Seconds(), 1)

	now = now.Add(time.Minute)
	ok, _ = l.allow("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	l.allow("b")
	l.mu.Lock()
	_, kept := l.buckets["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestSocketHandshake(t *testing.T) {
	app := newTestApp(t, defaultConfig())
	ts := httptest.NewServer(app.router)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+app.token(t, "alice"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return app.hub.Members(realtime.UserRoom("alice")) == 1 }, time.Second, 10*time.Millisecond)

	rec := app.do(t, http.MethodPost, "/api/messages/send", "bob", sendMessageRequest{ReceiverID: "alice", ListingID: "L123", Content: "ping"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var frame struct {
		Event string      `json:"event"`
		Data  dto.Message `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "newMessage", frame.Event)
	assert.Equal(t, "ping", frame.Data.Content)
}

func TestHealthRoutes(t *testing.T) {
	app := newTestApp(t, defaultConfig())
	for _, path := range []string{"/livez", "/readyz"} {
		rec := httptest.NewRecorder()
		app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
