package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/config"
	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/hub"
	"github.com/xiaot623/gogo/locshare/internal/limiter"
	"github.com/xiaot623/gogo/locshare/internal/metrics"
	"github.com/xiaot623/gogo/locshare/internal/repository"
	"github.com/xiaot623/gogo/locshare/internal/scheduler"
	"github.com/xiaot623/gogo/locshare/internal/service"
	"github.com/xiaot623/gogo/locshare/tests/helpers"
)

type recordingNotifier struct {
	mu       sync.Mutex
	sessions []string
}

func (r *recordingNotifier) ParticipantsChanged(_ context.Context, sessionID string) {
	r.mu.Lock()
	r.sessions = append(r.sessions, sessionID)
	r.mu.Unlock()
}

func (r *recordingNotifier) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sessions...)
}

type testAPI struct {
	public   *Server
	internal *InternalServer
	svc      *service.Service
	store    *store.SQLiteStore
	notifier *recordingNotifier
}

func testConfig() *config.Config {
	return &config.Config{
		CreateSessionPerMinute: 60,
		APIRequestsPerMinute:   60,
		DesktopOfflineDelay:    2 * time.Minute,
		MobileOfflineDelay:     5 * time.Minute,
		PageCloseOfflineDelay:  12 * time.Hour,
		OfflineMargin:          30 * time.Second,
		PageCloseMargin:        time.Minute,
		StayDistanceThreshold:  30,
		IdentityLookback:       7 * 24 * time.Hour,
		ChatHistoryWindow:      24 * time.Hour,
		SessionRetention:       24 * time.Hour,
		OfflineRetention:       7 * 24 * time.Hour,
		AuditRetention:         30 * 24 * time.Hour,
	}
}

func newTestAPI(t *testing.T, configure ...func(*config.Config)) *testAPI {
	t.Helper()

	cfg := testConfig()
	for _, fn := range configure {
		fn(cfg)
	}

	db := helpers.NewTestSQLiteStore(t)
	sched := scheduler.NewLocal(zap.NewNop())
	t.Cleanup(func() { _ = sched.Close() })

	svc := service.New(db, sched, cfg, zap.NewNop())
	notifier := &recordingNotifier{}

	return &testAPI{
		public:   NewServer(cfg, svc, limiter.NewMemoryCounter(), notifier, zap.NewNop()),
		internal: NewInternalServer(hub.NewHub(zap.NewNop(), nil), svc, metrics.New(), zap.NewNop()),
		svc:      svc,
		store:    db,
		notifier: notifier,
	}
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateSession(t *testing.T) {
	api := newTestAPI(t)

	rec, body := do(t, api.public.Echo(), http.MethodPost, "/api/sessions", `{"duration_minutes":60}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	id, _ := body["session_id"].(string)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, float64(60), body["duration_minutes"])
	assert.Equal(t, "http://example.com/share/"+id+"/", body["share_url"])
	assert.Equal(t, "ws://example.com/ws/location/"+id+"/", body["websocket_url"])

	session, err := api.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 60, session.DurationMinutes)
}

func TestCreateSessionDurations(t *testing.T) {
	api := newTestAPI(t)

	rec, body := do(t, api.public.Echo(), http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(domain.DefaultDurationMinutes), body["duration_minutes"])

	rec, body = do(t, api.public.Echo(), http.MethodPost, "/api/sessions", `{"duration_minutes":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "duration_minutes")

	rec, _ = do(t, api.public.Echo(), http.MethodPost, "/api/sessions", `{"duration_minutes":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSessionRateLimited(t *testing.T) {
	api := newTestAPI(t, func(c *config.Config) { c.CreateSessionPerMinute = 2 })

	for i := 0; i < 2; i++ {
		rec, _ := do(t, api.public.Echo(), http.MethodPost, "/api/sessions", "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec, body := do(t, api.public.Echo(), http.MethodPost, "/api/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestGetSession(t *testing.T) {
	api := newTestAPI(t)
	session := helpers.CreateTestSession(t, api.store, time.Hour)

	rec, body := do(t, api.public.Echo(), http.MethodGet, "/api/sessions/"+session.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.ID, body["session_id"])
	assert.Equal(t, false, body["is_expired"])
	assert.Equal(t, float64(0), body["participant_count"])

	rec, _ = do(t, api.public.Echo(), http.MethodGet, "/api/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, api.public.Echo(), http.MethodGet, "/api/sessions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetLocationsOfExpiredSession(t *testing.T) {
	api := newTestAPI(t)
	expired := helpers.CreateTestSession(t, api.store, -time.Minute)

	rec, _ := do(t, api.public.Echo(), http.MethodGet, "/api/sessions/"+expired.ID+"/locations", "")
	assert.Equal(t, http.StatusGone, rec.Code)

	rec, body := do(t, api.public.Echo(), http.MethodGet, "/api/sessions/"+expired.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_expired"])
}

func TestFallbackUpdateAndLeave(t *testing.T) {
	api := newTestAPI(t)
	session := helpers.CreateTestSession(t, api.store, time.Hour)
	pid := uuid.NewString()
	base := "/api/sessions/" + session.ID

	rec, body := do(t, api.public.Echo(), http.MethodPost, base+"/update",
		`{"participant_id":"`+pid+`","participant_name":"Alice","latitude":35.0,"longitude":139.0,"accuracy":-3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []string{session.ID}, api.notifier.calls())

	rec, body = do(t, api.public.Echo(), http.MethodGet, base+"/locations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	locations, _ := body["locations"].([]interface{})
	require.Len(t, locations, 1)
	entry, _ := locations[0].(map[string]interface{})
	assert.Equal(t, pid, entry["participant_id"])
	assert.Equal(t, "sharing", entry["status"])
	assert.Equal(t, float64(0), entry["accuracy"])

	rec, _ = do(t, api.public.Echo(), http.MethodPost, base+"/stop-sharing", `{"participant_id":"`+pid+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	p, err := api.store.GetParticipant(context.Background(), session.ID, pid)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, p.Status)
	assert.Equal(t, "Alice", p.Name)

	rec, _ = do(t, api.public.Echo(), http.MethodPost, base+"/leave", `{"participant_id":"`+pid+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	p, err = api.store.GetParticipant(context.Background(), session.ID, pid)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Len(t, api.notifier.calls(), 3)
}

func TestFallbackOfflineAndRename(t *testing.T) {
	api := newTestAPI(t)
	session := helpers.CreateTestSession(t, api.store, time.Hour)
	pid := uuid.NewString()
	base := "/api/sessions/" + session.ID

	rec, _ := do(t, api.public.Echo(), http.MethodPost, base+"/update",
		`{"participant_id":"`+pid+`","latitude":35.0,"longitude":139.0}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, api.public.Echo(), http.MethodPost, base+"/update-name", `{"participant_id":"`+pid+`","participant_name":"Bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, api.public.Echo(), http.MethodPost, base+"/update-name", `{"participant_id":"`+pid+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, api.public.Echo(), http.MethodPost, base+"/offline", `{"participant_id":"`+pid+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := api.store.GetParticipant(context.Background(), session.ID, pid)
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.Equal(t, domain.StatusStopped, p.Status)
	assert.Equal(t, "Bob", p.Name)
	assert.True(t, p.HasLocation())
}

func TestFallbackRejections(t *testing.T) {
	api := newTestAPI(t)
	session := helpers.CreateTestSession(t, api.store, time.Hour)
	expired := helpers.CreateTestSession(t, api.store, -time.Minute)
	pid := uuid.NewString()

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"missing participant", "/api/sessions/" + session.ID + "/update", `{"latitude":1,"longitude":1}`, http.StatusBadRequest},
		{"bad participant id", "/api/sessions/" + session.ID + "/leave", `{"participant_id":"abc"}`, http.StatusBadRequest},
		{"out of range", "/api/sessions/" + session.ID + "/update", `{"participant_id":"` + pid + `","latitude":91,"longitude":1}`, http.StatusBadRequest},
		{"missing coordinates", "/api/sessions/" + session.ID + "/update", `{"participant_id":"` + pid + `"}`, http.StatusBadRequest},
		{"bad json", "/api/sessions/" + session.ID + "/offline", `{"participant_id":`, http.StatusBadRequest},
		{"unknown session", "/api/sessions/" + uuid.NewString() + "/offline", `{"participant_id":"` + pid + `"}`, http.StatusNotFound},
		{"expired session", "/api/sessions/" + expired.ID + "/update", `{"participant_id":"` + pid + `","latitude":1,"longitude":1}`, http.StatusGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, api.public.Echo(), http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, api.notifier.calls())
}

func TestFallbackRateLimited(t *testing.T) {
	api := newTestAPI(t, func(c *config.Config) { c.APIRequestsPerMinute = 1 })
	session := helpers.CreateTestSession(t, api.store, time.Hour)
	body := `{"participant_id":"` + uuid.NewString() + `"}`

	rec, _ := do(t, api.public.Echo(), http.MethodPost, "/api/sessions/"+session.ID+"/offline", body)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, api.public.Echo(), http.MethodPost, "/api/sessions/"+session.ID+"/offline", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other actions have their own budget, and ping gets three times as much.
	for i := 0; i < 3; i++ {
		rec, _ = do(t, api.public.Echo(), http.MethodPost, "/api/sessions/"+session.ID+"/ping", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ = do(t, api.public.Echo(), http.MethodPost, "/api/sessions/"+session.ID+"/ping", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestFallbackPing(t *testing.T) {
	api := newTestAPI(t)
	session := helpers.CreateTestSession(t, api.store, time.Hour)
	pid := uuid.NewString()
	base := "/api/sessions/" + session.ID

	rec, _ := do(t, api.public.Echo(), http.MethodPost, base+"/update",
		`{"participant_id":"`+pid+`","latitude":35.0,"longitude":139.0}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, api.public.Echo(), http.MethodPost, base+"/ping", `{"participant_id":"`+pid+`","timestamp":123}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["pong"])
	assert.Equal(t, float64(123), body["timestamp"])
	assert.NotEmpty(t, body["server_time"])

	p, err := api.store.GetParticipant(context.Background(), session.ID, pid)
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.Equal(t, domain.StatusSharing, p.Status)

	// Pinging an unknown participant still answers.
	rec, body = do(t, api.public.Echo(), http.MethodPost, base+"/ping", `{"participant_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["timestamp"])
}

func TestStatsAndHealth(t *testing.T) {
	api := newTestAPI(t)
	helpers.CreateTestSession(t, api.store, time.Hour)

	rec, body := do(t, api.public.Echo(), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["active_sessions_count"])
	assert.Equal(t, float64(0), body["online_participants_count"])

	rec, body = do(t, api.public.Echo(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestInternalHealth(t *testing.T) {
	api := newTestAPI(t)

	rec, body := do(t, api.internal.echo, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["connections"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestInternalSweep(t *testing.T) {
	api := newTestAPI(t)
	helpers.CreateTestSession(t, api.store, -time.Minute)
	helpers.CreateTestSession(t, api.store, time.Hour)

	rec, body := do(t, api.internal.echo, http.MethodPost, "/internal/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["deactivated_sessions"])

	rec, body = do(t, api.internal.echo, http.MethodPost, "/internal/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["deactivated_sessions"])
}

func TestInternalSessionLogs(t *testing.T) {
	api := newTestAPI(t)
	session, err := api.svc.CreateSession(context.Background(), 30)
	require.NoError(t, err)

	rec, body := do(t, api.internal.echo, http.MethodGet, "/internal/sessions/"+session.ID+"/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries, _ := body["entries"].([]interface{})
	require.Len(t, entries, 1)
	entry, _ := entries[0].(map[string]interface{})
	assert.Equal(t, string(domain.AuditCreated), entry["action"])

	rec, _ = do(t, api.internal.echo, http.MethodGet, "/internal/sessions/"+session.ID+"/logs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, api.internal.echo, http.MethodGet, "/internal/sessions/"+uuid.NewString()+"/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := do(t, api.internal.echo, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "locshare_open_connections 0")
}

func TestInternalParticipant(t *testing.T) {
	api := newTestAPI(t)
	session := helpers.CreateTestSession(t, api.store, time.Hour)
	pid := uuid.NewString()

	rec, _ := do(t, api.public.Echo(), http.MethodPost, "/api/sessions/"+session.ID+"/update",
		`{"participant_id":"`+pid+`","participant_name":"Alice","latitude":35.0,"longitude":139.0}`)
	require.Equal(t, http.StatusOK, rec.Code)

	target := "/internal/sessions/" + session.ID + "/participants/"
	rec, body := do(t, api.internal.echo, http.MethodGet, target+pid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pid, body["participant_id"])
	assert.Equal(t, "Alice", body["participant_name"])

	rec, body = do(t, api.internal.echo, http.MethodGet, target+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "participant not found", body["error"])
}
