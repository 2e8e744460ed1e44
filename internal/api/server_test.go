package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tunnelnet/controlplane/internal/admission"
	"github.com/tunnelnet/controlplane/internal/auth"
	"github.com/tunnelnet/controlplane/internal/domain"
	"github.com/tunnelnet/controlplane/internal/eventbus"
	"github.com/tunnelnet/controlplane/internal/fsm"
	"github.com/tunnelnet/controlplane/internal/heartbeat"
	"github.com/tunnelnet/controlplane/internal/livenesscache"
	"github.com/tunnelnet/controlplane/internal/relay"
	"github.com/tunnelnet/controlplane/internal/store"
	"github.com/tunnelnet/controlplane/internal/tokenbroker"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cache, err := livenesscache.New(1024)
	if err != nil {
		t.Fatalf("livenesscache.New() error = %v", err)
	}

	relays := relay.New(db)
	broker := tokenbroker.New(db, time.Hour)
	bus := eventbus.New()
	f := fsm.New(db, relays, broker, cache, bus, 30*time.Second)
	hb := heartbeat.New(db, cache, f, heartbeat.Params{HeartbeatTimeout: 30 * time.Second, IdleTimeout: 30 * time.Minute})
	ag := admission.New(db, relays, admission.DefaultReservedPct)

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = []byte("test-secret")
	authSvc := auth.New(db, authCfg)

	srv := NewServer(Deps{
		Store: db, FSM: f, Heartbeats: hb, Tokens: broker, Relays: relays,
		Admission: ag, Bus: bus, Auth: authSvc, InternalAPIKey: "internal-secret",
	})
	return srv, srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func signupAndLogin(t *testing.T, h http.Handler) authResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/signup", signupRequest{
		Email: "dev@example.com", Password: "hunter2pass", Name: "Dev",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res authResponse
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return res
}

func TestHealthEndpoint_OK(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSignupLoginAndMe(t *testing.T) {
	_, h := newTestServer(t)
	session := signupAndLogin(t, h)

	login := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", loginRequest{
		Email: "dev@example.com", Password: "hunter2pass",
	}, "")
	if login.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", login.Code, login.Body.String())
	}

	me := doJSON(t, h, http.MethodGet, "/api/v1/auth/me", nil, session.Token)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d, body = %s", me.Code, me.Body.String())
	}
}

func TestMe_MissingBearerTokenIsUnauthorized(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/me", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateInstanceThenList(t *testing.T) {
	_, h := newTestServer(t)
	session := signupAndLogin(t, h)

	create := doJSON(t, h, http.MethodPost, "/api/v1/instances", createInstanceRequest{
		Name: "laptop", LocalPort: 3000,
	}, session.Token)
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", create.Code, create.Body.String())
	}

	list := doJSON(t, h, http.MethodGet, "/api/v1/instances", nil, session.Token)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", list.Code, list.Body.String())
	}
}

func TestInternalValidateKey_RequiresInternalAPIKey(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/internal/validate-key", validateKeyRequest{Token: "nope"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without internal key header", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/validate-key", bytes.NewBufferString(`{"token":"nope"}`))
	req.Header.Set("X-Internal-Api-Key", "internal-secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with internal key header, body = %s", w.Code, w.Body.String())
	}
}

func TestConnect_UnknownInstanceReturnsNotFound(t *testing.T) {
	_, h := newTestServer(t)
	session := signupAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/instances/does-not-exist/connect", nil, session.Token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}

func TestConnect_QuotaExceededReturns429(t *testing.T) {
	s, h := newTestServer(t)
	session := signupAndLogin(t, h)

	var sessionUser struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(mustMarshal(t, session.User), &sessionUser); err != nil {
		t.Fatalf("decode session user: %v", err)
	}

	// Create the instance to connect while the quota still has room:
	// instance creation passes through the same admission gate.
	create := doJSON(t, h, http.MethodPost, "/api/v1/instances", createInstanceRequest{
		Name: "second", LocalPort: 4000,
	}, session.Token)
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", create.Code, create.Body.String())
	}
	var inst domain.Instance
	if err := json.NewDecoder(create.Body).Decode(&inst); err != nil {
		t.Fatalf("decode created instance: %v", err)
	}

	// A trial user's quota is then exhausted by one active tunnel,
	// set up directly against the store to isolate the quota check from
	// the connect flow that would otherwise produce it (§8 scenario 3).
	if _, err := s.store.CreateInstance(context.Background(), domain.Instance{
		Owner: sessionUser.ID, Name: "already-active", Status: domain.StatusActive, TunnelConnected: true,
	}); err != nil {
		t.Fatalf("seed active instance: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/instances/"+inst.ID+"/connect", nil, session.Token)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("connect status = %d, want 429, body = %s", rec.Code, rec.Body.String())
	}
}

func TestReportRelayLoad_UpdatesFleetStats(t *testing.T) {
	_, h := newTestServer(t)

	register := httptest.NewRequest(http.MethodPost, "/api/v1/internal/relays", bytes.NewBufferString(
		`{"id":"r1","host":"relay1.example.com","port":7000,"max_tunnels":10,"status":"active"}`))
	register.Header.Set("Content-Type", "application/json")
	register.Header.Set("X-Internal-Api-Key", "internal-secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, register)
	if w.Code != http.StatusOK {
		t.Fatalf("register relay status = %d, body = %s", w.Code, w.Body.String())
	}

	report := httptest.NewRequest(http.MethodPost, "/api/v1/internal/relays/r1/load", bytes.NewBufferString(
		`{"currentLoad":4,"currentBwMbps":250}`))
	report.Header.Set("Content-Type", "application/json")
	report.Header.Set("X-Internal-Api-Key", "internal-secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, report)
	if w.Code != http.StatusNoContent {
		t.Fatalf("report load status = %d, want 204, body = %s", w.Code, w.Body.String())
	}

	stats := httptest.NewRequest(http.MethodGet, "/api/v1/internal/fleet-stats", nil)
	stats.Header.Set("X-Internal-Api-Key", "internal-secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, stats)
	if w.Code != http.StatusOK {
		t.Fatalf("fleet-stats status = %d, body = %s", w.Code, w.Body.String())
	}
	var fs domain.FleetStats
	if err := json.NewDecoder(w.Body).Decode(&fs); err != nil {
		t.Fatalf("decode fleet stats: %v", err)
	}
	if fs.TotalLoad != 4 {
		t.Errorf("TotalLoad = %d, want 4 after load report", fs.TotalLoad)
	}
}

func TestEvents_StreamsAndClosesWithContext(t *testing.T) {
	_, h := newTestServer(t)
	session := signupAndLogin(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}
