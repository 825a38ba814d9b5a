package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-switch/internal/audit"
	"github.com/nerrad567/gray-logic-switch/internal/device"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// switchableDirectory is a device.Directory whose contents and failure can change.
type switchableDirectory struct {
	mu      sync.Mutex
	devices []device.Device
	err     error
}

func (d *switchableDirectory) FetchAll(context.Context) ([]device.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]device.Device(nil), d.devices...), nil
}

func (d *switchableDirectory) set(devices []device.Device, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices, d.err = devices, err
}

// fakeAudit records the filter it was asked for.
type fakeAudit struct {
	mu     sync.Mutex
	filter audit.Filter
	err    error
}

func (a *fakeAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filter = f
	if a.err != nil {
		return nil, a.err
	}
	return &audit.ListResult{
		Entries: []audit.Entry{{ID: "aud-1", RequestID: "req-1", Action: "on", Outcome: audit.OutcomeSuccess}},
		Total:   1,
		Limit:   50,
	}, nil
}

// refreshRecorder is a dispatch.Recorder that keeps directory refreshes.
type refreshRecorder struct {
	mu        sync.Mutex
	refreshes []RefreshEvent
}

func (r *refreshRecorder) WriteDispatchOutcome(string, string, bool, time.Duration) {}

func (r *refreshRecorder) WriteDirectoryRefresh(before, after int, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, RefreshEvent{Before: before, After: after, Stale: stale})
}

func (r *refreshRecorder) Refreshes() []RefreshEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RefreshEvent(nil), r.refreshes...)
}

func testDevices() []device.Device {
	return []device.Device{
		{ID: 1, Topic: "kitchen/light", Alias: "light", Room: "kitchen", PayloadOn: "ON", PayloadOff: "OFF"},
		{ID: 2, Topic: "kitchen/plug/coffee", Alias: "coffee maker", Room: "kitchen", PayloadOn: "ON", PayloadOff: "OFF"},
		{ID: 3, Topic: "bedroom/light", Alias: "light", Room: "bedroom", PayloadOn: "ON", PayloadOff: "OFF"},
	}
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	dir   *switchableDirectory
	audit *fakeAudit
	rec   *refreshRecorder
}

// newTestEnv serves a Server over httptest with a cache over a switchable directory.
func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()

	dir := &switchableDirectory{devices: testDevices()}
	aud := &fakeAudit{}
	rec := &refreshRecorder{}
	srv, err := New(Deps{
		Config:   cfg,
		Logger:   testLogger(),
		Catalog:  device.NewCache(dir),
		Audit:    aud,
		Recorder: rec,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return &testEnv{srv: srv, http: ts, dir: dir, audit: aud, rec: rec}
}

func (e *testEnv) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Catalog: device.NewCache(&switchableDirectory{})}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without catalog should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testConfig())

	resp := env.do(t, http.MethodGet, "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health = %v", body)
	}
}

func TestHealth_DegradedWhenStale(t *testing.T) {
	env := newTestEnv(t, testConfig())

	env.do(t, http.MethodGet, "/api/v1/devices", "")
	env.dir.set(nil, errors.New("database is locked"))
	env.do(t, http.MethodPost, "/api/v1/devices/refresh", "")

	body := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/health", ""))
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name      string
		path      string
		wantCount int
	}{
		{"all", "/api/v1/devices", 3},
		{"room filter", "/api/v1/devices?room=Kitchen", 2},
		{"unknown room", "/api/v1/devices?room=garage", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			body := decode[DeviceListResponse](t, resp)
			if body.Count != tt.wantCount || len(body.Devices) != tt.wantCount {
				t.Errorf("count = %d, devices = %d, want %d", body.Count, len(body.Devices), tt.wantCount)
			}
			if len(body.Rooms) != 2 {
				t.Errorf("rooms = %v, want bedroom and kitchen", body.Rooms)
			}
			if body.Devices == nil {
				t.Error("devices should encode as an empty list, not null")
			}
		})
	}
}

func TestListDevices_DirectoryUnavailable(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.dir.set(nil, errors.New("unable to open database file"))

	resp := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body := decode[Error](t, resp); body.Code != ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeUnavailable)
	}
}

func TestRefreshDevices(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.do(t, http.MethodGet, "/api/v1/devices", "")

	env.dir.set(testDevices()[:1], nil)
	body := decode[RefreshResponse](t, env.do(t, http.MethodPost, "/api/v1/devices/refresh", ""))
	if body.Before != 3 || body.After != 1 || body.Stale {
		t.Errorf("refresh = %+v, want 3 -> 1, not stale", body)
	}

	env.dir.set(nil, errors.New("disk I/O error"))
	resp := env.do(t, http.MethodPost, "/api/v1/devices/refresh", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stale refresh status = %d, want 200", resp.StatusCode)
	}
	body = decode[RefreshResponse](t, resp)
	if !body.Stale || body.After != 1 || body.Warning == "" {
		t.Errorf("stale refresh = %+v", body)
	}

	want := []RefreshEvent{{Before: 3, After: 1}, {Before: 1, After: 1, Stale: true}}
	if got := env.rec.Refreshes(); !slices.Equal(got, want) {
		t.Errorf("recorded refreshes = %+v, want %+v", got, want)
	}
}

func TestRefreshDevices_NoSnapshot(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.dir.set(nil, errors.New("no such table: switch_devices"))

	resp := env.do(t, http.MethodPost, "/api/v1/devices/refresh", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if got := env.rec.Refreshes(); len(got) != 0 {
		t.Errorf("failed refresh was recorded: %+v", got)
	}
}

func TestListAudit(t *testing.T) {
	env := newTestEnv(t, testConfig())

	resp := env.do(t, http.MethodGet, "/api/v1/audit?request_id=req-1&room=kitchen&outcome=failure&limit=10&offset=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[audit.ListResult](t, resp)
	if body.Total != 1 || len(body.Entries) != 1 {
		t.Errorf("result = %+v", body)
	}

	want := audit.Filter{RequestID: "req-1", Room: "kitchen", Outcome: audit.OutcomeFailure, Limit: 10, Offset: 5}
	env.audit.mu.Lock()
	got := env.audit.filter
	env.audit.mu.Unlock()
	if got != want {
		t.Errorf("filter = %+v, want %+v", got, want)
	}
}

func TestListAudit_BadRequest(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, path := range []string{
		"/api/v1/audit?outcome=maybe",
		"/api/v1/audit?limit=ten",
		"/api/v1/audit?offset=1.5",
	} {
		if resp := env.do(t, http.MethodGet, path, ""); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestListAudit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		audit  AuditLister
		status int
	}{
		{"repository error", &fakeAudit{err: errors.New("database is locked")}, http.StatusInternalServerError},
		{"not configured", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(Deps{
				Config:  testConfig(),
				Logger:  testLogger(),
				Catalog: device.NewCache(&switchableDirectory{}),
				Audit:   tt.audit,
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = testSecret
	env := newTestEnv(t, cfg)

	valid, err := GenerateToken("operator", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	foreign, err := GenerateToken("operator", "some-other-secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"health needs no token", "/api/v1/health", "", http.StatusOK},
		{"missing token", "/api/v1/devices", "", http.StatusUnauthorized},
		{"foreign token", "/api/v1/devices", foreign, http.StatusUnauthorized},
		{"garbage token", "/api/v1/devices", "not-a-jwt", http.StatusUnauthorized},
		{"valid header token", "/api/v1/devices", valid, http.StatusOK},
		{"valid query token", "/api/v1/devices?token=" + valid, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := env.do(t, http.MethodGet, tt.path, tt.token); resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "Bearer abc", "", "abc"},
		{"header wins over query", "Bearer abc", "xyz", "abc"},
		{"non-bearer header", "Basic abc", "xyz", ""},
		{"query", "", "xyz", "xyz"},
		{"none", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/devices?token="+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(r); got != tt.want {
				t.Errorf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	token, err := GenerateToken("operator", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "operator" || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}

	expired, err := GenerateToken("operator", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	noSubject, err := GenerateToken("", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	for name, tok := range map[string]string{
		"expired":    expired,
		"no subject": noSubject,
		"garbage":    "not-a-valid-jwt",
	} {
		if _, err := ParseToken(tok, testSecret); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ParseToken(%s) error = %v, want ErrTokenInvalid", name, err)
		}
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "satellite-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "satellite-42" {
		t.Errorf("X-Request-ID = %q, want satellite-42", got)
	}

	if got := env.do(t, http.MethodGet, "/api/v1/health", "").Header.Get("X-Request-ID"); got == "" {
		t.Error("X-Request-ID not generated")
	}
}

// panicCatalog panics on every read.
type panicCatalog struct{}

func (panicCatalog) Get(context.Context) (*device.Snapshot, error) { panic("boom") }
func (panicCatalog) Refresh(context.Context) (device.RefreshStats, error) {
	return device.RefreshStats{}, nil
}
func (panicCatalog) Stale() bool { return false }

func TestRecoveryMiddleware(t *testing.T) {
	srv, err := New(Deps{Config: testConfig(), Logger: testLogger(), Catalog: panicCatalog{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, err := New(Deps{Config: testConfig(), Logger: testLogger(), Catalog: device.NewCache(&switchableDirectory{})})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first, err := New(Deps{Config: testConfig(), Logger: testLogger(), Catalog: device.NewCache(&switchableDirectory{})})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Close()

	cfg := testConfig()
	_, port, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	if cfg.Port, err = strconv.Atoi(port); err != nil {
		t.Fatalf("parsing port %q: %v", port, err)
	}

	second, err := New(Deps{Config: cfg, Logger: testLogger(), Catalog: device.NewCache(&switchableDirectory{})})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Error("Start() on a bound port should fail")
	}
}

func TestClose_NotStarted(t *testing.T) {
	srv, err := New(Deps{Config: testConfig(), Logger: testLogger(), Catalog: device.NewCache(&switchableDirectory{})})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
