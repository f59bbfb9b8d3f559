package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halwright/gatesync/internal/gate"
	"github.com/halwright/gatesync/internal/infrastructure/httpclient"
)

// controllerFake is a scriptable stand-in for the remote controller API.
type controllerFake struct {
	t *testing.T

	loginCalls atomic.Int64
	listCalls  atomic.Int64
	stateCalls atomic.Int64
	cmdCalls   atomic.Int64

	expiresIn    int64 // 0 omits expires_in from the login response
	token        string
	rejectLogin  bool
	listBody     string
	stateStatus  int // 0 means 200
	stateBody    string
	cmdBody      string
	unauthorized atomic.Bool // when set, door endpoints answer 401 once
}

func (f *controllerFake) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls.Add(1)
		if f.rejectLogin {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var creds loginRequest
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]any{"token": f.token}
		if f.expiresIn > 0 {
			resp["expires_in"] = f.expiresIn
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if f.unauthorized.Swap(false) {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			f.t.Errorf("request carried Authorization %q", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("GET /api/v1/doors", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		if !authorized(w, r) {
			return
		}
		_, _ = w.Write([]byte(f.listBody))
	})

	mux.HandleFunc("GET /api/v1/doors/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		f.stateCalls.Add(1)
		if !authorized(w, r) {
			return
		}
		if f.stateStatus != 0 {
			w.WriteHeader(f.stateStatus)
			return
		}
		_, _ = w.Write([]byte(f.stateBody))
	})

	mux.HandleFunc("PUT /api/v1/doors/{id}/desired", func(w http.ResponseWriter, r *http.Request) {
		f.cmdCalls.Add(1)
		if !authorized(w, r) {
			return
		}
		_, _ = w.Write([]byte(f.cmdBody))
	})

	return mux
}

func newTestClient(t *testing.T, fake *controllerFake) *Client {
	t.Helper()
	fake.t = t
	if fake.token == "" {
		fake.token = "tok-1"
	}
	if fake.expiresIn == 0 {
		fake.expiresIn = 3600
	}

	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	executor := httpclient.New(httpclient.Config{
		Timeout:     2 * time.Second,
		BackoffBase: time.Millisecond,
	})
	return New(Config{
		BaseURL:         server.URL,
		Username:        "account",
		Password:        "secret",
		IncludeShared:   false,
		HasBatteryLevel: true,
	}, executor)
}

var testDoor = gate.Device{ID: "1", Name: "front gate", GatewayID: "gw-1"}

func TestClient_TokenCachedAcrossCalls(t *testing.T) {
	fake := &controllerFake{listBody: `{"doors":[]}`}
	client := newTestClient(t, fake)

	for range 3 {
		if _, err := client.ListDevices(context.Background()); err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
	}

	if got := fake.loginCalls.Load(); got != 1 {
		t.Errorf("login calls = %d, want 1 (credential should be cached)", got)
	}
	if got := fake.listCalls.Load(); got != 3 {
		t.Errorf("list calls = %d, want 3", got)
	}
}

func TestClient_ShortLifetimeNotCached(t *testing.T) {
	// A 20s lifetime is inside the 30s safety margin: the credential must
	// not cache at all.
	fake := &controllerFake{listBody: `{"doors":[]}`, expiresIn: 20}
	client := newTestClient(t, fake)

	for range 2 {
		if _, err := client.ListDevices(context.Background()); err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
	}

	if got := fake.loginCalls.Load(); got != 2 {
		t.Errorf("login calls = %d, want 2 (margin-eaten lifetime must not cache)", got)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	fake := &controllerFake{rejectLogin: true}
	client := newTestClient(t, fake)

	_, err := client.ListDevices(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("ListDevices() error = %v, want ErrAuthFailed", err)
	}
}

func TestClient_MissingCredentials(t *testing.T) {
	executor := httpclient.New(httpclient.Config{})
	client := New(Config{BaseURL: "http://controller.invalid"}, executor)

	_, err := client.ListDevices(context.Background())
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("ListDevices() error = %v, want ErrMissingCredentials", err)
	}
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	fake := &controllerFake{listBody: `{"doors":[]}`}
	client := newTestClient(t, fake)

	if _, err := client.ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}

	// The controller revokes the token; the next call fails with
	// ErrAuthFailed and drops the cached credential.
	fake.unauthorized.Store(true)
	if _, err := client.ListDevices(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("ListDevices() after revocation error = %v, want ErrAuthFailed", err)
	}

	if _, err := client.ListDevices(context.Background()); err != nil {
		t.Fatalf("ListDevices() after re-login error = %v", err)
	}
	if got := fake.loginCalls.Load(); got != 2 {
		t.Errorf("login calls = %d, want 2 (revocation must force re-login)", got)
	}
}

func TestClient_ListDevices_FiltersShared(t *testing.T) {
	fake := &controllerFake{
		listBody: `{"doors":[
			{"id":"1","name":"front","gateway_id":"gw-1","slot":0},
			{"id":"2","name":"neighbour","gateway_id":"gw-9","slot":0,"shared":true}
		]}`,
	}
	client := newTestClient(t, fake)

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "1" {
		t.Errorf("ListDevices() = %+v, want only the owned door", devices)
	}
}

func TestClient_ListDevices_IncludesSharedWhenConfigured(t *testing.T) {
	fake := &controllerFake{
		listBody: `{"doors":[
			{"id":"1","name":"front","gateway_id":"gw-1"},
			{"id":"2","name":"neighbour","gateway_id":"gw-9","shared":true}
		]}`,
	}
	client := newTestClient(t, fake)
	client.cfg.IncludeShared = true

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("ListDevices() = %+v, want both doors", devices)
	}
}

func TestClient_ReadState(t *testing.T) {
	fake := &controllerFake{
		stateBody: `{"status":"closing","desired":"closed","battery":72,"fault":false}`,
	}
	client := newTestClient(t, fake)

	state, err := client.ReadState(context.Background(), testDoor)
	if err != nil {
		t.Fatalf("ReadState() error = %v", err)
	}
	if state.Status != gate.StatusClosing || state.Desired != gate.DesiredClosed {
		t.Errorf("ReadState() = %+v", state)
	}
	if state.Battery == nil || *state.Battery != 72 {
		t.Errorf("Battery = %v, want 72", state.Battery)
	}
}

func TestClient_ReadState_NotFoundIsAbsent(t *testing.T) {
	fake := &controllerFake{stateStatus: http.StatusNotFound}
	client := newTestClient(t, fake)

	state, err := client.ReadState(context.Background(), testDoor)
	if err != nil {
		t.Fatalf("ReadState() error = %v, want absent without error", err)
	}
	if state != nil {
		t.Errorf("ReadState() = %+v, want nil (absent)", state)
	}
	if got := fake.stateCalls.Load(); got != 1 {
		t.Errorf("state calls = %d, want 1 (404 must not retry)", got)
	}
}

func TestClient_ReadState_MalformedStatus(t *testing.T) {
	fake := &controllerFake{stateBody: `{"status":"ajar"}`}
	client := newTestClient(t, fake)

	_, err := client.ReadState(context.Background(), testDoor)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("ReadState() error = %v, want ErrMalformedPayload", err)
	}
}

func TestClient_WriteCommand_AllRelaysSucceed(t *testing.T) {
	fake := &controllerFake{cmdBody: `{"ok":true,"results":[{"ok":true},{"ok":true}]}`}
	client := newTestClient(t, fake)

	ok, err := client.WriteCommand(context.Background(), testDoor, gate.DesiredOpen)
	if err != nil {
		t.Fatalf("WriteCommand() error = %v", err)
	}
	if !ok {
		t.Error("WriteCommand() ok = false, want true")
	}
}

func TestClient_WriteCommand_PartialFailure(t *testing.T) {
	fake := &controllerFake{cmdBody: `{"ok":true,"results":[{"ok":true},{"ok":false}]}`}
	client := newTestClient(t, fake)

	ok, err := client.WriteCommand(context.Background(), testDoor, gate.DesiredClosed)
	if err != nil {
		t.Fatalf("WriteCommand() error = %v", err)
	}
	if ok {
		t.Error("WriteCommand() ok = true, want false (one relay failed)")
	}
}

func TestClient_WriteCommand_LegacyResultsOnly(t *testing.T) {
	fake := &controllerFake{cmdBody: `{"results":[{"ok":true}]}`}
	client := newTestClient(t, fake)

	ok, err := client.WriteCommand(context.Background(), testDoor, gate.DesiredOpen)
	if err != nil {
		t.Fatalf("WriteCommand() error = %v", err)
	}
	if !ok {
		t.Error("WriteCommand() ok = false, want true (legacy shape without top-level ok)")
	}
}

// commandServer answers login normally and scripts the command endpoint:
// the first failures 503 responses, then success.
func commandServer(t *testing.T, failures int64) (*Client, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login" {
			_, _ = w.Write([]byte(`{"token":"tok-1","expires_in":3600}`))
			return
		}
		if calls.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"results":[{"ok":true}]}`))
	}))
	t.Cleanup(server.Close)

	executor := httpclient.New(httpclient.Config{BackoffBase: time.Millisecond})
	return New(Config{BaseURL: server.URL, Username: "account", Password: "secret"}, executor), &calls
}

func TestClient_WriteCommand_RetriesServerErrors(t *testing.T) {
	client, calls := commandServer(t, 2)

	ok, err := client.WriteCommand(context.Background(), testDoor, gate.DesiredOpen)
	if err != nil {
		t.Fatalf("WriteCommand() error = %v, want success on the third attempt", err)
	}
	if !ok {
		t.Error("WriteCommand() ok = false, want true")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("command attempts = %d, want 3 (two 503s then success)", got)
	}
}

func TestClient_WriteCommand_ExhaustsRetryBudget(t *testing.T) {
	client, calls := commandServer(t, 1000)

	_, err := client.WriteCommand(context.Background(), testDoor, gate.DesiredOpen)
	if !errors.Is(err, gate.ErrCommandFailed) {
		t.Fatalf("WriteCommand() error = %v, want ErrCommandFailed", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("command attempts = %d, want 3 (budget must bound retries)", got)
	}
}
