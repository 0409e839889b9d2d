package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"consulta.cl/internal/audit"
	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/obs"
	"consulta.cl/internal/seed"
	"consulta.cl/internal/store/memory"
)

const testSecret = "handler-test-secret"

type testEnv struct {
	srv    *httptest.Server
	store  *memory.Store
	tokens *auth.Tokens
	admin  *auth.User
	rut    string
}

func newTestEnv(t *testing.T, history audit.Store) *testEnv {
	t.Helper()
	st := memory.New()
	res, err := seed.EnsureAdmin(context.Background(), st.Roles(), st.Users(), seed.DefaultAdmin)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	st.PutCustomer(customers.Customer{
		RUT:        "11.111.111-1",
		Attributes: map[string]any{"nombre": "Ana Pérez", "segmento": "retail"},
	})

	tokens, err := auth.NewTokens(testSecret)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if history == nil {
		history = st.Lookups()
	}
	api := New(Options{
		Ready:           ReadyProbe{Store: st},
		Auth:            auth.NewService(st.Users(), st.Roles(), tokens),
		Customers:       customers.NewService(st.Customers(), history),
		LoginRatePerSec: 100,
		LoginRateBurst:  100,
		Version:         "test",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, tokens: tokens, admin: res.User, rut: "11.111.111-1"}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"usuarioOEmail": seed.DefaultAdmin.Email,
		"password":      seed.DefaultAdmin.Password,
	})
	if code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", code, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login: missing token in %v", body)
	}
	return token
}

func TestLoginIssuesDecodableToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, identifier := range []string{seed.DefaultAdmin.Email, seed.DefaultAdmin.Username} {
		code, body := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
			"usuarioOEmail": identifier,
			"password":      seed.DefaultAdmin.Password,
		})
		if code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", identifier, code)
		}
		claims, err := env.tokens.Parse(body["token"].(string))
		if err != nil {
			t.Fatalf("%s: parse token: %v", identifier, err)
		}
		if claims.UID != env.admin.ID || claims.RolID != env.admin.RoleID {
			t.Fatalf("%s: unexpected claims %+v", identifier, claims)
		}
	}
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	env := newTestEnv(t, nil)

	wrongCode, wrongBody := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"usuarioOEmail": seed.DefaultAdmin.Email,
		"password":      "nope",
	})
	unknownCode, unknownBody := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"usuarioOEmail": "ghost@demo.cl",
		"password":      "nope",
	})
	if wrongCode != http.StatusUnauthorized || unknownCode != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongCode, unknownCode)
	}
	delete(wrongBody, "request_id")
	delete(unknownBody, "request_id")
	if wrongBody["error"] != "Credenciales" || len(wrongBody) != 1 {
		t.Fatalf("unexpected body: %v", wrongBody)
	}
	if unknownBody["error"] != wrongBody["error"] || len(unknownBody) != len(wrongBody) {
		t.Fatalf("bodies differ: %v vs %v", wrongBody, unknownBody)
	}
}

func TestLoginFailureAuditOmitsIdentifier(t *testing.T) {
	st := memory.New()
	tokens, err := auth.NewTokens(testSecret)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	handler := New(Options{
		Ready:     ReadyProbe{Store: st},
		Auth:      auth.NewService(st.Users(), st.Roles(), tokens),
		Customers: customers.NewService(st.Customers(), st.Lookups()),
	}).Handler()

	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	const identifier = "victima@demo.cl"
	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		bytes.NewBufferString(`{"usuarioOEmail":"`+identifier+`","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	logs := buf.String()
	if strings.Contains(logs, identifier) {
		t.Fatalf("identifier leaked into logs: %s", logs)
	}
	if !strings.Contains(logs, "auth.login.failed") || !strings.Contains(logs, audit.Fingerprint(identifier)) {
		t.Fatalf("expected failed login audit with digest, got %s", logs)
	}
}

func TestLoginRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/auth/login", bytes.NewBufferString("{not json"))
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	code, _ := env.do(t, http.MethodGet, "/auth/login", "", nil)
	if code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

func TestMeReturnsClaims(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	code, body := env.do(t, http.MethodGet, "/auth/me", token, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["ok"] != true || body["uid"] != env.admin.ID || body["rolId"] != env.admin.RoleID {
		t.Fatalf("unexpected body: %v", body)
	}

	code, body = env.do(t, http.MethodGet, "/auth/me", "", nil)
	if code != http.StatusUnauthorized || body["error"] != "Token ausente" {
		t.Fatalf("expected 401 Token ausente, got %d %v", code, body)
	}
}

func TestCustomerLookup(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	code, body := env.do(t, http.MethodGet, "/clientes?rut="+env.rut, "", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", code)
	}

	code, body = env.do(t, http.MethodGet, "/clientes?rut="+env.rut, token+"x", nil)
	if code != http.StatusUnauthorized || body["error"] != "Token inválido" {
		t.Fatalf("tampered: expected 401 Token inválido, got %d %v", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/clientes", token, nil)
	if code != http.StatusBadRequest || body["error"] != "Falta rut" {
		t.Fatalf("missing rut: got %d %v", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/clientes?rut=%20%20", token, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("blank rut: expected 400, got %d", code)
	}

	code, body = env.do(t, http.MethodGet, "/clientes?rut=99.999.999-9", token, nil)
	if code != http.StatusNotFound || body["error"] != "Cliente no encontrado" {
		t.Fatalf("unknown rut: got %d %v", code, body)
	}

	if n := len(env.store.LookupHistory()); n != 0 {
		t.Fatalf("expected no history before a successful lookup, got %d", n)
	}

	code, body = env.do(t, http.MethodGet, "/clientes?rut="+env.rut, token, nil)
	if code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d %v", code, body)
	}
	if body["rut"] != env.rut || body["nombre"] != "Ana Pérez" || body["_id"] == nil {
		t.Fatalf("unexpected customer: %v", body)
	}

	history := env.store.LookupHistory()
	if len(history) != 1 {
		t.Fatalf("expected exactly one history record, got %d", len(history))
	}
	rec := history[0]
	if rec.UserID != env.admin.ID || rec.CustomerID != body["_id"] {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Type != audit.TypeLookup || rec.Detail != audit.DetailByRUT || rec.At.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

type failingHistory struct{}

func (failingHistory) Append(context.Context, *audit.Lookup) error {
	return errors.New("history unavailable")
}

func TestCustomerLookupWithoutTraceFails(t *testing.T) {
	env := newTestEnv(t, failingHistory{})
	token := env.login(t)

	code, body := env.do(t, http.MethodGet, "/clientes?rut="+env.rut, token, nil)
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	if _, leaked := body["rut"]; leaked {
		t.Fatalf("customer must not be returned: %v", body)
	}
}

func TestCustomerLookupRequiresPermission(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	role := &auth.Role{Name: "Soporte", Permissions: []string{"usuarios.listar"}}
	if err := env.store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	hash, err := auth.HashPassword("Soporte123!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := env.store.Users().Create(ctx, &auth.User{
		Username: "soporte", Email: "soporte@demo.cl", PasswordHash: hash, RoleID: role.ID,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	code, body := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"usuarioOEmail": "soporte",
		"password":      "Soporte123!",
	})
	if code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %v", code, body)
	}
	token, _ := body["token"].(string)

	code, body = env.do(t, http.MethodGet, "/clientes?rut="+env.rut, token, nil)
	if code != http.StatusForbidden || body["error"] != "Sin permiso" {
		t.Fatalf("expected 403 Sin permiso, got %d %v", code, body)
	}
	if _, leaked := body["rut"]; leaked {
		t.Fatalf("customer must not be returned: %v", body)
	}
	if n := len(env.store.LookupHistory()); n != 0 {
		t.Fatalf("expected no history record, got %d", n)
	}

	// a token naming a role that no longer exists is refused the same way
	ghost, _, err := env.tokens.Issue(env.admin.ID, "missing-role")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	code, _ = env.do(t, http.MethodGet, "/clientes?rut="+env.rut, ghost, nil)
	if code != http.StatusForbidden {
		t.Fatalf("unknown role: expected 403, got %d", code)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if code != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("healthz: %d %v", code, body)
	}
	code, body = env.do(t, http.MethodGet, "/readyz", "", nil)
	if code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("readyz: %d %v", code, body)
	}
	code, _ = env.do(t, http.MethodGet, "/nope", "", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestReadyReportsStoreFailure(t *testing.T) {
	api := New(Options{Ready: ReadyProbe{Store: &stubPinger{err: errors.New("down")}}})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
