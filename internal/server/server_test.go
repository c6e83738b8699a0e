package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Isaries/RCSL-SQL-Client/internal/auditlog"
	"github.com/Isaries/RCSL-SQL-Client/internal/config"
	"github.com/Isaries/RCSL-SQL-Client/internal/sqlexec"
	"github.com/Isaries/RCSL-SQL-Client/internal/store"
)

type testEnv struct {
	api     *httptest.Server
	cfg     *config.Provider
	audit   *auditlog.Store
	envPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "local_data.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	envPath := filepath.Join(dir, ".env")
	cfg, err := config.NewProvider(envPath)
	if err != nil {
		t.Fatalf("config.NewProvider: %v", err)
	}

	exec, err := sqlexec.New(cfg, nil)
	if err != nil {
		t.Fatalf("sqlexec.New: %v", err)
	}

	audit, err := auditlog.New(auditlog.Options{Dir: filepath.Join(dir, "audit")})
	if err != nil {
		t.Fatalf("auditlog.New: %v", err)
	}

	srv, err := New(Options{Store: st, Config: cfg, Executor: exec, Audit: audit})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	return &testEnv{api: api, cfg: cfg, audit: audit, envPath: envPath}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.api.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := e.api.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("response not a JSON object: %q", raw)
		}
	}
	return resp.StatusCode, out
}

func (e *testEnv) doList(t *testing.T, path string) []map[string]any {
	t.Helper()

	resp, err := e.api.Client().Get(e.api.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out
}

func (e *testEnv) configure(t *testing.T, apiURL string) {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/setup", map[string]string{
		"api_url": apiURL, "username": "user", "password": "pass",
	})
	if code != http.StatusOK || body["status"] != "saved" {
		t.Fatalf("setup: code=%d body=%v", code, body)
	}
}

func TestStatusAndSetupFlow(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK || body["configured"] != false {
		t.Fatalf("status before setup: code=%d body=%v", code, body)
	}

	// Missing fields are rejected before anything is written.
	code, body = e.do(t, http.MethodPost, "/api/setup", map[string]string{"api_url": "x"})
	if code != http.StatusBadRequest || body["error"] == "" {
		t.Fatalf("partial setup: code=%d body=%v", code, body)
	}

	e.configure(t, "https://db.example.com/sql")

	code, body = e.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK || body["configured"] != true {
		t.Fatalf("status after setup: code=%d body=%v", code, body)
	}
}

func TestExecuteEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"result": [{"val": "A"}]}`))
	}))
	defer upstream.Close()

	// Not configured: 401, no outbound call.
	code, body := e.do(t, http.MethodPost, "/api/execute", map[string]string{"sql": "SELECT 1"})
	if code != http.StatusUnauthorized || body["error"] == "" {
		t.Fatalf("unconfigured execute: code=%d body=%v", code, body)
	}
	if calls.Load() != 0 {
		t.Fatalf("outbound call made while unconfigured")
	}

	e.configure(t, upstream.URL)

	// Empty sql: validation, still no outbound call.
	code, _ = e.do(t, http.MethodPost, "/api/execute", map[string]string{"sql": "  "})
	if code != http.StatusBadRequest {
		t.Fatalf("empty sql: code=%d", code)
	}
	if calls.Load() != 0 {
		t.Fatalf("outbound call made for empty sql")
	}

	code, body = e.do(t, http.MethodPost, "/api/execute", map[string]string{"sql": "SELECT val FROM t"})
	if code != http.StatusOK {
		t.Fatalf("execute: code=%d body=%v", code, body)
	}
	want := []any{map[string]any{"val": "A"}}
	if diff := cmp.Diff(want, body["data"]); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	// The attempt landed in the audit trail.
	entries, err := e.audit.List(10)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(entries) == 0 || entries[0].Status != "success" {
		t.Fatalf("audit entries: %+v", entries)
	}
}

func TestExecutePlainTextBodyIsData(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("ERROR: syntax"))
	}))
	defer upstream.Close()
	e.configure(t, upstream.URL)

	code, body := e.do(t, http.MethodPost, "/api/execute", map[string]string{"sql": "SELEC 1"})
	if code != http.StatusOK {
		t.Fatalf("code=%d, want 200: upstream text is data, not failure", code)
	}
	if body["data"] != "ERROR: syntax" {
		t.Fatalf("data=%v", body["data"])
	}
}

func TestExecuteTransportFailure(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	upstream.Close()
	e.configure(t, upstream.URL)

	code, body := e.do(t, http.MethodPost, "/api/execute", map[string]string{"sql": "SELECT 1"})
	if code != http.StatusInternalServerError || body["error"] == "" {
		t.Fatalf("transport failure: code=%d body=%v", code, body)
	}

	entries, err := e.audit.List(1)
	if err != nil || len(entries) != 1 || entries[0].Status != "failure" {
		t.Fatalf("audit after failure: entries=%+v err=%v", entries, err)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	if got := e.doList(t, "/api/history"); len(got) != 0 {
		t.Fatalf("fresh history not empty: %v", got)
	}

	code, body := e.do(t, http.MethodPost, "/api/history", map[string]string{"sql": "SELECT 1"})
	if code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("append: code=%d body=%v", code, body)
	}
	code, body = e.do(t, http.MethodPost, "/api/history", map[string]string{"sql": "SELECT 1"})
	if code != http.StatusOK || body["status"] != "ignored_duplicate" {
		t.Fatalf("duplicate append: code=%d body=%v", code, body)
	}

	code, _ = e.do(t, http.MethodPost, "/api/history", map[string]string{})
	if code != http.StatusBadRequest {
		t.Fatalf("missing sql: code=%d", code)
	}

	list := e.doList(t, "/api/history")
	if len(list) != 1 || list[0]["sql"] != "SELECT 1" {
		t.Fatalf("history list: %v", list)
	}

	id := int64(list[0]["id"].(float64))
	code, body = e.do(t, http.MethodDelete, "/api/history/"+jsonID(id), nil)
	if code != http.StatusOK || body["status"] != "deleted" {
		t.Fatalf("delete: code=%d body=%v", code, body)
	}
	// Idempotent: deleting again still reports success.
	code, _ = e.do(t, http.MethodDelete, "/api/history/"+jsonID(id), nil)
	if code != http.StatusOK {
		t.Fatalf("repeat delete: code=%d", code)
	}

	code, _ = e.do(t, http.MethodDelete, "/api/history/not-a-number", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("bad id: code=%d", code)
	}
}

func TestQuickAccessEndpoints(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	for _, req := range []map[string]string{
		{"name": "A", "sql": "SELECT 1"},
		{"name": "B", "sql": "SELECT 2"},
	} {
		code, body := e.do(t, http.MethodPost, "/api/quick_access", req)
		if code != http.StatusOK || body["status"] != "success" {
			t.Fatalf("add %v: code=%d body=%v", req, code, body)
		}
	}

	// Duplicate name: 409 and the table is unchanged.
	code, body := e.do(t, http.MethodPost, "/api/quick_access", map[string]string{"name": "A", "sql": "SELECT 9"})
	if code != http.StatusConflict || body["error"] == "" {
		t.Fatalf("conflict: code=%d body=%v", code, body)
	}

	list := e.doList(t, "/api/quick_access")
	if len(list) != 2 || list[0]["name"] != "A" || list[1]["name"] != "B" {
		t.Fatalf("quick access list: %v", list)
	}
	idA := int64(list[0]["id"].(float64))
	idB := int64(list[1]["id"].(float64))

	code, body = e.do(t, http.MethodPut, "/api/quick_access/reorder", map[string][]int64{"ids": {idB, idA}})
	if code != http.StatusOK || body["status"] != "reordered" {
		t.Fatalf("reorder: code=%d body=%v", code, body)
	}

	list = e.doList(t, "/api/quick_access")
	gotNames := []string{list[0]["name"].(string), list[1]["name"].(string)}
	if diff := cmp.Diff([]string{"B", "A"}, gotNames); diff != "" {
		t.Fatalf("order after reorder (-want +got):\n%s", diff)
	}
	if list[0]["sort_order"] != float64(0) || list[1]["sort_order"] != float64(1) {
		t.Fatalf("sort orders after reorder: %v", list)
	}

	code, body = e.do(t, http.MethodPut, "/api/quick_access/"+jsonID(idA), map[string]string{"name": "A2", "sql": "SELECT 10"})
	if code != http.StatusOK || body["status"] != "updated" {
		t.Fatalf("update: code=%d body=%v", code, body)
	}

	code, _ = e.do(t, http.MethodPut, "/api/quick_access/reorder", map[string]any{"ids": []int64{}})
	if code != http.StatusBadRequest {
		t.Fatalf("empty reorder: code=%d", code)
	}

	code, body = e.do(t, http.MethodDelete, "/api/quick_access/"+jsonID(idB), nil)
	if code != http.StatusOK || body["status"] != "deleted" {
		t.Fatalf("delete: code=%d body=%v", code, body)
	}
	list = e.doList(t, "/api/quick_access")
	if len(list) != 1 || list[0]["name"] != "A2" {
		t.Fatalf("list after delete: %v", list)
	}
}

func TestConnectionEndpoints(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	code, body := e.do(t, http.MethodPost, "/api/connections", map[string]string{
		"name": "prod", "api_url": "https://db.example.com/sql", "username": "u", "password": "p",
	})
	if code != http.StatusOK || body["status"] != "saved" {
		t.Fatalf("save: code=%d body=%v", code, body)
	}

	// Upsert by name keeps a single row.
	code, _ = e.do(t, http.MethodPost, "/api/connections", map[string]string{
		"name": "prod", "api_url": "https://db2.example.com/sql",
	})
	if code != http.StatusOK {
		t.Fatalf("upsert: code=%d", code)
	}

	code, _ = e.do(t, http.MethodPost, "/api/connections", map[string]string{"name": "x"})
	if code != http.StatusBadRequest {
		t.Fatalf("missing api_url: code=%d", code)
	}

	list := e.doList(t, "/api/connections")
	if len(list) != 1 || list[0]["api_url"] != "https://db2.example.com/sql" {
		t.Fatalf("connections: %v", list)
	}

	// Saving a profile never touches the active configuration.
	code, body = e.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK || body["configured"] != false {
		t.Fatalf("profile save changed active config: body=%v", body)
	}

	id := int64(list[0]["id"].(float64))
	code, body = e.do(t, http.MethodDelete, "/api/connections/"+jsonID(id), nil)
	if code != http.StatusOK || body["status"] != "deleted" {
		t.Fatalf("delete: code=%d body=%v", code, body)
	}
	if got := e.doList(t, "/api/connections"); len(got) != 0 {
		t.Fatalf("connections after delete: %v", got)
	}
}

func TestMalformedJSONBody(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)

	resp, err := e.api.Client().Post(e.api.URL+"/api/execute", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("code=%d, want 400", resp.StatusCode)
	}
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}
