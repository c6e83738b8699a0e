package sqlexec

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Isaries/RCSL-SQL-Client/internal/apperr"
	"github.com/Isaries/RCSL-SQL-Client/internal/config"
)

type staticSource struct {
	values config.Values
}

func (s staticSource) Current() (config.Values, error) { return s.values, nil }

func newTestExecutor(t *testing.T, url string) *Executor {
	t.Helper()
	e, err := New(staticSource{values: config.Values{APIURL: url, Username: "user", Password: "pass"}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestExecute_UnwrapsResultEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s, want POST", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			t.Errorf("basic auth = %q/%q ok=%v", user, pass, ok)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil || req["sql"] != "SELECT val FROM t" {
			t.Errorf("request body = %q", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": [{"val": "A"}]}`))
	}))
	defer srv.Close()

	res, err := newTestExecutor(t, srv.URL).Execute(context.Background(), "SELECT val FROM t")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind != ResultStructured {
		t.Fatalf("Kind=%q, want structured", res.Kind)
	}
	want := []any{map[string]any{"val": "A"}}
	if diff := cmp.Diff(want, res.Payload()); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_MappingWithoutResultKeyPassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"val": "A"}`))
	}))
	defer srv.Close()

	res, err := newTestExecutor(t, srv.URL).Execute(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"val": "A"}, res.Payload()); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_NonJSONBodyIsRawDataNotError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Status codes are not inspected; even a 500 with a plain-text body
		// reaches the caller as data.
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("ERROR: syntax"))
	}))
	defer srv.Close()

	res, err := newTestExecutor(t, srv.URL).Execute(context.Background(), "SELEC 1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind != ResultRaw {
		t.Fatalf("Kind=%q, want raw", res.Kind)
	}
	if res.Payload() != "ERROR: syntax" {
		t.Fatalf("payload=%v", res.Payload())
	}
}

func TestExecute_NotConfiguredMakesNoOutboundCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	partials := []config.Values{
		{},
		{APIURL: srv.URL},
		{APIURL: srv.URL, Username: "user"},
		{Username: "user", Password: "pass"},
	}
	for i, v := range partials {
		e, err := New(staticSource{values: v}, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = e.Execute(context.Background(), "SELECT 1")
		if apperr.KindOf(err) != apperr.NotConfigured {
			t.Fatalf("partials[%d]: kind=%q err=%v", i, apperr.KindOf(err), err)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("outbound calls=%d, want 0", n)
	}
}

func TestExecute_TransportFailureIsUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newTestExecutor(t, srv.URL).Execute(context.Background(), "SELECT 1")
	if apperr.KindOf(err) != apperr.Upstream {
		t.Fatalf("kind=%q err=%v", apperr.KindOf(err), err)
	}
	if apperr.UserMessage(err) == "" {
		t.Fatalf("upstream error lost its underlying message")
	}
}

func TestExecute_NonMappingJSONPassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[1, 2, 3]`))
	}))
	defer srv.Close()

	res, err := newTestExecutor(t, srv.URL).Execute(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// A top-level array has no envelope to unwrap.
	if diff := cmp.Diff([]any{float64(1), float64(2), float64(3)}, res.Payload()); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}
