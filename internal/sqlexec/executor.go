// Package sqlexec is the remote-execution facade: it turns "run this SQL"
// into exactly one outbound authenticated call and a normalized result.
//
// It performs no SQL validation, no statement-type detection, and no
// transaction management. The call is always a write-capable POST so that
// mutating statements commit on the upstream side.
package sqlexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Isaries/RCSL-SQL-Client/internal/apperr"
	"github.com/Isaries/RCSL-SQL-Client/internal/config"
)

// maxBodyBytes caps how much of an upstream response body is read.
const maxBodyBytes = 8 << 20

// ConfigSource yields the active configuration at call time. The concrete
// provider re-reads the env file on every call, so each execution sees the
// latest credentials.
type ConfigSource interface {
	Current() (config.Values, error)
}

type Executor struct {
	source ConfigSource
	client *http.Client
}

// New builds an Executor. A nil client falls back to a plain http.Client:
// this layer imposes no timeout of its own and relies on transport defaults.
func New(source ConfigSource, client *http.Client) (*Executor, error) {
	if source == nil {
		return nil, errors.New("missing config source")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{source: source, client: client}, nil
}

// ResultKind tags how the upstream body was interpreted.
type ResultKind string

const (
	// ResultStructured means the body parsed as JSON; Value holds the payload
	// with the upstream "result" envelope already unwrapped.
	ResultStructured ResultKind = "structured"
	// ResultRaw means the body did not parse; Text holds it unchanged.
	// Raw bodies are data, not failures: some upstream error messages are
	// plain text and must still reach the caller.
	ResultRaw ResultKind = "raw"
)

type Result struct {
	Kind  ResultKind
	Value any
	Text  string
}

// Payload returns the value to hand back to the caller.
func (r Result) Payload() any {
	if r.Kind == ResultRaw {
		return r.Text
	}
	return r.Value
}

type executeRequest struct {
	SQL string `json:"sql"`
}

// Execute performs one outbound call with basic credential authentication and
// normalizes the response. Failure is determined solely by the not-configured
// guard and transport-level errors; HTTP status codes are not inspected.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	if e == nil {
		return Result{}, errors.New("nil executor")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	vals, err := e.source.Current()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "failed to read configuration", err)
	}
	if !vals.IsComplete() {
		return Result{}, apperr.New(apperr.NotConfigured, "service is not configured")
	}

	body, err := json.Marshal(executeRequest{SQL: sqlText})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Internal, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vals.APIURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Upstream, err.Error(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(vals.Username, vals.Password)

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Upstream, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Upstream, err.Error(), err)
	}

	return normalize(raw), nil
}

// normalize parses the body as JSON when possible, unwrapping the upstream
// "result" envelope from mapping payloads. Non-JSON bodies pass through as
// raw text.
func normalize(raw []byte) Result {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{Kind: ResultRaw, Text: string(raw)}
	}
	if m, ok := decoded.(map[string]any); ok {
		if inner, ok := m["result"]; ok {
			return Result{Kind: ResultStructured, Value: inner}
		}
	}
	return Result{Kind: ResultStructured, Value: decoded}
}
