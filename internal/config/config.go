// Package config owns the active remote connection configuration, persisted
// as key-assignment lines in a plain-text env file beside the running program,
// plus the optional YAML service settings file.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// EnvFileName is the credential file created beside the executable.
const EnvFileName = ".env"

// Provider reads and rewrites the active configuration. Every read re-parses
// the file from disk so out-of-process edits between calls are observed; there
// is deliberately no in-memory cache.
type Provider struct {
	path string
}

func NewProvider(path string) (*Provider, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing env file path")
	}
	return &Provider{path: p}, nil
}

// DefaultEnvPath returns the env file path beside the executable, falling
// back to the working directory when the executable path cannot be resolved.
func DefaultEnvPath() string {
	exe, err := os.Executable()
	if err != nil || strings.TrimSpace(exe) == "" {
		return EnvFileName
	}
	return filepath.Join(filepath.Dir(exe), EnvFileName)
}

func (p *Provider) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// Current re-reads the file and resolves the three managed keys. A missing
// file yields empty values, not an error.
func (p *Provider) Current() (Values, error) {
	if p == nil {
		return Values{}, errors.New("nil provider")
	}
	lines, err := p.readLines()
	if err != nil {
		return Values{}, err
	}
	return ParseLines(lines), nil
}

// IsConfigured reports whether all three keys resolve to non-empty values.
// Read failures count as not configured.
func (p *Provider) IsConfigured() bool {
	v, err := p.Current()
	return err == nil && v.IsComplete()
}

// Apply upserts v into the file and rewrites it in full, atomically. Unrelated
// lines survive verbatim; a missing file is treated as empty content and
// created.
func (p *Provider) Apply(v Values) error {
	if p == nil {
		return errors.New("nil provider")
	}
	lines, err := p.readLines()
	if err != nil {
		return err
	}
	merged := MergeLines(lines, v)
	content := strings.Join(merged, "\n") + "\n"
	return atomic.WriteFile(p.path, strings.NewReader(content))
}

func (p *Provider) readLines() ([]string, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	content := strings.TrimSuffix(string(b), "\n")
	if content == "" {
		return nil, nil
	}
	return strings.Split(content, "\n"), nil
}
