package store

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
)

var (
	_ interfaces.Store = (*SQLite)(nil)
	_ interfaces.Store = (*Memory)(nil)
)

func exerciseStore(t *testing.T, s interfaces.Store) {
	t.Helper()

	if _, ok := s.Get("alpha", KeyCachedBaseURL); ok {
		t.Fatal("empty store returned a value")
	}

	if err := s.Set("alpha", KeyCachedBaseURL, "https://a1.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("beta", KeyCachedBaseURL, "https://b1.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("alpha", KeyCachedBaseURL, "https://a2.example"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	tests := []struct {
		provider, key, want string
	}{
		{"alpha", KeyCachedBaseURL, "https://a2.example"},
		{"beta", KeyCachedBaseURL, "https://b1.example"},
	}
	for _, tt := range tests {
		got, ok := s.Get(tt.provider, tt.key)
		if !ok || got != tt.want {
			t.Errorf("Get(%q, %q) = %q, %v, want %q", tt.provider, tt.key, got, ok, tt.want)
		}
	}

	if _, ok := s.Get("alpha", KeyAutoUpdateEnabled); ok {
		t.Error("unset key returned a value")
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "endpoints.db")

	s, err := OpenSQLite(path, logging.Discard())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Values survive a reopen
	s, err = OpenSQLite(path, logging.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if got, ok := s.Get("alpha", KeyCachedBaseURL); !ok || got != "https://a2.example" {
		t.Errorf("after reopen Get = %q, %v", got, ok)
	}
}

func TestSQLite_ReadFaultIsLogged(t *testing.T) {
	var buf bytes.Buffer
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "endpoints.db"), logging.New("debug", false, &buf))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	if _, ok := s.Get("alpha", KeyCachedBaseURL); ok {
		t.Fatal("missing key reported as set")
	}
	if strings.Contains(buf.String(), "reading endpoint state failed") {
		t.Errorf("missing key logged as a fault: %s", buf.String())
	}

	if err := s.Set("alpha", KeyCachedBaseURL, "https://a.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	if got, ok := s.Get("alpha", KeyCachedBaseURL); ok {
		t.Errorf("Get on closed store = %q, true", got)
	}
	if !strings.Contains(buf.String(), "reading endpoint state failed") {
		t.Errorf("read fault not logged, log = %q", buf.String())
	}
}
