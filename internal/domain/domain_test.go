package domain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{200, false}, {400, false}, {404, false},
		{429, true}, {500, true}, {502, true}, {503, true},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.code}
		if got := e.IsRetryable(); got != tt.retryable {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.code, got, tt.retryable)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	e := &APIError{URL: "http://example.com", StatusCode: 404, Message: "not found"}
	if got := e.Error(); got == "" {
		t.Error("APIError.Error() returned empty string")
	}
	// Without status code
	e2 := &APIError{URL: "http://example.com", Message: "bad"}
	if got := e2.Error(); got == "" {
		t.Error("APIError.Error() returned empty string")
	}
}

func TestServiceError(t *testing.T) {
	inner := errors.New("inner error")
	se := NewServiceError("server", "start", inner)

	var target *ServiceError
	if !errors.As(se, &target) {
		t.Fatal("expected *ServiceError via errors.As")
	}
	if target.Service != "server" || target.Op != "start" {
		t.Errorf("unexpected fields: %+v", target)
	}
	if !errors.Is(se, inner) {
		t.Error("Unwrap should expose inner error")
	}
	// Without Op
	se2 := &ServiceError{Service: "backup", Err: inner}
	if se2.Error() == "" {
		t.Error("ServiceError.Error() returned empty string")
	}
}

func TestCheckPath(t *testing.T) {
	tmp := t.TempDir()

	t.Run("exists and is dir", func(t *testing.T) {
		c := CheckPath("test", tmp)
		if c.Status != StatusOK {
			t.Errorf("expected OK, got %s: %s", c.Status, c.Message)
		}
	})

	t.Run("does not exist", func(t *testing.T) {
		c := CheckPath("test", filepath.Join(tmp, "nonexistent"))
		if c.Status != StatusWarn {
			t.Errorf("expected WARN, got %s", c.Status)
		}
	})

	t.Run("exists but is a file", func(t *testing.T) {
		f := filepath.Join(tmp, "file.txt")
		_ = os.WriteFile(f, []byte("x"), 0o600)
		c := CheckPath("test", f)
		if c.Status != StatusError {
			t.Errorf("expected ERROR, got %s", c.Status)
		}
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"config", &ConfigError{Field: "server.ram_mb", Message: "too small", Err: ErrInvalidRAM}, KindConfig},
		{"wrapped process", NewServiceError("supervisor", "start", ErrAlreadyRunning), KindProcess},
		{"source", &SourceError{Source: "hangar", Op: "search", Err: errors.New("timeout")}, KindRegistrySource},
		{"cycle", &CyclicDependencyError{Cycle: []string{"a", "b"}}, KindCyclicDependency},
		{"conflict", &VersionConflictError{Plugin: "b"}, KindVersionConflict},
		{"missing", &MissingDependencyError{Plugin: "e"}, KindMissingDependency},
		{"install", &InstallError{Plugin: "a", Stage: "fetch", Err: errors.New("boom")}, KindInstall},
		{"plain", errors.New("plain"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	err := error(&ConfigError{Field: "server.flag_profile", Message: "bad", Err: ErrUnknownProfile})
	if !errors.Is(err, ErrUnknownProfile) {
		t.Error("ConfigError should unwrap to its sentinel")
	}
}

func TestCyclicDependencyError_Message(t *testing.T) {
	err := &CyclicDependencyError{Cycle: []string{"a", "b"}}
	if got, want := err.Error(), "cyclic dependency: a -> b -> a"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestVersionConflictError_NamesBothConstraints(t *testing.T) {
	err := &VersionConflictError{
		Plugin: "b",
		A:      Constraint{From: "a@1.0", MinVersion: "2.0"},
		B:      Constraint{From: "c@1.0", MaxVersion: "1.5"},
	}
	msg := err.Error()
	for _, want := range []string{"a@1.0", ">=2.0", "c@1.0", "<=1.5"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestParseServerType(t *testing.T) {
	got, err := ParseServerType(" Paper ")
	if err != nil || got != ServerPaper {
		t.Fatalf("ParseServerType(Paper) = %q, %v", got, err)
	}
	_, err = ParseServerType("sponge")
	if !errors.Is(err, ErrUnknownServerType) || KindOf(err) != KindConfig {
		t.Errorf("expected unknown server type config error, got %v", err)
	}
}

func TestCanonicalName(t *testing.T) {
	tests := map[string]string{
		"LuckPerms":    "luckperms",
		" Vault ":      "vault",
		"World_Edit":   "world-edit",
		"Essentials X": "essentials-x",
	}
	for in, want := range tests {
		if got := CanonicalName(in); got != want {
			t.Errorf("CanonicalName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDependencyFingerprint_OrderIndependent(t *testing.T) {
	a := PluginDescriptor{Dependencies: []Dependency{{Name: "Vault"}, {Name: "ProtocolLib", MinVersion: "5.0"}}}
	b := PluginDescriptor{Dependencies: []Dependency{{Name: "protocollib", MinVersion: "5.0"}, {Name: "vault"}}}
	if a.DependencyFingerprint() != b.DependencyFingerprint() {
		t.Errorf("fingerprints differ: %q vs %q", a.DependencyFingerprint(), b.DependencyFingerprint())
	}
}
