package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the machine-checkable category of a failure.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindConfig            Kind = "config"
	KindProcess           Kind = "process"
	KindRegistrySource    Kind = "registry_source"
	KindCyclicDependency  Kind = "cyclic_dependency"
	KindVersionConflict   Kind = "version_conflict"
	KindMissingDependency Kind = "missing_dependency"
	KindInstall           Kind = "install"
)

// Kinded is implemented by every error type in the taxonomy.
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the kind of the first Kinded error in err's chain.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Sentinel errors
var (
	ErrInvalidRAM        = errors.New("ram below minimum viable size")
	ErrUnknownServerType = errors.New("unknown server type")
	ErrUnknownProfile    = errors.New("unknown flag profile")
	ErrServerJarNotFound = errors.New("server JAR file not found")
	ErrJavaNotFound      = errors.New("java runtime not found")
	ErrNoPluginSources   = errors.New("no plugin sources configured")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrNoManifest        = errors.New("no plugin manifest in archive")
)

// ProcessError is a supervisor state error.
type ProcessError struct {
	Code    string
	Message string
}

func (e *ProcessError) Error() string { return e.Message }
func (e *ProcessError) Kind() Kind    { return KindProcess }

// Process errors
var (
	ErrAlreadyRunning = &ProcessError{Code: "already_running", Message: "server is already running"}
	ErrNotRunning     = &ProcessError{Code: "not_running", Message: "server is not running"}
	ErrStartupTimeout = &ProcessError{Code: "startup_timeout", Message: "server did not become ready in time"}
	ErrCrashed        = &ProcessError{Code: "crashed", Message: "server exited unexpectedly"}
	ErrInvalidState   = &ProcessError{Code: "invalid_state", Message: "operation not valid in current state"}
)

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error [%s]: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }
func (e *ConfigError) Kind() Kind    { return KindConfig }

// ServiceError represents a service-level error with context
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s.%s: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new service error
func NewServiceError(service, op string, err error) error {
	return &ServiceError{Service: service, Op: op, Err: err}
}

// APIError represents an API call error
type APIError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error [%d]: %s (url: %s)", e.StatusCode, e.Message, e.URL)
	}
	return fmt.Sprintf("API error: %s (url: %s)", e.Message, e.URL)
}

// IsRetryable returns true if the error is retryable
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// SourceError isolates a failure of a single plugin registry.
type SourceError struct {
	Source string
	Op     string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
func (e *SourceError) Kind() Kind    { return KindRegistrySource }

// CyclicDependencyError names the members of a dependency cycle in path order.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	path := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return "cyclic dependency: " + strings.Join(path, " -> ")
}

func (e *CyclicDependencyError) Kind() Kind { return KindCyclicDependency }

// Constraint is a version requirement together with who declared it.
type Constraint struct {
	From       string
	MinVersion string
	MaxVersion string
	Optional   bool
}

func (c Constraint) String() string {
	d := Dependency{MinVersion: c.MinVersion, MaxVersion: c.MaxVersion}
	req := d.String()
	if req == "" {
		req = "any"
	}
	return fmt.Sprintf("%s requires %s", c.From, req)
}

// VersionConflictError reports two constraints on one plugin that no single
// version can satisfy.
type VersionConflictError struct {
	Plugin string
	A, B   Constraint
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: %s [%s]; %s [%s]",
		e.Plugin, e.A.From, rangeText(e.A), e.B.From, rangeText(e.B))
}

func (e *VersionConflictError) Kind() Kind { return KindVersionConflict }

func rangeText(c Constraint) string {
	s := Dependency{Name: "", MinVersion: c.MinVersion, MaxVersion: c.MaxVersion}.String()
	if s == "" {
		return "any"
	}
	return s
}

// MissingDependencyError reports a required plugin that no registry offers in
// a usable version.
type MissingDependencyError struct {
	Plugin     string
	RequiredBy string
	Constraint string
	Reason     string
}

func (e *MissingDependencyError) Error() string {
	msg := "missing dependency " + e.Plugin
	if e.Constraint != "" {
		msg += " (" + e.Constraint + ")"
	}
	if e.RequiredBy != "" {
		msg += " required by " + e.RequiredBy
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *MissingDependencyError) Kind() Kind { return KindMissingDependency }

// InstallError reports the plugin and stage at which installation failed.
type InstallError struct {
	Plugin string
	Stage  string
	Err    error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s failed at %s: %v", e.Plugin, e.Stage, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
func (e *InstallError) Kind() Kind    { return KindInstall }
