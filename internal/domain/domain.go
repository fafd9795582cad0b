// Package domain holds the types shared between blockyard's components.
package domain

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// HealthStatus represents the status of a health check
type HealthStatus string

const (
	StatusOK    HealthStatus = "OK"
	StatusWarn  HealthStatus = "WARN"
	StatusError HealthStatus = "ERROR"
)

// HealthCheck represents a single health check result
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message"`
}

// CheckPath reports whether path exists and is a writable directory.
func CheckPath(name, path string) HealthCheck {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return HealthCheck{Name: name, Status: StatusWarn, Message: "Missing: " + path}
		}
		return HealthCheck{Name: name, Status: StatusError, Message: err.Error()}
	}
	if !info.IsDir() {
		return HealthCheck{Name: name, Status: StatusError, Message: "Not a directory: " + path}
	}
	f, err := os.CreateTemp(path, ".write-check-*")
	if err != nil {
		return HealthCheck{Name: name, Status: StatusError, Message: "Not writable: " + path}
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return HealthCheck{Name: name, Status: StatusOK, Message: path}
}

// ServerType identifies the server distribution being supervised.
type ServerType string

const (
	ServerVanilla    ServerType = "vanilla"
	ServerPaper      ServerType = "paper"
	ServerSpigot     ServerType = "spigot"
	ServerPurpur     ServerType = "purpur"
	ServerFabric     ServerType = "fabric"
	ServerForge      ServerType = "forge"
	ServerVelocity   ServerType = "velocity"
	ServerBungeeCord ServerType = "bungeecord"
)

// ServerTypes lists every supported server type.
var ServerTypes = []ServerType{
	ServerVanilla, ServerPaper, ServerSpigot, ServerPurpur,
	ServerFabric, ServerForge, ServerVelocity, ServerBungeeCord,
}

// ParseServerType normalizes s into a known ServerType.
func ParseServerType(s string) (ServerType, error) {
	t := ServerType(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(ServerTypes, t) {
		return "", &ConfigError{Field: "server.server_type", Message: fmt.Sprintf("unknown server type %q", s), Err: ErrUnknownServerType}
	}
	return t, nil
}

// IsModded reports whether the server loads mods rather than plugins.
func (t ServerType) IsModded() bool {
	return t == ServerFabric || t == ServerForge
}

// IsProxy reports whether the server is a network proxy.
func (t ServerType) IsProxy() bool {
	return t == ServerVelocity || t == ServerBungeeCord
}

var platforms = map[ServerType][]string{
	ServerPaper:      {"paper", "spigot", "bukkit"},
	ServerPurpur:     {"purpur", "paper", "spigot", "bukkit"},
	ServerSpigot:     {"spigot", "bukkit"},
	ServerFabric:     {"fabric", "quilt"},
	ServerForge:      {"forge", "neoforge"},
	ServerVelocity:   {"velocity"},
	ServerBungeeCord: {"bungeecord", "waterfall"},
}

// Platforms returns the plugin platform tags a server of this type can load,
// most specific first. Vanilla loads none.
func (t ServerType) Platforms() []string {
	return slices.Clone(platforms[t])
}

// ServerConfig is the immutable configuration of one supervisor session.
type ServerConfig struct {
	Type           ServerType
	GameVersion    string
	RAMMB          int
	RuntimeVersion int
	RuntimePath    string
	FlagProfile    string
	ExtraFlags     []string
	MaxPlayers     int
	WorkingDir     string
	JarName        string
}

// State is a supervisor lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// Active reports whether a process exists in this state.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// DefaultReadyPattern matches the readiness line of vanilla-derived servers
// and of proxies.
const DefaultReadyPattern = `Done \([0-9.,]+m?s\)!|Listening on /`

// StopOutcome describes how a stop request concluded.
type StopOutcome string

const (
	StopGraceful   StopOutcome = "graceful"
	StopForced     StopOutcome = "forced"
	StopNotRunning StopOutcome = "not_running"
)

// Resources is a point-in-time resource sample of the managed process.
type Resources struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	DiskBytes  uint64  `json:"disk_bytes"`
}

// ServerStatus represents the current state of the managed server
type ServerStatus struct {
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Uptime    time.Duration `json:"uptime"`
	Resources Resources     `json:"resources"`
	Players   []string      `json:"players,omitempty"`
	TPS       float64       `json:"tps,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Stream identifies which output stream a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Severity is the log level parsed from a server output line.
type Severity string

const (
	SeverityDebug Severity = "DEBUG"
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// LogLine is one captured line of server output.
type LogLine struct {
	Time     time.Time
	Severity Severity
	Stream   Stream
	Text     string
}
