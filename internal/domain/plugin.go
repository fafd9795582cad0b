package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Dependency is a declared requirement on another plugin.
type Dependency struct {
	Name       string `json:"name" toml:"name"`
	MinVersion string `json:"min_version,omitempty" toml:"min_version,omitempty"`
	MaxVersion string `json:"max_version,omitempty" toml:"max_version,omitempty"`
	Optional   bool   `json:"optional,omitempty" toml:"optional,omitempty"`
}

func (d Dependency) String() string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.MinVersion != "" {
		b.WriteString(">=" + d.MinVersion)
	}
	if d.MaxVersion != "" {
		if d.MinVersion != "" {
			b.WriteString(",")
		}
		b.WriteString("<=" + d.MaxVersion)
	}
	return b.String()
}

// GameVersionRange describes the game versions a plugin supports, either as an
// explicit list or as inclusive bounds.
type GameVersionRange struct {
	Min      string   `json:"min,omitempty"`
	Max      string   `json:"max,omitempty"`
	Versions []string `json:"versions,omitempty"`
}

// Empty reports whether the range carries no information.
func (r GameVersionRange) Empty() bool {
	return r.Min == "" && r.Max == "" && len(r.Versions) == 0
}

// PluginDescriptor is normalized plugin metadata from a registry. Never
// mutated after creation.
type PluginDescriptor struct {
	Name             string           `json:"name"`
	Version          string           `json:"version"`
	Source           string           `json:"source"`
	ProjectID        string           `json:"project_id"`
	VersionID        string           `json:"version_id,omitempty"`
	Dependencies     []Dependency     `json:"dependencies,omitempty"`
	SoftDependencies []Dependency     `json:"soft_dependencies,omitempty"`
	ServerTypes      []string         `json:"server_types,omitempty"`
	GameVersions     GameVersionRange `json:"game_versions"`
	MinRuntime       int              `json:"min_runtime,omitempty"`
	Checksum         string           `json:"checksum,omitempty"`
	DownloadURL      string           `json:"download_url,omitempty"`
	Filename         string           `json:"filename,omitempty"`
	Description      string           `json:"description,omitempty"`
	Author           string           `json:"author,omitempty"`
	Downloads        int64            `json:"downloads,omitempty"`
}

// Key returns the canonical plugin name used for graph lookups.
func (d PluginDescriptor) Key() string { return CanonicalName(d.Name) }

// Ref renders name@version:source.
func (d PluginDescriptor) Ref() string {
	return fmt.Sprintf("%s@%s:%s", d.Name, d.Version, d.Source)
}

// DependencyFingerprint summarizes the declared dependency set so descriptors
// from different registries can be compared.
func (d PluginDescriptor) DependencyFingerprint() string {
	parts := make([]string, 0, len(d.Dependencies)+len(d.SoftDependencies))
	for _, dep := range d.Dependencies {
		parts = append(parts, "h:"+CanonicalName(dep.Name)+dep.String()[len(dep.Name):])
	}
	for _, dep := range d.SoftDependencies {
		parts = append(parts, "s:"+CanonicalName(dep.Name)+dep.String()[len(dep.Name):])
	}
	slices.Sort(parts)
	return strings.Join(parts, ";")
}

// CanonicalName folds plugin names so registries that differ only in case or
// separators refer to the same plugin.
func CanonicalName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(n)
}

// SourceManual marks records of plugins installed from a local archive.
const SourceManual = "manual"

// InstalledPluginRecord is the persisted record of an installed plugin.
type InstalledPluginRecord struct {
	Name         string       `toml:"name"`
	Version      string       `toml:"version"`
	Source       string       `toml:"source"`
	ProjectID    string       `toml:"project_id,omitempty"`
	Filename     string       `toml:"filename"`
	Checksum     string       `toml:"checksum,omitempty"`
	InstalledAt  time.Time    `toml:"installed_at"`
	GameVersion  string       `toml:"game_version,omitempty"`
	Dependencies []Dependency `toml:"dependencies,omitempty"`
	FileSize     int64        `toml:"file_size"`
}

// Key returns the canonical plugin name.
func (r InstalledPluginRecord) Key() string { return CanonicalName(r.Name) }

// Manifest is the metadata read from inside a plugin archive.
type Manifest struct {
	Name             string
	Version          string
	Dependencies     []Dependency
	SupportedTypes   []string
	GameVersionRange GameVersionRange
	Path             string
}

// Verdict is the outcome of a compatibility check.
type Verdict string

const (
	Compatible   Verdict = "compatible"
	Incompatible Verdict = "incompatible"
	Unknown      Verdict = "unknown"
)

// Compatibility pairs a verdict with the reason behind it.
type Compatibility struct {
	Verdict Verdict
	Reason  string
}

func (c Compatibility) String() string {
	if c.Reason == "" {
		return string(c.Verdict)
	}
	return fmt.Sprintf("%s (%s)", c.Verdict, c.Reason)
}
