package installer

import (
	"archive/zip"
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"blockyard/internal/domain"
)

// maxManifestSize caps how much of a manifest entry is read.
const maxManifestSize = 1 << 20

type manifestParser func(data []byte, zr *zip.Reader) (*domain.Manifest, error)

// manifestKinds are tried in order against the archive's entry names.
var manifestKinds = []struct {
	pattern string
	parse   manifestParser
}{
	{"paper-plugin.yml", parsePaperPlugin},
	{"plugin.yml", parseBukkitPlugin},
	{"bungee.yml", parseBungeePlugin},
	{"velocity-plugin.json", parseVelocityPlugin},
	{"fabric.mod.json", parseFabricMod},
	{"quilt.mod.json", parseQuiltMod},
	{"META-INF/*mods.toml", parseModsToml},
}

// ValidateArchive opens path as a zip archive, locates the plugin manifest
// and checks that it names the plugin and its version.
func ValidateArchive(path string) (*domain.Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = zr.Close() // read-only
	}()

	for _, kind := range manifestKinds {
		for _, f := range zr.File {
			ok, err := doublestar.Match(kind.pattern, f.Name)
			if err != nil || !ok {
				continue
			}
			data, err := readEntry(f)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f.Name, err)
			}
			m, err := kind.parse(data, &zr.Reader)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", f.Name, err)
			}
			m.Path = f.Name
			if strings.TrimSpace(m.Name) == "" {
				return nil, fmt.Errorf("%s: missing name", f.Name)
			}
			if strings.TrimSpace(m.Version) == "" {
				return nil, fmt.Errorf("%s: missing version", f.Name)
			}
			return m, nil
		}
	}
	return nil, domain.ErrNoManifest
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(io.LimitReader(rc, maxManifestSize))
}

// scalar keeps the literal text of a YAML scalar, so "version: 1.10" stays
// "1.10" instead of becoming a float.
type scalar string

func (s *scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", n.Line)
	}
	*s = scalar(n.Value)
	return nil
}

type bukkitManifest struct {
	Name       scalar   `yaml:"name"`
	Version    scalar   `yaml:"version"`
	APIVersion scalar   `yaml:"api-version"`
	Depend     []string `yaml:"depend"`
	SoftDepend []string `yaml:"softdepend"`
}

func parseBukkitPlugin(data []byte, _ *zip.Reader) (*domain.Manifest, error) {
	var raw bukkitManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &domain.Manifest{
		Name:           string(raw.Name),
		Version:        string(raw.Version),
		SupportedTypes: []string{"bukkit", "spigot", "paper"},
		Dependencies:   dependencies(raw.Depend, raw.SoftDepend),
	}
	if raw.APIVersion != "" {
		m.GameVersionRange.Min = string(raw.APIVersion)
	}
	return m, nil
}

type paperManifest struct {
	bukkitManifest `yaml:",inline"`
	Dependencies   struct {
		Server map[string]struct {
			Required *bool `yaml:"required"`
		} `yaml:"server"`
	} `yaml:"dependencies"`
}

func parsePaperPlugin(data []byte, _ *zip.Reader) (*domain.Manifest, error) {
	var raw paperManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &domain.Manifest{
		Name:           string(raw.Name),
		Version:        string(raw.Version),
		SupportedTypes: []string{"paper"},
	}
	if raw.APIVersion != "" {
		m.GameVersionRange.Min = string(raw.APIVersion)
	}
	for _, name := range sortedKeys(raw.Dependencies.Server) {
		req := raw.Dependencies.Server[name].Required
		m.Dependencies = append(m.Dependencies, domain.Dependency{Name: name, Optional: req != nil && !*req})
	}
	return m, nil
}

type bungeeManifest struct {
	Name        scalar   `yaml:"name"`
	Version     scalar   `yaml:"version"`
	Depends     []string `yaml:"depends"`
	SoftDepends []string `yaml:"softDepends"`
}

func parseBungeePlugin(data []byte, _ *zip.Reader) (*domain.Manifest, error) {
	var raw bungeeManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &domain.Manifest{
		Name:           string(raw.Name),
		Version:        string(raw.Version),
		SupportedTypes: []string{"bungeecord", "waterfall"},
		Dependencies:   dependencies(raw.Depends, raw.SoftDepends),
	}, nil
}

func parseVelocityPlugin(data []byte, _ *zip.Reader) (*domain.Manifest, error) {
	var raw struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Version      string `json:"version"`
		Dependencies []struct {
			ID       string `json:"id"`
			Optional bool   `json:"optional"`
		} `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &domain.Manifest{
		Name:           firstNonEmpty(raw.ID, raw.Name),
		Version:        raw.Version,
		SupportedTypes: []string{"velocity"},
	}
	for _, d := range raw.Dependencies {
		m.Dependencies = append(m.Dependencies, domain.Dependency{Name: d.ID, Optional: d.Optional})
	}
	return m, nil
}

// fabricPlatformDeps are loader and runtime requirements rather than mods.
var fabricPlatformDeps = map[string]bool{
	"minecraft": true, "java": true, "fabricloader": true, "quilt_loader": true,
}

func parseFabricMod(data []byte, _ *zip.Reader) (*domain.Manifest, error) {
	var raw struct {
		ID         string                     `json:"id"`
		Version    string                     `json:"version"`
		Depends    map[string]json.RawMessage `json:"depends"`
		Recommends map[string]json.RawMessage `json:"recommends"`
		Suggests   map[string]json.RawMessage `json:"suggests"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &domain.Manifest{
		Name:           raw.ID,
		Version:        raw.Version,
		SupportedTypes: []string{"fabric", "quilt"},
	}
	if mc, ok := raw.Depends["minecraft"]; ok {
		m.GameVersionRange = npmRange(jsonStrings(mc))
	}
	for _, id := range sortedKeys(raw.Depends) {
		if !fabricPlatformDeps[id] {
			m.Dependencies = append(m.Dependencies, withRange(id, npmRange(jsonStrings(raw.Depends[id])), false))
		}
	}
	for _, soft := range []map[string]json.RawMessage{raw.Recommends, raw.Suggests} {
		for _, id := range sortedKeys(soft) {
			if !fabricPlatformDeps[id] {
				m.Dependencies = append(m.Dependencies, domain.Dependency{Name: id, Optional: true})
			}
		}
	}
	return m, nil
}

func parseQuiltMod(data []byte, _ *zip.Reader) (*domain.Manifest, error) {
	var raw struct {
		Loader struct {
			ID       string            `json:"id"`
			Version  string            `json:"version"`
			Depends  []json.RawMessage `json:"depends"`
			Metadata struct {
				Name string `json:"name"`
			} `json:"metadata"`
		} `json:"quilt_loader"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &domain.Manifest{
		Name:           raw.Loader.ID,
		Version:        raw.Loader.Version,
		SupportedTypes: []string{"quilt"},
	}
	for _, entry := range raw.Loader.Depends {
		var dep struct {
			ID       string          `json:"id"`
			Versions json.RawMessage `json:"versions"`
			Optional bool            `json:"optional"`
		}
		if err := json.Unmarshal(entry, &dep); err != nil {
			var id string
			if json.Unmarshal(entry, &id) != nil {
				continue
			}
			dep.ID = id
		}
		r := npmRange(jsonStrings(dep.Versions))
		switch {
		case dep.ID == "minecraft":
			m.GameVersionRange = r
		case dep.ID != "" && !fabricPlatformDeps[dep.ID]:
			m.Dependencies = append(m.Dependencies, withRange(dep.ID, r, dep.Optional))
		}
	}
	return m, nil
}

type modsToml struct {
	Mods []struct {
		ModID       string `toml:"modId"`
		Version     string `toml:"version"`
		DisplayName string `toml:"displayName"`
	} `toml:"mods"`
	Dependencies map[string][]struct {
		ModID        string `toml:"modId"`
		Mandatory    *bool  `toml:"mandatory"`
		Type         string `toml:"type"`
		VersionRange string `toml:"versionRange"`
	} `toml:"dependencies"`
}

// modsPlatformDeps are loader requirements rather than mods.
var modsPlatformDeps = map[string]bool{"minecraft": true, "forge": true, "neoforge": true, "java": true}

func parseModsToml(data []byte, zr *zip.Reader) (*domain.Manifest, error) {
	var raw modsToml
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}
	if len(raw.Mods) == 0 {
		return nil, fmt.Errorf("no [[mods]] entry")
	}
	mod := raw.Mods[0]
	m := &domain.Manifest{
		Name:           mod.ModID,
		Version:        mod.Version,
		SupportedTypes: []string{"forge", "neoforge"},
	}
	if strings.HasPrefix(m.Version, "${") {
		if v := jarManifestVersion(zr); v != "" {
			m.Version = v
		}
	}
	for _, dep := range raw.Dependencies[mod.ModID] {
		r := mavenRange(dep.VersionRange)
		if dep.ModID == "minecraft" {
			m.GameVersionRange = r
			continue
		}
		if modsPlatformDeps[dep.ModID] {
			continue
		}
		optional := strings.EqualFold(dep.Type, "optional") || (dep.Mandatory != nil && !*dep.Mandatory)
		m.Dependencies = append(m.Dependencies, withRange(dep.ModID, r, optional))
	}
	return m, nil
}

// jarManifestVersion reads Implementation-Version from META-INF/MANIFEST.MF,
// which Forge substitutes for ${file.jarVersion}.
func jarManifestVersion(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != "META-INF/MANIFEST.MF" {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return ""
		}
		sc := bufio.NewScanner(strings.NewReader(string(data)))
		for sc.Scan() {
			if v, ok := strings.CutPrefix(sc.Text(), "Implementation-Version:"); ok {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func dependencies(hard, soft []string) []domain.Dependency {
	var out []domain.Dependency
	for _, n := range hard {
		out = append(out, domain.Dependency{Name: n})
	}
	for _, n := range soft {
		out = append(out, domain.Dependency{Name: n, Optional: true})
	}
	return out
}

func withRange(name string, r domain.GameVersionRange, optional bool) domain.Dependency {
	return domain.Dependency{Name: name, MinVersion: r.Min, MaxVersion: r.Max, Optional: optional}
}

// npmRange reads the common forms of a Fabric version predicate: "*",
// ">=1.2", "<=1.4", "1.20.x", "~1.20.4" and exact versions. Exclusive upper
// bounds are dropped.
func npmRange(exprs []string) domain.GameVersionRange {
	var r domain.GameVersionRange
	for _, expr := range exprs {
		for _, part := range strings.Fields(expr) {
			switch {
			case part == "*":
			case strings.HasPrefix(part, ">="):
				r.Min = strings.TrimPrefix(part, ">=")
			case strings.HasPrefix(part, ">"):
				r.Min = strings.TrimPrefix(part, ">")
			case strings.HasPrefix(part, "<="):
				r.Max = strings.TrimPrefix(part, "<=")
			case strings.HasPrefix(part, "<"):
			case strings.HasPrefix(part, "~"), strings.HasPrefix(part, "^"):
				r.Min = part[1:]
			case strings.HasPrefix(part, "="):
				r.Versions = append(r.Versions, strings.TrimPrefix(part, "="))
			default:
				r.Versions = append(r.Versions, part)
			}
		}
	}
	return r
}

// mavenRange reads "[1.20.4,1.21)" style ranges. Exclusive bounds are
// dropped, a bare version is a minimum.
func mavenRange(expr string) domain.GameVersionRange {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return domain.GameVersionRange{}
	}
	if !strings.ContainsAny(expr, "[(") {
		return domain.GameVersionRange{Min: expr}
	}
	lowIncl := strings.HasPrefix(expr, "[")
	highIncl := strings.HasSuffix(expr, "]")
	inner := strings.Trim(expr, "[]()")
	lo, hi, found := strings.Cut(inner, ",")
	var r domain.GameVersionRange
	if !found {
		if lowIncl && highIncl {
			r.Versions = []string{strings.TrimSpace(lo)}
		}
		return r
	}
	if lo = strings.TrimSpace(lo); lo != "" && lowIncl {
		r.Min = lo
	}
	if hi = strings.TrimSpace(hi); hi != "" && highIncl {
		r.Max = hi
	}
	return r
}

func jsonStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
