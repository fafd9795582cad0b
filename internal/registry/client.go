// Package registry queries remote plugin catalogs and normalizes their
// responses into domain.PluginDescriptor values.
package registry

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"blockyard/internal/domain"
)

// Source identifiers.
const (
	SourceModrinth   = "modrinth"
	SourceHangar     = "hangar"
	SourceSpigotMC   = "spigotmc"
	SourceCurseForge = "curseforge"
)

// Client is one plugin registry.
type Client interface {
	Source() string
	// Search returns projects matching query. Search hits may carry no
	// plugin version.
	Search(ctx context.Context, query string, q Query) ([]domain.PluginDescriptor, error)
	// FetchVersions returns one descriptor per published version of name,
	// newest first.
	FetchVersions(ctx context.Context, name string, q Query) ([]domain.PluginDescriptor, error)
}

// Query narrows registry calls to what the server can load.
type Query struct {
	GameVersion string
	ServerType  domain.ServerType
	Limit       int
}

func (q Query) limit(def int) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return def
}

// DefaultSources returns the registries worth asking for a server type, in
// priority order.
func DefaultSources(t domain.ServerType) []string {
	switch t {
	case domain.ServerPaper:
		return []string{SourceModrinth, SourceHangar, SourceSpigotMC}
	case domain.ServerSpigot:
		return []string{SourceSpigotMC, SourceModrinth}
	case domain.ServerPurpur:
		return []string{SourceHangar, SourceModrinth, SourceSpigotMC}
	case domain.ServerFabric:
		return []string{SourceModrinth, SourceCurseForge}
	case domain.ServerForge:
		return []string{SourceCurseForge, SourceModrinth}
	case domain.ServerVelocity:
		return []string{SourceHangar, SourceModrinth}
	case domain.ServerBungeeCord:
		return []string{SourceSpigotMC}
	default:
		return nil
	}
}

var gameVersionRe = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)

// gameVersionsOnly drops snapshots and loader names that registries mix into
// their version lists.
func gameVersionsOnly(vs []string) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if gameVersionRe.MatchString(v) {
			out = append(out, v)
		}
	}
	return out
}

func joinURL(base string, elem ...string) string {
	u, err := url.JoinPath(strings.TrimRight(base, "/"), elem...)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.Join(elem, "/")
	}
	return u
}
