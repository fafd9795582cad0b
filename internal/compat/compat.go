// Package compat decides whether a plugin can load on the configured server.
package compat

import (
	"fmt"
	"slices"
	"strings"

	"blockyard/internal/domain"
	"blockyard/internal/versions"
)

// knownPlatforms are the tags recognized in descriptor server-type lists.
// Registries mix other categories in, which are ignored.
var knownPlatforms = func() map[string]bool {
	out := map[string]bool{}
	for _, t := range domain.ServerTypes {
		for _, p := range t.Platforms() {
			out[p] = true
		}
	}
	return out
}()

type check func(domain.PluginDescriptor, domain.ServerConfig) domain.Compatibility

var checks = []check{checkServerType, checkGameVersion, checkRuntime}

// Check runs the server-type, game-version and runtime checks in order. The
// first incompatibility wins. Checks that lack metadata make the result
// Unknown, with every missing piece listed in the reason.
func Check(d domain.PluginDescriptor, cfg domain.ServerConfig) domain.Compatibility {
	var missing []string
	for _, c := range checks {
		res := c(d, cfg)
		switch res.Verdict {
		case domain.Incompatible:
			return res
		case domain.Unknown:
			missing = append(missing, res.Reason)
		}
	}
	if len(missing) > 0 {
		return unknown(strings.Join(missing, "; "))
	}
	return domain.Compatibility{Verdict: domain.Compatible}
}

func checkServerType(d domain.PluginDescriptor, cfg domain.ServerConfig) domain.Compatibility {
	accepted := cfg.Type.Platforms()
	if len(accepted) == 0 {
		return incompatible("%s servers do not load plugins", cfg.Type)
	}

	var tags []string
	for _, t := range d.ServerTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); knownPlatforms[t] {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return unknown("no platform metadata")
	}
	for _, t := range tags {
		if slices.Contains(accepted, t) {
			return domain.Compatibility{Verdict: domain.Compatible}
		}
	}
	return incompatible("built for %s, server is %s", strings.Join(tags, "/"), cfg.Type)
}

func checkGameVersion(d domain.PluginDescriptor, cfg domain.ServerConfig) domain.Compatibility {
	gv := strings.TrimSpace(cfg.GameVersion)
	r := d.GameVersions
	switch {
	case gv == "":
		return unknown("server game version not set")
	case r.Empty():
		return unknown("no game version metadata")
	}

	if slices.ContainsFunc(r.Versions, func(p string) bool { return gameMatches(p, gv) }) {
		return domain.Compatibility{Verdict: domain.Compatible}
	}
	if r.Min == "" && r.Max == "" {
		if !versions.Valid(gv) {
			return unknown(fmt.Sprintf("game version %s is not comparable", gv))
		}
		return incompatible("supports %s, server runs %s", summarize(r.Versions), gv)
	}

	for _, v := range []string{gv, r.Min, r.Max} {
		if v != "" && !versions.Valid(v) {
			return unknown(fmt.Sprintf("game version %s is not comparable", v))
		}
	}
	if versions.Satisfies(gv, r.Min, r.Max) {
		return domain.Compatibility{Verdict: domain.Compatible}
	}
	return incompatible("supports %s, server runs %s", rangeText(r), gv)
}

func checkRuntime(d domain.PluginDescriptor, cfg domain.ServerConfig) domain.Compatibility {
	switch {
	case d.MinRuntime == 0:
		return domain.Compatibility{Verdict: domain.Compatible}
	case cfg.RuntimeVersion == 0:
		return unknown(fmt.Sprintf("requires runtime %d, server runtime unknown", d.MinRuntime))
	case cfg.RuntimeVersion < d.MinRuntime:
		return incompatible("requires runtime %d, server has %d", d.MinRuntime, cfg.RuntimeVersion)
	default:
		return domain.Compatibility{Verdict: domain.Compatible}
	}
}

// gameMatches accepts exact versions, "1.20.x" wildcards and bare
// major.minor entries, which registries use to mean the whole family.
func gameMatches(pattern, v string) bool {
	if versions.MatchGame(pattern, v) {
		return true
	}
	pattern = strings.TrimSpace(pattern)
	return strings.Count(pattern, ".") == 1 && strings.HasPrefix(v, pattern+".")
}

func summarize(vs []string) string {
	if len(vs) <= 3 {
		return strings.Join(vs, ", ")
	}
	return fmt.Sprintf("%s, ... %s", strings.Join(vs[:2], ", "), vs[len(vs)-1])
}

func rangeText(r domain.GameVersionRange) string {
	switch {
	case r.Min != "" && r.Max != "":
		return r.Min + " to " + r.Max
	case r.Min != "":
		return r.Min + " and newer"
	default:
		return r.Max + " and older"
	}
}

func unknown(reason string) domain.Compatibility {
	return domain.Compatibility{Verdict: domain.Unknown, Reason: reason}
}

func incompatible(format string, args ...any) domain.Compatibility {
	return domain.Compatibility{Verdict: domain.Incompatible, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks descriptors against one server configuration.
type Validator struct {
	cfg domain.ServerConfig
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg domain.ServerConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Check is Check against the validator's configuration.
func (v *Validator) Check(d domain.PluginDescriptor) domain.Compatibility {
	return Check(d, v.cfg)
}

// Buckets groups descriptors by verdict, preserving input order.
type Buckets struct {
	Compatible   []domain.PluginDescriptor
	Unknown      []domain.PluginDescriptor
	Incompatible []domain.PluginDescriptor
	Reasons      map[string]string
}

// Filter splits descs by verdict. Reasons is keyed by descriptor Ref.
func (v *Validator) Filter(descs []domain.PluginDescriptor) Buckets {
	b := Buckets{Reasons: map[string]string{}}
	for _, d := range descs {
		res := v.Check(d)
		switch res.Verdict {
		case domain.Compatible:
			b.Compatible = append(b.Compatible, d)
		case domain.Unknown:
			b.Unknown = append(b.Unknown, d)
		default:
			b.Incompatible = append(b.Incompatible, d)
		}
		if res.Reason != "" {
			b.Reasons[d.Ref()] = res.Reason
		}
	}
	return b
}
