package resolver_test

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"blockyard/internal/domain"
	"blockyard/internal/resolver"
)

func plugin(name, version, source string, deps ...domain.Dependency) domain.PluginDescriptor {
	return domain.PluginDescriptor{Name: name, Version: version, Source: source, Dependencies: deps}
}

func needs(name, minVersion, maxVersion string) domain.Dependency {
	return domain.Dependency{Name: name, MinVersion: minVersion, MaxVersion: maxVersion}
}

func request(names ...string) resolver.Request {
	var req resolver.Request
	for _, n := range names {
		req.Plugins = append(req.Plugins, resolver.Requested{Name: n})
	}
	return req
}

func refs(p *resolver.Plan) []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Name + "@" + e.Version
	}
	return out
}

func TestResolve_SharedDependencyTakesHighestSatisfying(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "modrinth", needs("B", "2.0", "")),
		plugin("C", "1.0", "modrinth", needs("B", "3.0", "")),
		plugin("B", "2.5", "modrinth"),
		plugin("B", "3.1", "modrinth"),
	}
	plan, err := resolver.Resolve(request("A", "C"), catalog, nil, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B@3.1", "A@1.0", "C@1.0"}, refs(plan))
	assert.Empty(t, plan.Warnings)
}

func TestResolve_VersionConflict(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "modrinth", needs("B", "2.0", "")),
		plugin("C", "1.0", "modrinth", needs("B", "", "1.5")),
		plugin("B", "1.0", "modrinth"),
		plugin("B", "2.5", "modrinth"),
	}
	_, err := resolver.Resolve(request("A", "C"), catalog, nil, resolver.Options{})
	require.Error(t, err)

	var conflict *domain.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "b", conflict.Plugin)
	assert.Equal(t, "a", conflict.A.From)
	assert.Equal(t, "2.0", conflict.A.MinVersion)
	assert.Equal(t, "c", conflict.B.From)
	assert.Equal(t, "1.5", conflict.B.MaxVersion)
	assert.Equal(t, domain.KindVersionConflict, domain.KindOf(err))
}

func TestResolve_Cycle(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s", needs("B", "", "")),
		plugin("B", "1.0", "s", needs("A", "", "")),
	}
	_, err := resolver.Resolve(request("B"), catalog, nil, resolver.Options{})
	var cycle *domain.CyclicDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b"}, cycle.Cycle)

	catalog[1].Dependencies = nil
	plan, err := resolver.Resolve(request("B"), catalog, nil, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B@1.0"}, refs(plan))

	plan, err = resolver.Resolve(request("A"), catalog, nil, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B@1.0", "A@1.0"}, refs(plan))
}

func TestResolve_MissingOptionalIsDropped(t *testing.T) {
	d := plugin("D", "1.0", "s")
	d.SoftDependencies = []domain.Dependency{{Name: "E", Optional: true}}

	plan, err := resolver.Resolve(request("D"), []domain.PluginDescriptor{d}, nil, resolver.Options{IncludeOptional: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"D@1.0"}, refs(plan))
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "optional dependency e")
}

func TestResolve_AvailableOptionalIsIncluded(t *testing.T) {
	d := plugin("D", "1.0", "s")
	d.SoftDependencies = []domain.Dependency{{Name: "E", Optional: true}}
	catalog := []domain.PluginDescriptor{d, plugin("E", "2.0", "s")}

	plan, err := resolver.Resolve(request("D"), catalog, nil, resolver.Options{IncludeOptional: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"E@2.0", "D@1.0"}, refs(plan))

	plan, err = resolver.Resolve(request("D"), catalog, nil, resolver.Options{IncludeOptional: false})
	require.NoError(t, err)
	assert.Equal(t, []string{"D@1.0"}, refs(plan))
	assert.Contains(t, plan.Warnings, "optional dependency e of d not included")
}

func TestResolve_MissingRequired(t *testing.T) {
	catalog := []domain.PluginDescriptor{plugin("A", "1.0", "s", needs("B", "2.0", ""))}
	_, err := resolver.Resolve(request("A"), catalog, nil, resolver.Options{})

	var missing *domain.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "b", missing.Plugin)
	assert.Equal(t, "a", missing.RequiredBy)
	assert.Equal(t, ">=2.0", missing.Constraint)
	assert.Equal(t, "not found in any registry", missing.Reason)
}

func TestResolve_NoVersionSatisfies(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s", needs("B", "2.0", "")),
		plugin("B", "1.9", "s"),
	}
	_, err := resolver.Resolve(request("A"), catalog, nil, resolver.Options{})
	var missing *domain.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Reason, "no available version satisfies >=2.0")
}

func TestResolve_SoftDuplicateKeepsHardRequirement(t *testing.T) {
	a := plugin("A", "1.0", "s", needs("X", "", ""))
	a.SoftDependencies = []domain.Dependency{{Name: "X", Optional: true}}

	_, err := resolver.Resolve(request("A"), []domain.PluginDescriptor{a}, nil, resolver.Options{IncludeOptional: true})
	var missing *domain.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "x", missing.Plugin)
	assert.Equal(t, "a", missing.RequiredBy)

	a.Dependencies = []domain.Dependency{needs("X", "2.0", "")}
	catalog := []domain.PluginDescriptor{a, plugin("X", "1.0", "s")}
	_, err = resolver.Resolve(request("A"), catalog, nil, resolver.Options{IncludeOptional: true})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ">=2.0", missing.Constraint)
	assert.Contains(t, missing.Reason, "no available version satisfies >=2.0")

	catalog = append(catalog, plugin("X", "2.1", "s"))
	plan, err := resolver.Resolve(request("A"), catalog, nil, resolver.Options{IncludeOptional: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"X@2.1", "A@1.0"}, refs(plan))
}

func TestResolve_RepeatedHardDependency(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s", needs("X", "2.0", ""), needs("X", "", "")),
		plugin("X", "1.0", "s"),
	}
	_, err := resolver.Resolve(request("A"), catalog, nil, resolver.Options{})
	var missing *domain.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ">=2.0", missing.Constraint)

	catalog[0].Dependencies = []domain.Dependency{needs("X", "2.0", ""), needs("X", "", "1.5")}
	_, err = resolver.Resolve(request("A"), catalog, nil, resolver.Options{})
	var conflict *domain.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "x", conflict.Plugin)
	assert.Equal(t, "a", conflict.A.From)
	assert.Equal(t, "a", conflict.B.From)
}

func TestResolve_UnknownRoot(t *testing.T) {
	_, err := resolver.Resolve(request("ghost"), nil, nil, resolver.Options{})
	var missing *domain.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ghost", missing.Plugin)
	assert.Empty(t, missing.RequiredBy)
}

func TestResolve_InstalledDependencySatisfies(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s", needs("B", "1.0", "")),
		plugin("B", "2.0", "s"),
	}
	installed := []domain.InstalledPluginRecord{{Name: "B", Version: "1.2", Source: "s"}}

	plan, err := resolver.Resolve(request("A"), catalog, installed, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@1.0"}, refs(plan))
	assert.Equal(t, []string{"b"}, plan.Resolved)
}

func TestResolve_InstalledDependencyTooOld(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s", needs("B", "2.0", "")),
		plugin("B", "2.0", "s"),
	}
	installed := []domain.InstalledPluginRecord{{Name: "B", Version: "1.2", Source: "s"}}

	plan, err := resolver.Resolve(request("A"), catalog, installed, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B@2.0", "A@1.0"}, refs(plan))
	assert.Empty(t, plan.Resolved)
}

func TestResolve_InstalledRoot(t *testing.T) {
	catalog := []domain.PluginDescriptor{plugin("A", "1.0", "s"), plugin("A", "1.1", "s")}

	current := []domain.InstalledPluginRecord{{Name: "A", Version: "1.1", Source: "s"}}
	plan, err := resolver.Resolve(request("A"), catalog, current, resolver.Options{})
	require.NoError(t, err)
	assert.Empty(t, plan.Entries)
	assert.Equal(t, []string{"a"}, plan.Resolved)

	outdated := []domain.InstalledPluginRecord{{Name: "A", Version: "1.0", Source: "s"}}
	plan, err = resolver.Resolve(request("A"), catalog, outdated, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@1.1"}, refs(plan))
}

func TestResolve_Pins(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "hangar"),
		plugin("A", "2.0", "hangar"),
		plugin("A", "3.0", "modrinth"),
	}

	req := resolver.Request{Plugins: []resolver.Requested{{Name: "a", Version: "1.0"}}}
	plan, err := resolver.Resolve(req, catalog, nil, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@1.0"}, refs(plan))

	req = resolver.Request{Plugins: []resolver.Requested{{Name: "a", Source: "hangar"}}}
	plan, err = resolver.Resolve(req, catalog, nil, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@2.0"}, refs(plan))
}

func TestResolve_SourceTieBreak(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "hangar", needs("B", "", "")),
		plugin("B", "1.0", "modrinth"),
		plugin("B", "1.0", "hangar"),
		plugin("C", "1.0", "spigotmc"),
		plugin("D", "1.0", "modrinth"),
		plugin("D", "1.0", "spigotmc"),
	}
	opts := resolver.Options{SourcePriority: []string{"spigotmc", "modrinth", "hangar"}}

	plan, err := resolver.Resolve(request("A"), catalog, nil, opts)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, "hangar", plan.Entries[0].Source, "same source as the dependent wins")

	plan, err = resolver.Resolve(request("D"), catalog, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "spigotmc", plan.Entries[0].Source, "then source priority")
}

type verdicts map[string]domain.Compatibility

func (v verdicts) Check(d domain.PluginDescriptor) domain.Compatibility {
	if c, ok := v[d.Name+"@"+d.Version]; ok {
		return c
	}
	return domain.Compatibility{Verdict: domain.Compatible}
}

func TestResolve_Validator(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s"),
		plugin("A", "2.0", "s"),
		plugin("B", "1.0", "s"),
	}
	v := verdicts{
		"A@2.0": {Verdict: domain.Incompatible, Reason: "built for forge"},
		"A@1.0": {Verdict: domain.Unknown, Reason: "no game version metadata"},
		"B@1.0": {Verdict: domain.Incompatible, Reason: "requires runtime 21"},
	}

	plan, err := resolver.Resolve(request("A"), catalog, nil, resolver.Options{Validator: v})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@1.0"}, refs(plan))
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "compatibility unknown")

	_, err = resolver.Resolve(request("B"), catalog, nil, resolver.Options{Validator: v})
	var missing *domain.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Reason, "requires runtime 21")
}

func TestResolve_ReselectionDropsStaleDependencies(t *testing.T) {
	// A@2.0 needs X, but C pins A to 1.0, which needs nothing.
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s"),
		plugin("A", "2.0", "s", needs("X", "", "")),
		plugin("C", "1.0", "s", needs("A", "", "1.0")),
		plugin("X", "1.0", "s"),
	}
	plan, err := resolver.Resolve(request("A", "C"), catalog, nil, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A@1.0", "C@1.0"}, refs(plan))
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	catalog := []domain.PluginDescriptor{
		plugin("A", "1.0", "s", needs("B", "1.0", "")),
		plugin("B", "1.0", "s"),
	}
	before := slices.Clone(catalog)
	installed := []domain.InstalledPluginRecord{{Name: "B", Version: "0.9"}}

	_, err := resolver.Resolve(request("A"), catalog, installed, resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, before, catalog)
	assert.Equal(t, "0.9", installed[0].Version)
}

// dagCatalog builds plugins p0..pn-1 where each may depend on higher-numbered
// plugins only, in one or two versions.
func dagCatalog(t *rapid.T) []domain.PluginDescriptor {
	n := rapid.IntRange(1, 8).Draw(t, "plugins")
	var catalog []domain.PluginDescriptor
	for i := range n {
		versionsCount := rapid.IntRange(1, 2).Draw(t, fmt.Sprintf("versions%d", i))
		for v := range versionsCount {
			d := plugin(fmt.Sprintf("p%d", i), fmt.Sprintf("1.%d", v), rapid.SampledFrom([]string{"modrinth", "hangar"}).Draw(t, "source"))
			for j := i + 1; j < n; j++ {
				if rapid.Bool().Draw(t, fmt.Sprintf("edge%d-%d-%d", i, v, j)) {
					d.Dependencies = append(d.Dependencies, needs(fmt.Sprintf("p%d", j), "", ""))
				}
			}
			catalog = append(catalog, d)
		}
	}
	return catalog
}

func TestResolve_IdempotentAndOrdered(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		catalog := dagCatalog(t)
		root := rapid.SampledFrom(catalog).Draw(t, "root").Name
		req := request(root)

		first, err := resolver.Resolve(req, catalog, nil, resolver.Options{})
		if err != nil {
			t.Fatalf("acyclic catalog failed: %v", err)
		}
		second, err := resolver.Resolve(req, slices.Clone(catalog), nil, resolver.Options{})
		if err != nil {
			t.Fatalf("second run failed: %v", err)
		}
		if !slices.Equal(refs(first), refs(second)) {
			t.Fatalf("plans differ: %v vs %v", refs(first), refs(second))
		}

		position := map[string]int{}
		for i, e := range first.Entries {
			position[e.Key()] = i
		}
		for i, e := range first.Entries {
			for _, dep := range e.Dependencies {
				pos, ok := position[domain.CanonicalName(dep.Name)]
				if !ok {
					t.Fatalf("%s depends on %s which is not planned", e.Name, dep.Name)
				}
				if pos >= i {
					t.Fatalf("%s planned before its dependency %s", e.Name, dep.Name)
				}
			}
		}
	})
}

func TestResolve_RingCycleProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 6).Draw(t, "size")
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{3}`), size, size, rapid.ID[string]).Draw(t, "names")

		var catalog []domain.PluginDescriptor
		for i, n := range names {
			catalog = append(catalog, plugin(n, "1.0", "s", needs(names[(i+1)%size], "", "")))
		}
		start := rapid.SampledFrom(names).Draw(t, "start")

		_, err := resolver.Resolve(request(start), catalog, nil, resolver.Options{})
		var cycle *domain.CyclicDependencyError
		if !assert.ErrorAs(t, err, &cycle) {
			t.FailNow()
		}
		if !assert.ElementsMatch(t, names, cycle.Cycle) {
			t.FailNow()
		}
		assert.Equal(t, slices.Min(names), cycle.Cycle[0])

		catalog[size-1].Dependencies = nil
		_, err = resolver.Resolve(request(start), catalog, nil, resolver.Options{})
		assert.NoError(t, err)
	})
}
