// Package resolver turns a set of requested plugins into an ordered install
// plan. Resolution is pure: it works on a snapshot of registry descriptors and
// installed records and performs no I/O.
package resolver

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"blockyard/internal/domain"
	"blockyard/internal/versions"
)

// requestFrom labels constraints that come from the request itself.
const requestFrom = "request"

// Requested is one plugin asked for by the user. Empty Source or Version
// leaves that dimension unpinned.
type Requested struct {
	Name    string
	Source  string
	Version string
}

// Request is the set of plugins to resolve.
type Request struct {
	Plugins []Requested
}

// Validator judges whether a descriptor can run on the target server.
type Validator interface {
	Check(d domain.PluginDescriptor) domain.Compatibility
}

// Options tunes resolution.
type Options struct {
	// Validator drops Incompatible candidates and turns Unknown verdicts into
	// warnings. Nil accepts everything.
	Validator Validator
	// IncludeOptional pulls in soft dependencies when they are available.
	IncludeOptional bool
	// SourcePriority breaks ties between equal versions from different
	// registries, first entry preferred.
	SourcePriority []string
}

// Plan is the outcome of a successful resolution.
type Plan struct {
	// Entries are the descriptors to install, dependencies first.
	Entries []domain.PluginDescriptor
	// Resolved names plugins already satisfied by an installed record.
	Resolved []string
	Warnings []string
}

type state int

const (
	stateUnresolved state = iota
	stateResolved
	stateConflicted
	stateMissing
)

type mark int

const (
	unvisited mark = iota
	visiting
	visited
)

type nodeID struct {
	name   string
	source string
}

// node is one plugin in the dependency graph. A resolved node carries either
// a descriptor to install or the installed record that satisfies it.
type node struct {
	id        nodeID
	state     state
	desc      *domain.PluginDescriptor
	installed *domain.InstalledPluginRecord
	conflict  [2]domain.Constraint
	reason    string
	notes     []string
	mark      mark
}

func (n *node) planned() bool {
	return n.state == stateResolved && n.desc != nil
}

type resolution struct {
	opts        Options
	candidates  map[string][]*domain.PluginDescriptor
	rejected    map[string][]string
	installed   map[string]*domain.InstalledPluginRecord
	roots       map[string]Requested
	constraints map[string]map[string][]domain.Constraint
	arena       map[nodeID]*node
	chosen      map[string]*node
	pending     map[string]bool
	warnings    []string
}

// Resolve computes the install plan for req. It fails with
// *domain.CyclicDependencyError, *domain.VersionConflictError or
// *domain.MissingDependencyError; partial problems become warnings.
func Resolve(req Request, catalog []domain.PluginDescriptor, installed []domain.InstalledPluginRecord, opts Options) (*Plan, error) {
	r := newResolution(catalog, installed, opts)
	for _, p := range req.Plugins {
		r.addRoot(p)
	}
	if len(r.roots) == 0 {
		return &Plan{}, nil
	}

	limit := 64 * (len(catalog) + len(r.roots) + 1)
	for rounds := 0; len(r.pending) > 0; rounds++ {
		if rounds > limit {
			return nil, fmt.Errorf("dependency resolution did not settle after %d rounds", rounds)
		}
		r.settle(r.next())
	}

	if err := r.findCycle(); err != nil {
		return nil, err
	}
	if err := r.failure(); err != nil {
		return nil, err
	}
	return r.plan(), nil
}

func newResolution(catalog []domain.PluginDescriptor, installed []domain.InstalledPluginRecord, opts Options) *resolution {
	r := &resolution{
		opts:        opts,
		candidates:  map[string][]*domain.PluginDescriptor{},
		rejected:    map[string][]string{},
		installed:   map[string]*domain.InstalledPluginRecord{},
		roots:       map[string]Requested{},
		constraints: map[string]map[string][]domain.Constraint{},
		arena:       map[nodeID]*node{},
		chosen:      map[string]*node{},
		pending:     map[string]bool{},
	}
	for i := range catalog {
		d := &catalog[i]
		if d.Version == "" || d.Key() == "" {
			continue
		}
		if opts.Validator != nil {
			if res := opts.Validator.Check(*d); res.Verdict == domain.Incompatible {
				r.rejected[d.Key()] = append(r.rejected[d.Key()], fmt.Sprintf("%s@%s: %s", d.Source, d.Version, res.Reason))
				continue
			}
		}
		r.candidates[d.Key()] = append(r.candidates[d.Key()], d)
	}
	for i := range installed {
		rec := &installed[i]
		r.installed[rec.Key()] = rec
	}
	return r
}

func (r *resolution) addRoot(p Requested) {
	key := domain.CanonicalName(p.Name)
	if key == "" {
		return
	}
	if _, dup := r.roots[key]; dup {
		r.warnings = append(r.warnings, fmt.Sprintf("%s requested more than once; using the first request", key))
		return
	}
	r.roots[key] = p
	if p.Version != "" {
		r.constrain(key, domain.Constraint{From: requestFrom, MinVersion: p.Version, MaxVersion: p.Version})
	}
	r.pending[key] = true
}

// constrain records c on name. A dependent may declare several constraints on
// the same target; they are kept side by side so a soft entry never masks a
// hard one.
func (r *resolution) constrain(name string, c domain.Constraint) {
	if r.constraints[name] == nil {
		r.constraints[name] = map[string][]domain.Constraint{}
	}
	if !slices.Contains(r.constraints[name][c.From], c) {
		r.constraints[name][c.From] = append(r.constraints[name][c.From], c)
	}
	r.pending[name] = true
}

// next pops the smallest pending name so settling order is deterministic.
func (r *resolution) next() string {
	var name string
	for n := range r.pending {
		if name == "" || n < name {
			name = n
		}
	}
	delete(r.pending, name)
	return name
}

// active returns the constraints on name ordered by origin.
func (r *resolution) active(name string) []domain.Constraint {
	var cs []domain.Constraint
	for _, from := range r.constraints[name] {
		cs = append(cs, from...)
	}
	slices.SortStableFunc(cs, func(a, b domain.Constraint) int { return cmp.Compare(a.From, b.From) })
	return cs
}

// settle re-selects name against its current constraints and propagates the
// change to the dependencies of the old and new selection.
func (r *resolution) settle(name string) {
	prev := r.chosen[name]
	var prevDesc *domain.PluginDescriptor
	prevState := stateUnresolved
	if prev != nil {
		prevDesc, prevState = prev.desc, prev.state
	}

	cs := r.active(name)
	if _, root := r.roots[name]; !root && len(cs) == 0 {
		if prev != nil {
			r.retract(name, prev)
			delete(r.chosen, name)
		}
		return
	}

	n := r.choose(name, cs)
	if prev == n && prevDesc == n.desc && prevState == n.state {
		return
	}
	if prev != nil && prevDesc != nil && prevState == stateResolved {
		r.retractDesc(name, prevDesc)
	}
	r.chosen[name] = n
	if n.planned() {
		for _, dep := range n.desc.Dependencies {
			r.constrain(domain.CanonicalName(dep.Name), constraintOf(name, dep, false))
		}
		if r.opts.IncludeOptional {
			for _, dep := range n.desc.SoftDependencies {
				r.constrain(domain.CanonicalName(dep.Name), constraintOf(name, dep, true))
			}
		}
	}
}

func constraintOf(from string, dep domain.Dependency, optional bool) domain.Constraint {
	return domain.Constraint{
		From:       from,
		MinVersion: dep.MinVersion,
		MaxVersion: dep.MaxVersion,
		Optional:   optional || dep.Optional,
	}
}

func (r *resolution) retract(name string, n *node) {
	if n.planned() {
		r.retractDesc(name, n.desc)
	}
}

func (r *resolution) retractDesc(name string, d *domain.PluginDescriptor) {
	for _, dep := range slices.Concat(d.Dependencies, d.SoftDependencies) {
		key := domain.CanonicalName(dep.Name)
		if _, ok := r.constraints[key][name]; ok {
			delete(r.constraints[key], name)
			r.pending[key] = true
		}
	}
}

func (r *resolution) node(name, source string) *node {
	id := nodeID{name: name, source: source}
	n, ok := r.arena[id]
	if !ok {
		n = &node{id: id}
		r.arena[id] = n
	}
	return n
}

// choose picks what satisfies name: a conflicting constraint pair, an
// installed record, the best candidate, or nothing.
func (r *resolution) choose(name string, cs []domain.Constraint) *node {
	var hard, soft []domain.Constraint
	for _, c := range cs {
		if c.Optional {
			soft = append(soft, c)
		} else {
			hard = append(hard, c)
		}
	}
	if a, b, ok := firstConflict(hard); ok {
		n := r.node(name, "")
		n.state, n.desc, n.installed, n.conflict = stateConflicted, nil, nil, [2]domain.Constraint{a, b}
		return n
	}

	effective := hard
	var notes []string
	for _, c := range soft {
		if _, _, clash := firstConflict(append(slices.Clone(effective), c)); clash {
			notes = append(notes, fmt.Sprintf("ignoring optional constraint on %s: %s conflicts with other requirements", name, c))
			continue
		}
		effective = append(effective, c)
	}

	_, root := r.roots[name]
	best := r.best(name, effective)
	if rec := r.installed[name]; rec != nil && satisfiesAll(rec.Version, effective) {
		if !root || best == nil || versions.Compare(rec.Version, best.Version) >= 0 {
			n := r.node(name, rec.Source)
			n.state, n.desc, n.installed, n.notes = stateResolved, nil, rec, notes
			return n
		}
	}
	if best != nil {
		n := r.node(name, best.Source)
		n.state, n.desc, n.installed, n.notes = stateResolved, best, nil, notes
		return n
	}

	n := r.node(name, "")
	n.state, n.desc, n.installed, n.notes = stateMissing, nil, nil, notes
	switch {
	case len(r.candidates[name]) > 0:
		n.reason = "no available version satisfies " + rangeOf(effective)
	case len(r.rejected[name]) > 0:
		n.reason = "no compatible version: " + strings.Join(r.rejected[name], "; ")
	default:
		n.reason = "not found in any registry"
	}
	return n
}

// best returns the highest candidate version satisfying cs. Equal versions
// prefer a dependent's source, then source priority, then source name.
func (r *resolution) best(name string, cs []domain.Constraint) *domain.PluginDescriptor {
	pin := r.roots[name].Source
	preferred := r.dependentSources(cs)

	var matches []*domain.PluginDescriptor
	for _, d := range r.candidates[name] {
		if pin != "" && !strings.EqualFold(d.Source, pin) {
			continue
		}
		if satisfiesAll(d.Version, cs) {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	rank := func(source string) int {
		if i := slices.Index(preferred, source); i >= 0 {
			return i
		}
		return len(preferred)
	}
	priority := func(source string) int {
		if i := slices.Index(r.opts.SourcePriority, source); i >= 0 {
			return i
		}
		return len(r.opts.SourcePriority)
	}
	return slices.MinFunc(matches, func(a, b *domain.PluginDescriptor) int {
		return cmp.Or(
			versions.Compare(b.Version, a.Version),
			cmp.Compare(rank(a.Source), rank(b.Source)),
			cmp.Compare(priority(a.Source), priority(b.Source)),
			cmp.Compare(a.Source, b.Source),
			cmp.Compare(a.VersionID, b.VersionID),
		)
	})
}

// dependentSources lists the sources of the planned dependents behind cs.
func (r *resolution) dependentSources(cs []domain.Constraint) []string {
	var out []string
	for _, c := range cs {
		if n := r.chosen[c.From]; n != nil && n.planned() && !slices.Contains(out, n.desc.Source) {
			out = append(out, n.desc.Source)
		}
	}
	return out
}

func satisfiesAll(v string, cs []domain.Constraint) bool {
	for _, c := range cs {
		if !versions.Satisfies(v, c.MinVersion, c.MaxVersion) {
			return false
		}
	}
	return true
}

func firstConflict(cs []domain.Constraint) (domain.Constraint, domain.Constraint, bool) {
	for i := range cs {
		for j := i + 1; j < len(cs); j++ {
			if !versions.Overlaps(cs[i].MinVersion, cs[i].MaxVersion, cs[j].MinVersion, cs[j].MaxVersion) {
				return cs[i], cs[j], true
			}
		}
	}
	return domain.Constraint{}, domain.Constraint{}, false
}

func rangeOf(cs []domain.Constraint) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		if s := (domain.Dependency{MinVersion: c.MinVersion, MaxVersion: c.MaxVersion}).String(); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "any version"
	}
	return strings.Join(parts, ",")
}

// names returns the chosen plugin names in order.
func (r *resolution) names() []string {
	out := make([]string, 0, len(r.chosen))
	for name := range r.chosen {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// edges returns the planned dependencies of a planned node, ordered by name.
func (r *resolution) edges(n *node) []string {
	var out []string
	deps := n.desc.Dependencies
	if r.opts.IncludeOptional {
		deps = slices.Concat(deps, n.desc.SoftDependencies)
	}
	for _, dep := range deps {
		key := domain.CanonicalName(dep.Name)
		if m := r.chosen[key]; m != nil && m.planned() && !slices.Contains(out, key) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

// findCycle runs a depth-first search with visiting/visited marks over the
// planned nodes.
func (r *resolution) findCycle() error {
	for _, n := range r.chosen {
		n.mark = unvisited
	}
	var stack []string
	var visit func(name string) []string
	visit = func(name string) []string {
		n := r.chosen[name]
		n.mark = visiting
		stack = append(stack, name)
		for _, dep := range r.edges(n) {
			switch r.chosen[dep].mark {
			case visiting:
				i := slices.Index(stack, dep)
				return slices.Clone(stack[i:])
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		n.mark = visited
		return nil
	}

	for _, name := range r.names() {
		if n := r.chosen[name]; n.planned() && n.mark == unvisited {
			if cycle := visit(name); cycle != nil {
				return &domain.CyclicDependencyError{Cycle: rotateToMin(cycle)}
			}
		}
	}
	return nil
}

func rotateToMin(cycle []string) []string {
	i := slices.Index(cycle, slices.Min(cycle))
	return slices.Concat(cycle[i:], cycle[:i])
}

// failure reports the first conflicted or missing required node by name.
func (r *resolution) failure() error {
	for _, name := range r.names() {
		n := r.chosen[name]
		switch n.state {
		case stateConflicted:
			return &domain.VersionConflictError{Plugin: name, A: n.conflict[0], B: n.conflict[1]}
		case stateMissing:
			if r.optionalOnly(name) {
				continue
			}
			return &domain.MissingDependencyError{
				Plugin:     name,
				RequiredBy: r.requiredBy(name),
				Constraint: r.requirement(name),
				Reason:     n.reason,
			}
		}
	}
	return nil
}

func (r *resolution) optionalOnly(name string) bool {
	if _, root := r.roots[name]; root {
		return false
	}
	for _, from := range r.constraints[name] {
		for _, c := range from {
			if !c.Optional {
				return false
			}
		}
	}
	return true
}

func (r *resolution) requiredBy(name string) string {
	for _, c := range r.active(name) {
		if !c.Optional && c.From != requestFrom {
			return c.From
		}
	}
	return ""
}

func (r *resolution) requirement(name string) string {
	var hard []domain.Constraint
	for _, c := range r.active(name) {
		if !c.Optional {
			hard = append(hard, c)
		}
	}
	if s := rangeOf(hard); s != "any version" {
		return s
	}
	return ""
}

// plan orders the planned nodes with Kahn's algorithm, taking ready nodes in
// name order.
func (r *resolution) plan() *Plan {
	p := &Plan{Entries: []domain.PluginDescriptor{}}
	indegree := map[string]int{}
	dependents := map[string][]string{}
	var ready []string

	for _, name := range r.names() {
		n := r.chosen[name]
		if n.installed != nil && n.state == stateResolved {
			p.Resolved = append(p.Resolved, name)
		}
		if !n.planned() {
			continue
		}
		deps := r.edges(n)
		indegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
		if len(deps) == 0 {
			ready = append(ready, name)
		}
	}

	for len(ready) > 0 {
		slices.Sort(ready)
		name := ready[0]
		ready = ready[1:]
		p.Entries = append(p.Entries, *r.chosen[name].desc)
		for _, d := range dependents[name] {
			if indegree[d]--; indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	p.Warnings = r.collectWarnings()
	return p
}

func (r *resolution) collectWarnings() []string {
	out := slices.Clone(r.warnings)
	for _, name := range r.names() {
		n := r.chosen[name]
		out = append(out, n.notes...)
		switch {
		case n.state == stateMissing:
			out = append(out, fmt.Sprintf("optional dependency %s skipped: %s", name, n.reason))
		case n.planned() && r.opts.Validator != nil:
			if res := r.opts.Validator.Check(*n.desc); res.Verdict == domain.Unknown {
				out = append(out, fmt.Sprintf("%s: compatibility unknown (%s)", n.desc.Ref(), res.Reason))
			}
		}
		if n.planned() && !r.opts.IncludeOptional {
			for _, dep := range n.desc.SoftDependencies {
				key := domain.CanonicalName(dep.Name)
				if r.installed[key] == nil && r.chosen[key] == nil {
					out = append(out, fmt.Sprintf("optional dependency %s of %s not included", key, name))
				}
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
