package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/metrics"
	"blockyard/internal/util"
	"blockyard/internal/versions"
)

// MaxCatalogDepth bounds the dependency walk of Catalog.
const MaxCatalogDepth = 8

const (
	opSearch   = "search"
	opVersions = "versions"

	defaultConcurrency = 4
	defaultTimeout     = 15 * time.Second
)

// Options tunes a Manager.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Metrics     *metrics.Metrics
}

// Result is merged registry output plus the sources that failed to answer.
type Result struct {
	Plugins  []domain.PluginDescriptor
	Warnings []*domain.SourceError
}

// Manager fans calls out to every configured registry and merges the answers.
// A failing registry degrades the result to a warning.
type Manager struct {
	clients []Client
	opts    Options
	logger  *zap.Logger
}

// NewManager creates a manager over clients, listed in priority order.
func NewManager(clients []Client, opts Options, logger *zap.Logger) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{clients: clients, opts: opts, logger: logger}
}

// ClientsFromConfig builds the clients for the configured sources, or for
// the server type's defaults when none are configured. baseURLs overrides
// API endpoints per source and may be nil. Skipped sources are reported as
// warnings.
func ClientsFromConfig(cfg *config.Config, client *util.HTTPClient, baseURLs map[string]string) ([]Client, []string) {
	sources := cfg.Plugins.Sources
	if len(sources) == 0 {
		sources = DefaultSources(domain.ServerType(cfg.Server.ServerType))
	}

	var (
		clients  []Client
		warnings []string
	)
	for _, src := range sources {
		switch src {
		case SourceModrinth:
			clients = append(clients, NewModrinth(client, baseURLs[src]))
		case SourceHangar:
			clients = append(clients, NewHangar(client, baseURLs[src]))
		case SourceSpigotMC:
			clients = append(clients, NewSpiget(client, baseURLs[src]))
		case SourceCurseForge:
			if cfg.Plugins.CurseForgeAPIKey == "" {
				warnings = append(warnings, "curseforge skipped: plugins.curseforge_api_key is not set")
				continue
			}
			clients = append(clients, NewCurseForge(client, baseURLs[src], cfg.Plugins.CurseForgeAPIKey))
		default:
			warnings = append(warnings, fmt.Sprintf("unknown plugin source %q skipped", src))
		}
	}
	return clients, warnings
}

// Sources returns the source ids in priority order.
func (m *Manager) Sources() []string {
	out := make([]string, len(m.clients))
	for i, c := range m.clients {
		out[i] = c.Source()
	}
	return out
}

// Search queries every source for query.
func (m *Manager) Search(ctx context.Context, query string, q Query) (*Result, error) {
	if len(m.clients) == 0 {
		return nil, domain.ErrNoPluginSources
	}
	calls := make([]call, len(m.clients))
	for i, c := range m.clients {
		calls[i] = call{client: c, op: opSearch, arg: query}
	}
	descs, warnings := m.fanOut(ctx, calls, q)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Plugins: Merge(descs, m.Sources()), Warnings: warnings}, nil
}

// FetchVersions lists the versions of name published by every source.
func (m *Manager) FetchVersions(ctx context.Context, name string, q Query) (*Result, error) {
	return m.Catalog(ctx, []string{name}, q, 1)
}

// Catalog fetches the versions of names and, breadth first, of every plugin
// they declare as a dependency, down to depth levels (MaxCatalogDepth when
// depth is not positive). The result is the snapshot a resolver works on.
func (m *Manager) Catalog(ctx context.Context, names []string, q Query, depth int) (*Result, error) {
	if len(m.clients) == 0 {
		return nil, domain.ErrNoPluginSources
	}
	if depth <= 0 || depth > MaxCatalogDepth {
		depth = MaxCatalogDepth
	}

	seen := map[string]bool{}
	var frontier []string
	for _, n := range names {
		if k := domain.CanonicalName(n); k != "" && !seen[k] {
			seen[k] = true
			frontier = append(frontier, n)
		}
	}

	var (
		all      []domain.PluginDescriptor
		warnings []*domain.SourceError
	)
	for level := 0; level < depth && len(frontier) > 0; level++ {
		calls := make([]call, 0, len(frontier)*len(m.clients))
		for _, name := range frontier {
			for _, c := range m.clients {
				calls = append(calls, call{client: c, op: opVersions, arg: name})
			}
		}
		descs, warns := m.fanOut(ctx, calls, q)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		all = append(all, descs...)
		warnings = append(warnings, warns...)

		var next []string
		for _, d := range descs {
			for _, dep := range slices.Concat(d.Dependencies, d.SoftDependencies) {
				if k := domain.CanonicalName(dep.Name); k != "" && !seen[k] {
					seen[k] = true
					next = append(next, dep.Name)
				}
			}
		}
		slices.Sort(next)
		frontier = next
	}
	if len(frontier) > 0 {
		m.logger.Warn("Dependency walk stopped at maximum depth",
			zap.Int("depth", depth), zap.Strings("unexplored", frontier))
	}
	return &Result{Plugins: Merge(all, m.Sources()), Warnings: warnings}, nil
}

type call struct {
	client Client
	op     string
	arg    string
}

func (m *Manager) fanOut(ctx context.Context, calls []call, q Query) ([]domain.PluginDescriptor, []*domain.SourceError) {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		out      []domain.PluginDescriptor
		warnings []*domain.SourceError
	)
	g.SetLimit(m.opts.Concurrency)
	for _, c := range calls {
		g.Go(func() error {
			descs, err := m.invoke(ctx, c, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, &domain.SourceError{Source: c.client.Source(), Op: c.op, Err: err})
				return nil
			}
			out = append(out, descs...)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(warnings, func(a, b *domain.SourceError) int {
		return cmp.Or(cmp.Compare(a.Source, b.Source), cmp.Compare(a.Op, b.Op), cmp.Compare(a.Error(), b.Error()))
	})
	return out, warnings
}

// invoke runs one registry call under its own timeout. A project a source
// does not carry is an empty answer, not a failure.
func (m *Manager) invoke(ctx context.Context, c call, q Query) ([]domain.PluginDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	start := time.Now()
	var (
		descs []domain.PluginDescriptor
		err   error
	)
	switch c.op {
	case opSearch:
		descs, err = c.client.Search(ctx, c.arg, q)
	default:
		descs, err = c.client.FetchVersions(ctx, c.arg, q)
	}
	if isNotFound(err) {
		descs, err = nil, nil
	}
	m.opts.Metrics.ObserveSource(c.client.Source(), c.op, time.Since(start).Seconds(), err)
	if err != nil {
		m.logger.Warn("Plugin source failed",
			zap.String("source", c.client.Source()),
			zap.String("op", c.op),
			zap.String("arg", c.arg),
			zap.Error(err))
		return nil, err
	}
	return descs, nil
}

func isNotFound(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Merge deduplicates descriptors by (source, name, version). Descriptors from
// different sources collapse into the higher-priority one only when name,
// version and declared dependencies all match; otherwise both are kept. The
// result is ordered by downloads, then name, then source priority.
func Merge(descs []domain.PluginDescriptor, priority []string) []domain.PluginDescriptor {
	rank := func(source string) int {
		if i := slices.Index(priority, source); i >= 0 {
			return i
		}
		return len(priority)
	}

	sorted := slices.Clone(descs)
	slices.SortStableFunc(sorted, func(a, b domain.PluginDescriptor) int {
		return cmp.Or(cmp.Compare(rank(a.Source), rank(b.Source)), cmp.Compare(a.Source, b.Source))
	})

	seen := map[string]bool{}
	same := map[string]bool{}
	out := make([]domain.PluginDescriptor, 0, len(sorted))
	for _, d := range sorted {
		key := d.Source + "\x00" + d.Key() + "\x00" + d.Version
		if seen[key] {
			continue
		}
		seen[key] = true
		if d.Version != "" {
			cross := d.Key() + "\x00" + d.Version + "\x00" + d.DependencyFingerprint()
			if same[cross] {
				continue
			}
			same[cross] = true
		}
		out = append(out, d)
	}

	slices.SortStableFunc(out, func(a, b domain.PluginDescriptor) int {
		return cmp.Or(
			cmp.Compare(b.Downloads, a.Downloads),
			cmp.Compare(a.Key(), b.Key()),
			cmp.Compare(rank(a.Source), rank(b.Source)),
			cmp.Compare(a.Source, b.Source),
			versions.Compare(b.Version, a.Version),
		)
	})
	return out
}
