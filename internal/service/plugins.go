package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"blockyard/internal/compat"
	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/installer"
	"blockyard/internal/inventory"
	"blockyard/internal/metrics"
	"blockyard/internal/registry"
	"blockyard/internal/resolver"
	"blockyard/internal/util"
)

// ErrHasDependents is returned when uninstalling a plugin others require.
var ErrHasDependents = errors.New("plugin is required by installed plugins")

// PluginOptions carries optional collaborators of Plugins.
type PluginOptions struct {
	Metrics *metrics.Metrics
	// BaseURLs overrides registry endpoints per source.
	BaseURLs map[string]string
	// Transport replaces the HTTP transport of registry and download calls.
	Transport http.RoundTripper
	// Fetcher replaces the HTTP archive fetcher.
	Fetcher installer.Fetcher
}

// SearchResult is a search grouped by compatibility with the server.
type SearchResult struct {
	compat.Buckets
	Warnings []string
}

// Plugins implements PluginManager.
type Plugins struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *registry.Manager
	validator *compat.Validator
	store     *inventory.Store
	installer *installer.Installer
	warnings  []string
}

var _ PluginManager = (*Plugins)(nil)

// NewPlugins wires the registries, the installed-plugin registry and the
// installer for cfg.
func NewPlugins(cfg *config.Config, opts PluginOptions, logger *zap.Logger) (*Plugins, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := util.RetryConfig{MaxRetries: cfg.Plugins.MaxRetries, RetryDelay: cfg.Plugins.RetryDelay}
	client := util.NewHTTPClient(cfg.PluginTimeout(), retry, logger)
	if opts.Transport != nil {
		client = client.WithTransport(opts.Transport)
	}

	clients, warnings := registry.ClientsFromConfig(cfg, client, opts.BaseURLs)
	for _, w := range warnings {
		logger.Warn("Plugin source skipped", zap.String("reason", w))
	}

	store, err := inventory.Load(cfg.RegistryFile())
	if err != nil {
		return nil, domain.NewServiceError("plugins", "load registry", err)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = installer.NewHTTPFetcher(client, retry)
	}

	return &Plugins{
		cfg:    cfg,
		logger: logger,
		registry: registry.NewManager(clients, registry.Options{
			Concurrency: cfg.Plugins.Concurrency,
			Timeout:     cfg.PluginTimeout(),
			Metrics:     opts.Metrics,
		}, logger),
		validator: compat.NewValidator(cfg.ServerConfig()),
		store:     store,
		installer: installer.New(fetcher, store, installer.Options{
			Dir:         cfg.PluginsDir(),
			GameVersion: cfg.Server.GameVersion,
			Metrics:     opts.Metrics,
			DryRun:      cfg.DryRun,
		}, logger),
		warnings: warnings,
	}, nil
}

func (p *Plugins) query() registry.Query {
	return registry.Query{
		GameVersion: p.cfg.Server.GameVersion,
		ServerType:  domain.ServerType(p.cfg.Server.ServerType),
	}
}

// Search queries every source and groups the hits by compatibility.
func (p *Plugins) Search(ctx context.Context, query string) (*SearchResult, error) {
	res, err := p.registry.Search(ctx, query, p.query())
	if err != nil {
		return nil, domain.NewServiceError("plugins", "search", err)
	}
	return &SearchResult{
		Buckets:  p.validator.Filter(res.Plugins),
		Warnings: append(p.sourceWarnings(), sourceErrors(res.Warnings)...),
	}, nil
}

// Plan fetches the catalog for the request and resolves it against the
// installed plugins.
func (p *Plugins) Plan(ctx context.Context, req resolver.Request) (*resolver.Plan, error) {
	names := make([]string, 0, len(req.Plugins))
	for _, r := range req.Plugins {
		names = append(names, r.Name)
	}
	res, err := p.registry.Catalog(ctx, names, p.query(), registry.MaxCatalogDepth)
	if err != nil {
		return nil, domain.NewServiceError("plugins", "plan", err)
	}

	plan, err := p.resolve(req, res)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Resolved install plan",
		zap.Int("install", len(plan.Entries)),
		zap.Int("satisfied", len(plan.Resolved)),
		zap.Int("warnings", len(plan.Warnings)))
	return plan, nil
}

// resolve runs the resolver over a fetched catalog and prepends source
// warnings to the plan's own.
func (p *Plugins) resolve(req resolver.Request, res *registry.Result) (*resolver.Plan, error) {
	plan, err := resolver.Resolve(req, res.Plugins, p.store.Records(), resolver.Options{
		Validator:       p.validator,
		IncludeOptional: p.cfg.Plugins.IncludeOptional,
		SourcePriority:  p.registry.Sources(),
	})
	if err != nil {
		return nil, err
	}
	plan.Warnings = append(append(p.sourceWarnings(), sourceErrors(res.Warnings)...), plan.Warnings...)
	return plan, nil
}

// Install executes plan.
func (p *Plugins) Install(ctx context.Context, plan *resolver.Plan) (*installer.Report, error) {
	return p.installer.Install(ctx, plan.Entries)
}

// ListInstalled returns the installed-plugin records in registry order.
func (p *Plugins) ListInstalled() []domain.InstalledPluginRecord {
	return p.store.Records()
}

// Uninstall removes a plugin's file and record. It refuses while another
// installed plugin hard-depends on it.
func (p *Plugins) Uninstall(name string) error {
	rec, ok := p.store.Get(name)
	if !ok {
		return domain.NewServiceError("plugins", "uninstall", fmt.Errorf("%s is not installed", name))
	}
	if deps := p.store.Dependents(rec.Name); len(deps) > 0 {
		return domain.NewServiceError("plugins", "uninstall",
			fmt.Errorf("%w: %s needed by %s", ErrHasDependents, rec.Name, strings.Join(deps, ", ")))
	}
	if p.cfg.DryRun {
		p.logger.Info("Dry run: would uninstall plugin", zap.String("plugin", rec.Name))
		return nil
	}

	path := filepath.Join(p.cfg.PluginsDir(), filepath.Base(rec.Filename))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewServiceError("plugins", "uninstall", err)
	}
	p.store.Delete(rec.Name)
	if err := p.store.Save(); err != nil {
		return domain.NewServiceError("plugins", "uninstall", err)
	}
	p.logger.Info("Uninstalled plugin", zap.String("plugin", rec.Name), zap.String("file", path))
	return nil
}

// HealthCheck verifies the plugin directory, sources and installed files.
func (p *Plugins) HealthCheck(_ context.Context) []domain.HealthCheck {
	return []domain.HealthCheck{
		domain.CheckPath("Plugins directory", p.cfg.PluginsDir()),
		p.checkSources(),
		p.checkInstalled(),
	}
}

func (p *Plugins) checkSources() domain.HealthCheck {
	const name = "Plugin sources"
	sources := p.registry.Sources()
	if len(sources) == 0 {
		return domain.HealthCheck{Name: name, Status: domain.StatusError, Message: "None configured"}
	}
	msg := strings.Join(sources, ", ")
	if len(p.warnings) > 0 {
		return domain.HealthCheck{Name: name, Status: domain.StatusWarn, Message: msg + " (" + strings.Join(p.warnings, "; ") + ")"}
	}
	return domain.HealthCheck{Name: name, Status: domain.StatusOK, Message: msg}
}

// checkInstalled reports records whose file is gone or no longer matches.
func (p *Plugins) checkInstalled() domain.HealthCheck {
	const name = "Installed plugins"
	recs := p.store.Records()
	var (
		broken []string
		total  int64
	)
	for _, rec := range recs {
		path := filepath.Join(p.cfg.PluginsDir(), filepath.Base(rec.Filename))
		info, err := os.Stat(path)
		if err != nil {
			broken = append(broken, rec.Name+" (missing)")
			continue
		}
		total += info.Size()
		if err := installer.VerifyFile(path, rec.Checksum); err != nil {
			broken = append(broken, rec.Name+" (checksum)")
		}
	}
	if len(broken) > 0 {
		return domain.HealthCheck{Name: name, Status: domain.StatusError, Message: strings.Join(broken, ", ")}
	}
	return domain.HealthCheck{
		Name:    name,
		Status:  domain.StatusOK,
		Message: fmt.Sprintf("%d plugins, %s", len(recs), humanize.IBytes(uint64(total))), //nolint:gosec // sizes are non-negative
	}
}

func (p *Plugins) sourceWarnings() []string {
	return append([]string(nil), p.warnings...)
}

func sourceErrors(errs []*domain.SourceError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
