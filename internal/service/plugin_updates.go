package service

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"blockyard/internal/domain"
	"blockyard/internal/installer"
	"blockyard/internal/registry"
	"blockyard/internal/resolver"
	"blockyard/internal/versions"
)

// Update is an installed plugin with a newer version in an update plan.
type Update struct {
	Name      string
	Installed string
	Available domain.PluginDescriptor
}

// UpdateCheck is the outcome of CheckUpdates. Plan carries the updates and
// any new dependencies they pull in.
type UpdateCheck struct {
	Plan    *resolver.Plan
	Updates []Update
}

// FileInstall is the outcome of InstallFile.
type FileInstall struct {
	Plugin   domain.PluginDescriptor
	Report   *installer.Report
	Warnings []string
}

// CheckUpdates resolves the newest compatible versions of the named installed
// plugins, or of every installed plugin when names is empty. Each plugin stays
// on the source it was installed from.
func (p *Plugins) CheckUpdates(ctx context.Context, names ...string) (*UpdateCheck, error) {
	records, err := p.selectInstalled(names)
	if err != nil {
		return nil, err
	}

	var (
		warnings []string
		roots    []domain.InstalledPluginRecord
	)
	sources := p.registry.Sources()
	for _, rec := range records {
		switch {
		case rec.Source == domain.SourceManual:
			warnings = append(warnings, fmt.Sprintf("%s was installed from a file, not checked", rec.Name))
		case !slices.Contains(sources, rec.Source):
			warnings = append(warnings, fmt.Sprintf("%s: source %s is not configured, not checked", rec.Name, rec.Source))
		default:
			roots = append(roots, rec)
		}
	}
	if len(roots) == 0 {
		return &UpdateCheck{Plan: &resolver.Plan{Warnings: warnings}}, nil
	}

	lookup := make([]string, len(roots))
	for i, rec := range roots {
		lookup[i] = rec.Name
	}
	res, err := p.registry.Catalog(ctx, lookup, p.query(), registry.MaxCatalogDepth)
	if err != nil {
		return nil, domain.NewServiceError("plugins", "check updates", err)
	}

	listed := map[string]bool{}
	for _, d := range res.Plugins {
		listed[d.Key()+"\x00"+d.Source] = true
	}
	var req resolver.Request
	for _, rec := range roots {
		if !listed[rec.Key()+"\x00"+rec.Source] {
			warnings = append(warnings, fmt.Sprintf("%s is no longer listed on %s", rec.Name, rec.Source))
			continue
		}
		req.Plugins = append(req.Plugins, resolver.Requested{Name: rec.Name, Source: rec.Source})
	}

	plan, err := p.resolve(req, res)
	if err != nil {
		return nil, err
	}
	plan.Warnings = append(warnings, plan.Warnings...)

	check := &UpdateCheck{Plan: plan}
	for _, e := range plan.Entries {
		if rec, ok := p.store.Get(e.Name); ok && versions.Compare(e.Version, rec.Version) > 0 {
			check.Updates = append(check.Updates, Update{Name: rec.Name, Installed: rec.Version, Available: e})
		}
	}
	plan.Warnings = append(plan.Warnings, p.brokenRequirements(plan.Entries)...)
	p.logger.Info("Checked plugin updates",
		zap.Int("checked", len(req.Plugins)),
		zap.Int("updates", len(check.Updates)),
		zap.Int("install", len(plan.Entries)))
	return check, nil
}

// selectInstalled returns the records for names, or all records.
func (p *Plugins) selectInstalled(names []string) ([]domain.InstalledPluginRecord, error) {
	if len(names) == 0 {
		return p.store.Records(), nil
	}
	out := make([]domain.InstalledPluginRecord, 0, len(names))
	for _, n := range names {
		rec, ok := p.store.Get(n)
		if !ok {
			return nil, domain.NewServiceError("plugins", "check updates", fmt.Errorf("%s is not installed", n))
		}
		if !slices.ContainsFunc(out, func(r domain.InstalledPluginRecord) bool { return r.Key() == rec.Key() }) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// brokenRequirements warns about installed plugins outside the plan whose
// declared range excludes a planned version.
func (p *Plugins) brokenRequirements(entries []domain.PluginDescriptor) []string {
	planned := map[string]domain.PluginDescriptor{}
	for _, e := range entries {
		planned[e.Key()] = e
	}
	var out []string
	for _, rec := range p.store.Records() {
		if _, ok := planned[rec.Key()]; ok {
			continue
		}
		for _, dep := range rec.Dependencies {
			e, ok := planned[domain.CanonicalName(dep.Name)]
			if ok && !versions.Satisfies(e.Version, dep.MinVersion, dep.MaxVersion) {
				out = append(out, fmt.Sprintf("%s %s is outside %s's requirement %s", e.Name, e.Version, rec.Name, dep))
			}
		}
	}
	return out
}

// InstallFile installs a plugin archive from the local filesystem and records
// it with the manual source.
func (p *Plugins) InstallFile(ctx context.Context, path string) (*FileInstall, error) {
	m, err := installer.ValidateArchive(path)
	if err != nil {
		return nil, domain.NewServiceError("plugins", "install file", fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	sum, err := installer.FileChecksum(path)
	if err != nil {
		return nil, domain.NewServiceError("plugins", "install file", err)
	}

	d := domain.PluginDescriptor{
		Name:         m.Name,
		Version:      m.Version,
		Source:       domain.SourceManual,
		ServerTypes:  m.SupportedTypes,
		GameVersions: m.GameVersionRange,
		Checksum:     sum,
		DownloadURL:  path,
		Filename:     filepath.Base(path),
	}
	for _, dep := range m.Dependencies {
		if dep.Optional {
			d.SoftDependencies = append(d.SoftDependencies, dep)
		} else {
			d.Dependencies = append(d.Dependencies, dep)
		}
	}

	out := &FileInstall{Plugin: d}
	switch res := p.validator.Check(d); res.Verdict {
	case domain.Incompatible:
		return nil, domain.NewServiceError("plugins", "install file",
			fmt.Errorf("%s %s is incompatible: %s", d.Name, d.Version, res.Reason))
	case domain.Unknown:
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: compatibility unknown (%s)", d.Name, res.Reason))
	}
	for _, dep := range d.Dependencies {
		rec, ok := p.store.Get(dep.Name)
		switch {
		case !ok:
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s requires %s, which is not installed", d.Name, dep))
		case !versions.Satisfies(rec.Version, dep.MinVersion, dep.MaxVersion):
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s requires %s, installed %s", d.Name, dep, rec.Version))
		}
	}

	out.Report, err = p.installer.WithFetcher(installer.FileFetcher{}).Install(ctx, []domain.PluginDescriptor{d})
	if err != nil {
		return out, err
	}
	p.logger.Info("Installed plugin from file",
		zap.String("plugin", d.Name), zap.String("version", d.Version), zap.String("path", path))
	return out, nil
}
