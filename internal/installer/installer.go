// Package installer downloads, validates and places plugin archives in plan
// order, rolling back the current run on failure or cancellation.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blockyard/internal/domain"
	"blockyard/internal/inventory"
	"blockyard/internal/metrics"
)

// Install stages, reported in InstallError.Stage.
const (
	StageCancelled = "cancelled"
	StageFetch     = "fetch"
	StageValidate  = "validate"
	StagePlace     = "place"
	StageRecord    = "record"
)

// Result statuses.
const (
	StatusInstalled  = "installed"
	StatusFailed     = "failed"
	StatusAborted    = "aborted"
	StatusRolledBack = "rolled_back"
	StatusPlanned    = "planned"
)

const rollbackSuffix = ".rollback"

// Result is the outcome for one plan entry.
type Result struct {
	Name     string
	Version  string
	Source   string
	Filename string
	Status   string
	Err      error
}

// Report summarizes one Install run.
type Report struct {
	RunID   string
	Results []Result
	OK      bool
}

// Options configures an Installer.
type Options struct {
	Dir         string
	GameVersion string
	Metrics     *metrics.Metrics
	DryRun      bool
}

// Installer executes an install plan sequentially.
type Installer struct {
	fetcher     Fetcher
	store       *inventory.Store
	dir         string
	gameVersion string
	metrics     *metrics.Metrics
	dryRun      bool
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an installer placing files into opts.Dir and recording them in
// store.
func New(fetcher Fetcher, store *inventory.Store, opts Options, logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{
		fetcher:     fetcher,
		store:       store,
		dir:         opts.Dir,
		gameVersion: opts.GameVersion,
		metrics:     opts.Metrics,
		dryRun:      opts.DryRun,
		logger:      logger,
		now:         time.Now,
	}
}

// WithFetcher returns a copy of the installer that obtains archives from f.
func (in *Installer) WithFetcher(f Fetcher) *Installer {
	c := *in
	c.fetcher = f
	return &c
}

// placement remembers what one entry changed so it can be undone.
type placement struct {
	name    string
	target  string
	backups [][2]string // original, backup
	prev    *domain.InstalledPluginRecord
	// placed is set once the staged file sits at target.
	placed bool
}

// Install runs entries in order. The first failure aborts the remaining
// entries and undoes every placement made by this run.
func (in *Installer) Install(ctx context.Context, entries []domain.PluginDescriptor) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), OK: true}
	log := in.logger.With(zap.String("run_id", report.RunID))

	for _, d := range entries {
		report.Results = append(report.Results, Result{
			Name: d.Name, Version: d.Version, Source: d.Source, Filename: targetName(d), Status: StatusAborted,
		})
	}
	if in.dryRun {
		for i := range report.Results {
			report.Results[i].Status = StatusPlanned
		}
		log.Info("Dry run, nothing installed", zap.Int("plugins", len(entries)))
		return report, nil
	}
	if len(entries) == 0 {
		return report, nil
	}

	if err := os.MkdirAll(in.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create plugins directory: %w", err)
	}
	staging, err := os.MkdirTemp(in.dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(staging)
	}()

	var done []placement
	for i, d := range entries {
		p, stage, err := in.installOne(ctx, d, staging)
		if p != nil {
			done = append(done, *p)
		}
		if err != nil {
			report.OK = false
			report.Results[i].Status = StatusFailed
			report.Results[i].Err = err
			in.metrics.IncInstall(StatusFailed)
			log.Error("Plugin install failed",
				zap.String("plugin", d.Ref()), zap.String("stage", stage), zap.Error(err))

			in.rollback(done, log)
			for j := range i {
				report.Results[j].Status = StatusRolledBack
				in.metrics.IncInstall(StatusRolledBack)
			}
			return report, &domain.InstallError{Plugin: d.Name, Stage: stage, Err: err}
		}
		report.Results[i].Status = StatusInstalled
		in.metrics.IncInstall(StatusInstalled)
		log.Info("Installed plugin", zap.String("plugin", d.Ref()), zap.String("file", report.Results[i].Filename))
	}

	for _, p := range done {
		for _, b := range p.backups {
			_ = os.Remove(b[1])
		}
	}
	return report, nil
}

func (in *Installer) installOne(ctx context.Context, d domain.PluginDescriptor, staging string) (*placement, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, StageCancelled, err
	}

	filename := targetName(d)
	staged := filepath.Join(staging, filename)
	if err := in.fetcher.Fetch(ctx, d, staged); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, StageCancelled, ctxErr
		}
		return nil, StageFetch, err
	}

	m, err := ValidateArchive(staged)
	if err != nil {
		return nil, StageValidate, err
	}
	if domain.CanonicalName(m.Name) != d.Key() {
		in.logger.Debug("Manifest name differs from registry name",
			zap.String("registry", d.Name), zap.String("manifest", m.Name))
	}

	if err := ctx.Err(); err != nil {
		return nil, StageCancelled, err
	}
	p, err := in.place(d, staged, filename)
	if err != nil {
		return p, StagePlace, err
	}

	info, err := os.Stat(p.target)
	if err != nil {
		return p, StageRecord, err
	}
	in.store.Put(in.record(d, filename, info.Size()))
	if err := in.store.Save(); err != nil {
		return p, StageRecord, err
	}
	return p, "", nil
}

// place moves the previous file for the plugin and anything occupying the
// target name aside, then renames the staged file into the plugins dir.
func (in *Installer) place(d domain.PluginDescriptor, staged, filename string) (*placement, error) {
	p := &placement{name: d.Name, target: filepath.Join(in.dir, filename)}
	if prev, ok := in.store.Get(d.Name); ok {
		p.prev = &prev
		if prev.Filename != "" {
			if err := p.backup(filepath.Join(in.dir, filepath.Base(prev.Filename))); err != nil {
				return p, err
			}
		}
	}
	if err := p.backup(p.target); err != nil {
		return p, err
	}
	if err := os.Rename(staged, p.target); err != nil {
		return p, fmt.Errorf("move %s into place: %w", filename, err)
	}
	p.placed = true
	return p, nil
}

func (p *placement) backup(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	dst := path + rollbackSuffix
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("back up %s: %w", filepath.Base(path), err)
	}
	p.backups = append(p.backups, [2]string{path, dst})
	return nil
}

// rollback undoes placements newest first and saves the registry once.
func (in *Installer) rollback(done []placement, log *zap.Logger) {
	for _, p := range slices.Backward(done) {
		if p.placed {
			if err := os.Remove(p.target); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("Rollback could not remove file", zap.String("file", p.target), zap.Error(err))
			}
		}
		for _, b := range slices.Backward(p.backups) {
			if err := os.Rename(b[1], b[0]); err != nil {
				log.Warn("Rollback could not restore file", zap.String("file", b[0]), zap.Error(err))
			}
		}
		if p.prev != nil {
			in.store.Put(*p.prev)
		} else {
			in.store.Delete(p.name)
		}
	}
	if len(done) == 0 {
		return
	}
	if err := in.store.Save(); err != nil {
		log.Error("Rollback could not save plugin registry", zap.Error(err))
		return
	}
	log.Info("Rolled back install run", zap.Int("plugins", len(done)))
}

func (in *Installer) record(d domain.PluginDescriptor, filename string, size int64) domain.InstalledPluginRecord {
	deps := slices.Clone(d.Dependencies)
	for _, s := range d.SoftDependencies {
		s.Optional = true
		deps = append(deps, s)
	}
	return domain.InstalledPluginRecord{
		Name:         d.Name,
		Version:      d.Version,
		Source:       d.Source,
		ProjectID:    d.ProjectID,
		Filename:     filename,
		Checksum:     d.Checksum,
		InstalledAt:  in.now().UTC(),
		GameVersion:  in.gameVersion,
		Dependencies: deps,
		FileSize:     size,
	}
}

// targetName returns a safe file name for d inside the plugins dir.
func targetName(d domain.PluginDescriptor) string {
	name := filepath.Base(strings.ReplaceAll(d.Filename, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		name = ""
	}
	if name == "" || strings.HasPrefix(name, ".") {
		return fmt.Sprintf("%s-%s.jar", d.Key(), d.Version)
	}
	return name
}
