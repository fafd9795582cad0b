package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"blockyard/internal/config"
	"blockyard/internal/domain"
	"blockyard/internal/installer"
	"blockyard/internal/resolver"
	"blockyard/internal/service"
)

var (
	showAll      bool
	withOptional bool
	checkOnly    bool
	archivePath  string
)

// pluginsCmd groups plugin registry and installation commands
var pluginsCmd = &cobra.Command{
	Use:     "plugins",
	Aliases: []string{"plugin", "pl"},
	Short:   "Search, install and remove plugins",
}

var pluginsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search every configured plugin source",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, p, err := pluginService(cmd)
		if err != nil {
			return err
		}
		res, err := p.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		printWarnings(a, res.Warnings)

		reason := func(d domain.PluginDescriptor) string { return res.Reasons[d.Ref()] }
		a.Terminal.Section(fmt.Sprintf("Compatible (%d)", len(res.Compatible)))
		if len(res.Compatible) > 0 {
			a.Terminal.PluginTable(res.Compatible, func(d domain.PluginDescriptor) string { return d.Description })
		}
		if len(res.Unknown) > 0 {
			a.Terminal.Section(fmt.Sprintf("Unverified (%d)", len(res.Unknown)))
			a.Terminal.PluginTable(res.Unknown, reason)
		}
		if len(res.Incompatible) > 0 {
			if showAll {
				a.Terminal.Section(fmt.Sprintf("Incompatible (%d)", len(res.Incompatible)))
				a.Terminal.PluginTable(res.Incompatible, reason)
			} else {
				a.Terminal.Println(a.Terminal.DimSprint(fmt.Sprintf("%d incompatible results hidden, use --all to show", len(res.Incompatible))))
			}
		}
		return nil
	},
}

var pluginsPlanCmd = &cobra.Command{
	Use:   "plan <name[@version][:source]>...",
	Short: "Resolve plugins and their dependencies without installing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := parseRequest(args)
		if err != nil {
			return err
		}
		a, p, err := pluginService(cmd)
		if err != nil {
			return err
		}
		plan, err := p.Plan(cmd.Context(), req)
		if err != nil {
			return err
		}
		printPlan(a, plan)
		return nil
	},
}

var pluginsInstallCmd = &cobra.Command{
	Use:   "install <name[@version][:source]>... | --file <jar>",
	Short: "Resolve and install plugins with their dependencies",
	Args: func(cmd *cobra.Command, args []string) error {
		if archivePath != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if archivePath != "" {
			return installArchive(cmd, archivePath)
		}
		req, err := parseRequest(args)
		if err != nil {
			return err
		}
		a, p, err := pluginService(cmd)
		if err != nil {
			return err
		}
		plan, err := p.Plan(cmd.Context(), req)
		if err != nil {
			return err
		}
		printPlan(a, plan)
		if len(plan.Entries) == 0 {
			a.Terminal.Success("Nothing to install")
			return nil
		}
		return applyPlan(cmd.Context(), a, p, plan, "Installed")
	},
}

var pluginsUpdateCmd = &cobra.Command{
	Use:   "update [name]...",
	Short: "Update installed plugins to their newest compatible versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, p, err := pluginService(cmd)
		if err != nil {
			return err
		}
		check, err := p.CheckUpdates(cmd.Context(), args...)
		if err != nil {
			return err
		}
		printWarnings(a, check.Plan.Warnings)
		if len(check.Plan.Entries) == 0 {
			a.Terminal.Success("All plugins are up to date")
			return nil
		}

		a.Terminal.Section(fmt.Sprintf("Updates available (%d)", len(check.Updates)))
		rows := make([][]string, len(check.Updates))
		for i, u := range check.Updates {
			rows[i] = []string{u.Name, u.Installed, a.Terminal.SuccessSprint(u.Available.Version), u.Available.Source}
		}
		a.Terminal.Table([]string{"Name", "Installed", "Available", "Source"}, rows)
		if extra := len(check.Plan.Entries) - len(check.Updates); extra > 0 {
			a.Terminal.Info(fmt.Sprintf("%d new dependencies will also be installed", extra))
		}
		if checkOnly {
			return nil
		}
		return applyPlan(cmd.Context(), a, p, check.Plan, "Updated")
	},
}

var pluginsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed plugins",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, p, err := pluginService(cmd)
		if err != nil {
			return err
		}
		records := p.ListInstalled()
		if len(records) == 0 {
			a.Terminal.Info("No plugins installed")
			return nil
		}
		a.Terminal.InstalledTable(records)
		return nil
	},
}

var pluginsRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm", "uninstall"},
	Short:   "Remove an installed plugin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, p, err := pluginService(cmd)
		if err != nil {
			return err
		}
		if err := p.Uninstall(args[0]); err != nil {
			return err
		}
		a.Terminal.Success(fmt.Sprintf("Removed %s", args[0]))
		return nil
	},
}

// applyPlan installs plan, reports the run and sends the matching
// notification. verb labels the success message.
func applyPlan(ctx context.Context, a *AppContainer, p service.PluginManager, plan *resolver.Plan, verb string) error {
	report, err := p.Install(ctx, plan)
	if report != nil {
		printReport(a, report)
	}
	if err != nil {
		a.Terminal.Error(fmt.Sprintf("Install failed: %v", err))
		_ = a.Notification.SendError(ctx, fmt.Sprintf("Plugin install failed: %v", err))
		return err
	}
	names := make([]string, len(plan.Entries))
	for i, e := range plan.Entries {
		names[i] = e.Name + " " + e.Version
	}
	a.Terminal.Success(fmt.Sprintf("%s %d plugin(s)", verb, len(plan.Entries)))
	if !a.Config.DryRun {
		_ = a.Notification.SendSuccess(ctx, verb+" plugins: "+strings.Join(names, ", "))
	}
	return nil
}

func installArchive(cmd *cobra.Command, path string) error {
	a, p, err := pluginService(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	res, err := p.InstallFile(ctx, path)
	if res != nil {
		printWarnings(a, res.Warnings)
		if res.Report != nil {
			printReport(a, res.Report)
		}
	}
	if err != nil {
		a.Terminal.Error(fmt.Sprintf("Install failed: %v", err))
		return err
	}
	a.Terminal.Success(fmt.Sprintf("Installed %s %s from %s", res.Plugin.Name, res.Plugin.Version, path))
	if !a.Config.DryRun {
		_ = a.Notification.SendSuccess(ctx, fmt.Sprintf("Installed plugin from file: %s %s", res.Plugin.Name, res.Plugin.Version))
	}
	return nil
}

func pluginService(cmd *cobra.Command) (*AppContainer, *service.Plugins, error) {
	a := App(cmd)
	if f := cmd.Flags().Lookup("optional"); f != nil && f.Changed {
		a.Config.Plugins.IncludeOptional = withOptional
	}
	p, err := a.Plugins()
	return a, p, err
}

// parseRequest parses name[@version][:source] arguments.
func parseRequest(args []string) (resolver.Request, error) {
	req := resolver.Request{Plugins: make([]resolver.Requested, 0, len(args))}
	for _, arg := range args {
		r, err := parseRequested(arg)
		if err != nil {
			return resolver.Request{}, err
		}
		req.Plugins = append(req.Plugins, r)
	}
	return req, nil
}

func parseRequested(arg string) (resolver.Requested, error) {
	rest, source, hasSource := strings.Cut(arg, ":")
	name, version, hasVersion := strings.Cut(rest, "@")
	r := resolver.Requested{
		Name:    strings.TrimSpace(name),
		Version: strings.TrimSpace(version),
		Source:  strings.ToLower(strings.TrimSpace(source)),
	}
	switch {
	case r.Name == "":
		return r, fmt.Errorf("invalid plugin %q: missing name", arg)
	case hasVersion && r.Version == "":
		return r, fmt.Errorf("invalid plugin %q: empty version", arg)
	case hasSource && !slices.Contains(config.KnownSources, r.Source):
		return r, fmt.Errorf("invalid plugin %q: unknown source %q (known: %s)",
			arg, source, strings.Join(config.KnownSources, ", "))
	}
	return r, nil
}

func printWarnings(a *AppContainer, warnings []string) {
	for _, w := range warnings {
		a.Terminal.Warning(w)
	}
}

func printPlan(a *AppContainer, plan *resolver.Plan) {
	printWarnings(a, plan.Warnings)
	if len(plan.Resolved) > 0 {
		a.Terminal.Info("Already installed: " + strings.Join(plan.Resolved, ", "))
	}
	if len(plan.Entries) == 0 {
		return
	}
	a.Terminal.Section(fmt.Sprintf("Install plan (%d)", len(plan.Entries)))
	rows := make([][]string, len(plan.Entries))
	for i, e := range plan.Entries {
		deps := make([]string, 0, len(e.Dependencies))
		for _, d := range e.Dependencies {
			deps = append(deps, d.String())
		}
		rows[i] = []string{fmt.Sprint(i + 1), e.Name, e.Version, e.Source, strings.Join(deps, ", ")}
	}
	a.Terminal.Table([]string{"#", "Name", "Version", "Source", "Requires"}, rows)
}

func printReport(a *AppContainer, report *installer.Report) {
	a.Terminal.Section("Install report " + a.Terminal.DimSprint(report.RunID))
	rows := make([][]string, len(report.Results))
	for i, r := range report.Results {
		status := r.Status
		switch r.Status {
		case installer.StatusInstalled:
			status = a.Terminal.SuccessSprint(status)
		case installer.StatusFailed:
			status = a.Terminal.ErrorSprint(status)
		case installer.StatusRolledBack, installer.StatusAborted:
			status = a.Terminal.WarningSprint(status)
		}
		detail := r.Filename
		if r.Err != nil {
			detail = r.Err.Error()
		}
		rows[i] = []string{r.Name, r.Version, r.Source, status, detail}
	}
	a.Terminal.Table([]string{"Name", "Version", "Source", "Status", "Details"}, rows)
}
