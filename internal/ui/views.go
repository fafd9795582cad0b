package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"blockyard/internal/domain"
)

// StatusPanel prints a server status snapshot as aligned key/value lines.
func (t *Terminal) StatusPanel(s domain.ServerStatus) {
	row := func(k, v string) { fmt.Fprintf(t.out, "  %-10s %s\n", k+":", v) }

	row("State", t.stateSprint(s.State))
	if s.PID != 0 {
		row("PID", fmt.Sprint(s.PID))
	}
	if !s.StartedAt.IsZero() {
		row("Started", fmt.Sprintf("%s (%s)", s.StartedAt.Local().Format(time.DateTime), humanize.Time(s.StartedAt)))
		row("Uptime", s.Uptime.Truncate(time.Second).String())
	}
	if s.State.Active() {
		row("CPU", fmt.Sprintf("%.1f%%", s.Resources.CPUPercent))
		row("Memory", humanize.IBytes(s.Resources.RSSBytes))
	}
	if s.Resources.DiskBytes > 0 {
		row("Disk", humanize.IBytes(s.Resources.DiskBytes))
	}
	if s.TPS > 0 {
		row("TPS", fmt.Sprintf("%.1f", s.TPS))
	}
	if len(s.Players) > 0 {
		row("Players", fmt.Sprintf("%d (%s)", len(s.Players), strings.Join(s.Players, ", ")))
	}
	if s.LastError != "" {
		row("Last error", t.ErrorSprint(s.LastError))
	}
}

func (t *Terminal) stateSprint(s domain.State) string {
	switch s {
	case domain.StateRunning:
		return t.SuccessSprint(string(s))
	case domain.StateStarting, domain.StateStopping:
		return t.WarningSprint(string(s))
	case domain.StateCrashed:
		return t.ErrorSprint(string(s))
	default:
		return t.DimSprint(string(s))
	}
}

// LogLine echoes one server console line, colored by severity.
func (t *Terminal) LogLine(l domain.LogLine) {
	switch l.Severity {
	case domain.SeverityError:
		fmt.Fprintln(t.out, t.ErrorSprint(l.Text))
	case domain.SeverityWarn:
		fmt.Fprintln(t.out, t.WarningSprint(l.Text))
	case domain.SeverityDebug:
		fmt.Fprintln(t.out, t.DimSprint(l.Text))
	default:
		fmt.Fprintln(t.out, l.Text)
	}
}

// PluginTable lists registry descriptors. note, when set, supplies the last
// column for each descriptor.
func (t *Terminal) PluginTable(descs []domain.PluginDescriptor, note func(domain.PluginDescriptor) string) {
	rows := make([][]string, len(descs))
	for i, d := range descs {
		n := ""
		if note != nil {
			n = note(d)
		}
		rows[i] = []string{d.Name, d.Version, d.Source, humanize.Comma(d.Downloads), truncate(n, 60)}
	}
	t.Table([]string{"Name", "Version", "Source", "Downloads", "Notes"}, rows)
}

// InstalledTable lists installed plugin records.
func (t *Terminal) InstalledTable(records []domain.InstalledPluginRecord) {
	rows := make([][]string, len(records))
	for i, r := range records {
		deps := make([]string, 0, len(r.Dependencies))
		for _, d := range r.Dependencies {
			if d.Optional {
				deps = append(deps, t.DimSprint(d.Name+"?"))
				continue
			}
			deps = append(deps, d.Name)
		}
		rows[i] = []string{
			r.Name, r.Version, r.Source, r.Filename,
			humanize.IBytes(uint64(max(r.FileSize, 0))),
			humanize.Time(r.InstalledAt),
			strings.Join(deps, ", "),
		}
	}
	t.Table([]string{"Name", "Version", "Source", "File", "Size", "Installed", "Depends"}, rows)
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
