// Package ui renders blockyard's terminal output: headers, status messages,
// tables, and the views for server status, console lines and plugin plans.
package ui

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"

	"blockyard/internal/domain"
)

// Terminal provides structured and styled output to the console
type Terminal struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
}

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan, color.Bold)
	headerColor  = color.New(color.FgMagenta, color.Bold)
	accentColor  = color.New(color.FgBlue, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// NewTerminal initializes a terminal linked to standard output
func NewTerminal() *Terminal {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	color.NoColor = !isTTY
	return &Terminal{out: os.Stdout, errOut: os.Stderr, isTTY: isTTY}
}

// NewTerminalWithWriter allows injecting custom writers for testing or redirection
func NewTerminalWithWriter(out, errOut io.Writer, isTTY bool) *Terminal {
	return &Terminal{out: out, errOut: errOut, isTTY: isTTY}
}

func (t *Terminal) IsTTY() bool { return t.isTTY }

// Out is the writer for regular output.
func (t *Terminal) Out() io.Writer { return t.out }

// Banner prints a prominent header with double-line borders
func (t *Terminal) Banner(title string) {
	if !t.isTTY {
		fmt.Fprintf(t.out, "%s\n", title)
		return
	}
	const width = 60
	padding := max((width-utf8.RuneCountInString(title)-2)/2, 1)
	headerColor.Fprintln(t.out, strings.Repeat("═", width))
	headerColor.Fprintf(t.out, "%s%s\n", strings.Repeat(" ", padding), title)
	headerColor.Fprintln(t.out, strings.Repeat("═", width))
	fmt.Fprintln(t.out)
}

// Section prints a secondary header
func (t *Terminal) Section(title string) {
	if t.isTTY {
		accentColor.Fprintf(t.out, "\n▶ %s\n", title)
		dimColor.Fprintln(t.out, strings.Repeat("─", utf8.RuneCountInString(title)+2))
		return
	}
	fmt.Fprintf(t.out, "\n== %s ==\n", title)
}

func (t *Terminal) Success(message string) { t.printMsg(t.out, successColor, "SUCCESS", message) }
func (t *Terminal) Info(message string)    { t.printMsg(t.out, infoColor, "INFO", message) }
func (t *Terminal) Warning(message string) { t.printMsg(t.out, warningColor, "WARNING", message) }

// Error prints to the error writer.
func (t *Terminal) Error(message string) { t.printMsg(t.errOut, errorColor, "ERROR", message) }

func (t *Terminal) printMsg(w io.Writer, c *color.Color, label, msg string) {
	if t.isTTY {
		c.Fprintln(w, msg)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, msg)
}

// Step prints a progress indicator like [1/5]
func (t *Terminal) Step(current, total int, message string) {
	fmt.Fprintf(t.out, "%s %s\n", t.sprint(accentColor, fmt.Sprintf("[%d/%d]", current, total)), message)
}

func (t *Terminal) Printf(format string, args ...any) { fmt.Fprintf(t.out, format, args...) }
func (t *Terminal) Println(args ...any)               { fmt.Fprintln(t.out, args...) }

func (t *Terminal) SuccessSprint(text string) string { return t.sprint(successColor, text) }
func (t *Terminal) ErrorSprint(text string) string   { return t.sprint(errorColor, text) }
func (t *Terminal) WarningSprint(text string) string { return t.sprint(warningColor, text) }
func (t *Terminal) DimSprint(text string) string     { return t.sprint(dimColor, text) }
func (t *Terminal) AccentSprint(text string) string  { return t.sprint(accentColor, text) }

func (t *Terminal) sprint(c *color.Color, text string) string {
	if t.isTTY {
		return c.Sprint(text)
	}
	return text
}

// visibleLen is the display width of s without color escapes.
func visibleLen(s string) int {
	return utf8.RuneCountInString(ansiRe.ReplaceAllString(s, ""))
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", max(width-visibleLen(s), 0))
}

// Table prints rows under headers, boxed on a TTY and plain otherwise.
func (t *Terminal) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], visibleLen(cell))
			}
		}
	}
	if t.isTTY {
		t.boxTable(headers, rows, widths)
		return
	}
	t.plainTable(headers, rows, widths)
}

func (t *Terminal) boxTable(headers []string, rows [][]string, widths []int) {
	border := func(left, mid, right string) {
		parts := make([]string, len(widths))
		for i, w := range widths {
			parts[i] = strings.Repeat("─", w+2)
		}
		accentColor.Fprintln(t.out, left+strings.Join(parts, mid)+right)
	}
	bar := accentColor.Sprint("│")
	printRow := func(cells []string) {
		var b strings.Builder
		b.WriteString(bar)
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" " + pad(cell, w) + " " + bar)
		}
		fmt.Fprintln(t.out, b.String())
	}

	border("┌", "┬", "┐")
	printRow(headers)
	border("├", "┼", "┤")
	for _, row := range rows {
		printRow(row)
	}
	border("└", "┴", "┘")
}

func (t *Terminal) plainTable(headers []string, rows [][]string, widths []int) {
	printRow := func(cells []string) {
		out := make([]string, len(widths))
		for i, w := range widths {
			if i < len(cells) {
				out[i] = pad(cells[i], w)
			} else {
				out[i] = pad("", w)
			}
		}
		fmt.Fprintln(t.out, strings.TrimRight(strings.Join(out, "  "), " "))
	}
	printRow(headers)
	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("-", w)
	}
	printRow(rules)
	for _, row := range rows {
		printRow(row)
	}
}

// HealthCheckTable outputs a table of diagnostic results
func (t *Terminal) HealthCheckTable(checks []domain.HealthCheck) {
	rows := make([][]string, len(checks))
	for i, check := range checks {
		rows[i] = []string{check.Name, t.healthSprint(check.Status), check.Message}
	}
	t.Table([]string{"Component", "Status", "Details"}, rows)
}

func (t *Terminal) healthSprint(s domain.HealthStatus) string {
	switch s {
	case domain.StatusOK:
		return t.SuccessSprint(string(s))
	case domain.StatusWarn:
		return t.WarningSprint(string(s))
	case domain.StatusError:
		return t.ErrorSprint(string(s))
	default:
		return string(s)
	}
}
