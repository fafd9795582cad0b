package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"blockyard/internal/domain"
)

// healthCheckCmd runs an end-to-end diagnostic suite
var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Run system health checks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a := App(cmd)
		a.Terminal.Banner("System Health Check")

		var allChecks []domain.HealthCheck
		a.Terminal.Step(1, 4, "Checking paths...")
		allChecks = append(allChecks, domain.CheckPath("Logs directory", a.Config.Paths.Logs))

		a.Terminal.Step(2, 4, "Testing server launch setup...")
		srv, err := a.Server()
		if err != nil {
			allChecks = append(allChecks, failedCheck("Server", err))
		} else {
			allChecks = append(allChecks, srv.HealthCheck(ctx)...)
		}

		a.Terminal.Step(3, 4, "Validating plugin service...")
		p, err := a.Plugins()
		if err != nil {
			allChecks = append(allChecks, failedCheck("Plugins", err))
		} else {
			allChecks = append(allChecks, p.HealthCheck(ctx)...)
		}

		a.Terminal.Step(4, 4, "Checking notifications...")
		allChecks = append(allChecks, a.Notification.HealthCheck(ctx)...)

		a.Terminal.Section("Detailed Results")
		a.Terminal.HealthCheckTable(allChecks)
		return displayHealthSummary(a, allChecks)
	},
}

func failedCheck(name string, err error) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.StatusError, Message: err.Error()}
}

// displayHealthSummary aggregates check results into a final terminal report
func displayHealthSummary(a *AppContainer, checks []domain.HealthCheck) error {
	var p, w, f int
	for _, c := range checks {
		switch c.Status {
		case domain.StatusOK:
			p++
		case domain.StatusWarn:
			w++
		case domain.StatusError:
			f++
		}
	}

	a.Terminal.Section("Summary")
	if f > 0 {
		a.Terminal.Error(fmt.Sprintf("%d failed, %d warnings, %d passed", f, w, p))
		return fmt.Errorf("%d health checks failed", f)
	}

	if w > 0 {
		a.Terminal.Warning(fmt.Sprintf("%d warnings, %d passed", w, p))
	} else {
		a.Terminal.Success(fmt.Sprintf("All %d checks passed!", p))
	}
	return nil
}
