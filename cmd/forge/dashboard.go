package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autoforge/internal/agents"
	"autoforge/internal/bus"
	"autoforge/internal/monitoring"
)

var (
	dashboardHours int
	ackBy          string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show health, metrics, and alerts from the learning store",
	RunE: func(cmd *cobra.Command, args []string) error {
		mon, closeStore, err := openDashboard()
		if err != nil {
			return err
		}
		defer closeStore()
		out := cmd.OutOrStdout()

		health, err := mon.GetCurrentHealth()
		if err != nil {
			return err
		}
		if health == nil {
			fmt.Fprintln(out, "Health: no data yet")
		} else {
			fmt.Fprintf(out, "Health: %.2f (%s) at %s\n",
				health.Score, health.Status, health.Timestamp.Format("2006-01-02 15:04:05"))
			components := make([]string, 0, len(health.Components))
			for name := range health.Components {
				components = append(components, name)
			}
			sort.Strings(components)
			for _, name := range components {
				fmt.Fprintf(out, "  %-24s %.2f\n", name, health.Components[name])
			}
		}

		summary, err := mon.GetMetricsSummary(dashboardHours)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nMetrics (last %dh):\n", summary.WindowHours)
		if len(summary.Metrics) == 0 {
			fmt.Fprintln(out, "  no samples recorded")
		} else {
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  METRIC\tCURRENT\tAVG\tMIN\tMAX\tTREND\tSAMPLES")
			for _, metricType := range monitoring.MetricTypeOrder() {
				ms, ok := summary.Metrics[string(metricType)]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "  %s\t%.4f\t%.4f\t%.4f\t%.4f\t%s\t%d\n",
					metricType, ms.Current, ms.Average, ms.Min, ms.Max, ms.Trend, ms.DataPoints)
			}
			w.Flush()
		}

		alerts, err := mon.GetAlertsSummary(dashboardHours)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nAlerts (last %dh): %d total, %d active, %d acknowledged\n",
			dashboardHours, alerts.Total, alerts.Active, alerts.Acknowledged)
		for _, alert := range alerts.RecentAlerts {
			state := "active"
			if alert.Acknowledged {
				state = "ack'd"
			}
			fmt.Fprintf(out, "  [%s/%s] %s  (%s, id=%s)\n",
				alert.Severity, state, alert.Message,
				alert.Timestamp.Format("15:04:05"), alert.ID)
		}
		return nil
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mon, closeStore, err := openDashboard()
		if err != nil {
			return err
		}
		defer closeStore()

		ok, err := mon.AcknowledgeAlert(args[0], ackBy)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("alert %s not found or already acknowledged", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "alert %s acknowledged by %s\n", args[0], ackBy)
		return nil
	},
}

// openDashboard opens the learning store under the project root and
// wraps it in an unstarted monitor for its query surface.
func openDashboard() (*agents.Monitor, func(), error) {
	learning, err := monitoring.NewLearningStore(filepath.Join(cfg.ProjectRoot, "learning"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open learning store: %w", err)
	}
	mon := agents.NewMonitor(bus.New(), learning, nil, nil, agents.MonitorConfig{})
	return mon, func() { _ = learning.Close() }, nil
}

func init() {
	dashboardCmd.Flags().IntVar(&dashboardHours, "hours", 24, "query window in hours")
	ackCmd.Flags().StringVar(&ackBy, "by", "cli", "acknowledging user")
	dashboardCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(dashboardCmd)
}
