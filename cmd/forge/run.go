package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autoforge/internal/orchestrator"
	"autoforge/internal/project"
)

var (
	requirementFlag string
	resumeID        string
	gearFlag        int
)

var runCmd = &cobra.Command{
	Use:   "run [requirement]",
	Short: "Run a project through the full pipeline",
	Long: `Run decomposes the requirement into tasks and drives each one through
implementation, pull request, review, and feedback until the project
reaches a terminal phase. The requirement comes from the positional
arguments, the --requirement flag, or the config file, in that order of
precedence reversed: the flag wins, then arguments, then config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("gear") {
			cfg.Gear = gearFlag
		}

		requirement := requirementFlag
		if requirement == "" && len(args) > 0 {
			requirement = strings.Join(args, " ")
		}
		if requirement == "" {
			requirement = cfg.Requirement
		}

		var (
			o   *orchestrator.Orchestrator
			err error
		)
		if resumeID != "" {
			o, err = orchestrator.Resume(cfg, resumeID)
		} else {
			if requirement == "" {
				return fmt.Errorf("no requirement given: pass it as an argument, via --requirement, or set it in the config")
			}
			o, err = orchestrator.New(cfg, requirement)
		}
		if err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "\ninterrupted, stopping agents")
			_ = o.Stop()
			os.Exit(130)
		}()

		phase, err := o.Run()
		if err != nil {
			return err
		}

		printProjectSummary(cmd.OutOrStdout(), o.State())
		if phase == project.PhaseFailed {
			return fmt.Errorf("project %s failed", o.State().ID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&requirementFlag, "requirement", "r", "", "requirement text")
	runCmd.Flags().StringVar(&resumeID, "resume", "", "resume a persisted project by id")
	runCmd.Flags().IntVarP(&gearFlag, "gear", "g", 0, "agent gear (1, 2, or 3)")
	rootCmd.AddCommand(runCmd)
}

// printProjectSummary renders the project and its tasks as a table.
func printProjectSummary(out io.Writer, state *project.State) {
	fmt.Fprintf(out, "\nProject %s  phase=%s\n", state.ID, state.Phase)
	fmt.Fprintf(out, "Requirement: %s\n\n", state.Requirement)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tPR\tBRANCH\tDESCRIPTION")
	for _, task := range state.Tasks {
		pr := "-"
		if task.PRNumber > 0 {
			pr = fmt.Sprintf("#%d", task.PRNumber)
		}
		branch := task.Branch
		if branch == "" {
			branch = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", task.ID, task.Status, pr, branch, truncate(task.Description, 48))
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d tasks: %d completed, %d failed, %d pending\n",
		len(state.Tasks),
		state.CountByStatus(project.TaskCompleted),
		state.CountByStatus(project.TaskFailed),
		state.CountByStatus(project.TaskPending))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
