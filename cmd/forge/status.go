package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autoforge/internal/project"
)

var statusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show persisted project state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := project.NewFileStore(cfg.ProjectRoot)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			state, err := store.LoadProject(args[0])
			if err != nil {
				return err
			}
			printProjectSummary(out, state)
			return nil
		}

		ids, err := store.ListProjects()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(out, "no projects found")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tPHASE\tTASKS\tDONE\tUPDATED\tREQUIREMENT")
		for _, id := range ids {
			state, err := store.LoadProject(id)
			if err != nil {
				fmt.Fprintf(w, "%s\t(unreadable: %v)\n", id, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				state.ID, state.Phase, len(state.Tasks),
				state.CountByStatus(project.TaskCompleted),
				state.UpdatedAt.Format("2006-01-02 15:04"),
				truncate(state.Requirement, 40))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
