package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

var machinesCmd = &cobra.Command{
	Use:   "machines",
	Short: "Inspect state machine definitions",
}

var machinesValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Load and validate every machine definition in a directory",
	Long: `Validate loads every *.yaml and *.yml file in dir, builds its guards
and checks the machine for unknown states, unreachable states, missing
labels and duplicate edges. It prints a summary per machine.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := fsm.LoadDir(args[0], fsm.NewGuardRegistry())
		if err != nil {
			return err
		}
		return printCatalog(cmd.OutOrStdout(), cat)
	},
}

func init() {
	machinesCmd.AddCommand(machinesValidateCmd)
}

func printCatalog(w io.Writer, cat *fsm.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MACHINE\tSTATES\tTRANSITIONS\tINITIAL")
	for _, name := range cat.Names() {
		m, err := cat.Get(name)
		if err != nil {
			return err
		}
		v := fsm.Describe(m)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", v.Name, len(v.States), len(v.Transitions), v.Initial)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d machine(s) valid\n", cat.Len())
	return err
}
