package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/roster"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/spf13/cobra"
)

var rosterDir string

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Encode the known-faces directory and list the identities it yields",
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("dir") {
			cfg.Roster.Dir = rosterDir
		}
		runRoster(cmd)
	},
}

func init() {
	rosterCmd.Flags().StringVarP(&rosterDir, "dir", "r", "known_faces", "Directory of reference images")
	rootCmd.AddCommand(rosterCmd)
}

func runRoster(cmd *cobra.Command) {
	ctx := cmd.Context()
	w, err := worker.NewSupervisor(spawnWorker(ctx, cfg), cfg.Worker.RestartBackoff.Std())
	if err != nil {
		utils.Die("Worker startup failed", err, nil)
	}
	defer w.Close()

	ros, err := roster.Load(ctx, cfg.Roster.Dir, w, roster.Options{Progress: os.Stderr})
	if err != nil {
		utils.Die("Failed to load roster", err, w.Cmd())
	}
	fmt.Fprintln(os.Stderr)

	if ros.Len() == 0 {
		fmt.Println("No identities found in roster.")
	} else {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "#\tIDENTITY\tDIMENSIONS")
		fmt.Fprintln(tw, "-\t--------\t----------")
		for i, c := range ros.Candidates() {
			fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, c.Identity, len(c.Signature))
		}
		tw.Flush()
	}

	if warns := ros.Warnings(); len(warns) > 0 {
		fmt.Printf("\n⚠️  Skipped %d file(s):\n", len(warns))
		for _, warn := range warns {
			fmt.Printf("   %v\n", warn)
		}
	}
}
