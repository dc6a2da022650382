package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/sink"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	historyIdentity string
	historyLimit    int
	historyLedger   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded entries and departures",
	Long:  "Reads the PostgreSQL ledger when a database is configured, otherwise the CSV attendance ledger.",
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("ledger") {
			cfg.Ledger.Path = historyLedger
		}
		runHistory(cmd)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyIdentity, "identity", "", "Only show rows for this identity")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum rows to show")
	historyCmd.Flags().StringVar(&historyLedger, "ledger", ledger.DefaultPath, "CSV ledger used when no database is configured")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command) {
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		utils.Die("Database unavailable", err, nil)
	}

	var rows []store.Row
	if db != nil {
		defer db.Close(ctx)
		rows, err = db.History(ctx, store.HistoryFilter{Identity: presence.Identity(historyIdentity), Limit: historyLimit})
		if err != nil {
			utils.Die("Failed to query history", err, nil)
		}
	} else {
		entries, err := ledger.ReadCSV(cfg.Ledger.Path, time.Local)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No attendance recorded yet.")
				return
			}
			utils.Die("Failed to read ledger", err, nil)
		}
		rows = csvRows(entries, presence.Identity(historyIdentity), historyLimit)
	}

	if len(rows) == 0 {
		fmt.Println("No matching history.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tIDENTITY\tEVENT\tSESSION")
	fmt.Fprintln(w, "----\t--------\t-----\t-------")
	for _, r := range rows {
		session := "-"
		if r.Session != uuid.Nil {
			session = r.Session.String()[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.At.Local().Format("2006-01-02 15:04:05"), r.Identity, r.Event, session)
	}
	w.Flush()
}

// csvRows converts CSV ledger entries to history rows, newest first.
// The CSV ledger only holds entries, so departures never appear here.
func csvRows(entries []sink.Entry, identity presence.Identity, limit int) []store.Row {
	var rows []store.Row
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if identity != "" && e.Identity != identity {
			continue
		}
		rows = append(rows, store.Row{Identity: e.Identity, Event: e.Label, At: e.At})
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows
}
