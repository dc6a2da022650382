package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetLedger bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, CSV Ledger)",
	Long:  "Clears recorded attendance. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetLedger {
			resetDB = true
			resetLedger = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			db, err := openStore(cmd.Context())
			if err != nil {
				utils.Die("Database unavailable", err, nil)
			}
			if db == nil {
				fmt.Println("ℹ️  No database configured, skipping.")
			} else {
				defer db.Close(cmd.Context())
				if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
					fmt.Println("🗑️  Clearing Database...")
					if err := db.Reset(cmd.Context()); err != nil {
						utils.Die("Failed to reset database", err, nil)
					}
				}
			}
		}

		if resetLedger {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to empty %s?", cfg.Ledger.Path)) {
				fmt.Println("🗑️  Clearing Attendance Ledger...")
				if err := ledger.Truncate(cfg.Ledger.Path); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to clear %s: %v\n", cfg.Ledger.Path, err)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "tables", false, "Drop PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Empty the CSV attendance ledger")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
