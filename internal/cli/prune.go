package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop the least relevant memories above a record cap",
		Long:  "Delete unprotected memories with the lowest relevance until at most --max remain. One run removes at most a tenth of the store (minimum 10).",
		Run:   runPrune,
	}

	cmd.Flags().Int("max", 0, "Record cap (default: storage.max_records)")
	cmd.Flags().Int("history-days", 0, "Also forget access history older than this many days (default from config)")

	RootCmd.AddCommand(cmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	maxRecords, _ := cmd.Flags().GetInt("max")
	days, _ := cmd.Flags().GetInt("history-days")

	m, cfg, _ := openManager(cmd)
	defer m.Close()

	if maxRecords <= 0 {
		maxRecords = cfg.Storage.MaxRecords
	}
	if maxRecords <= 0 {
		exitErr("prune", fmt.Errorf("no record cap: pass --max or set storage.max_records"))
	}
	if days <= 0 {
		days = cfg.Importance.HistoryDays
	}

	removed, err := m.EnforceCapacity(cmd.Context(), maxRecords)
	if err != nil {
		exitErr("prune", err)
	}
	forgotten := m.Scorer().CleanupOldHistory(days)
	output(cmd, map[string]any{"ok": true, "removed": removed, "history_forgotten": forgotten}, func() string {
		return strconv.Itoa(removed)
	})
}
