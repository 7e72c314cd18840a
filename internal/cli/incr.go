package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "incr [id] [field]",
		Short: "Increment a numeric metadata field",
		Args:  cobra.ExactArgs(2),
		Run:   runIncr,
	}

	cmd.Flags().Float64("by", 1, "Amount to add")

	RootCmd.AddCommand(cmd)
}

func runIncr(cmd *cobra.Command, args []string) {
	by, _ := cmd.Flags().GetFloat64("by")

	m, _, _ := openManager(cmd)
	defer m.Close()

	v, err := m.IncrementMetadataField(cmd.Context(), args[0], args[1], by)
	if err != nil {
		exitErr("incr", err)
	}
	output(cmd, map[string]any{"ok": true, "id": args[0], "field": args[1], "value": v}, func() string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	})
}
