package cli

import (
	"math"

	"github.com/spf13/cobra"

	"github.com/rcliao/ham/internal/query"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as readable JSON",
		Long:  "Decode every memory and print it as JSON. Dialogue is exported as its rehydrated gist, not the original text.",
		Run:   runExport,
	}

	cmd.Flags().StringP("type", "t", "", "Filter by data type prefix")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	dataType, _ := cmd.Flags().GetString("type")

	m, _, _ := openManager(cmd)
	defer m.Close()

	results := m.QueryCoreMemory(cmd.Context(), query.Params{DataType: dataType, Limit: math.MaxInt})
	output(cmd, results, nil)
}
