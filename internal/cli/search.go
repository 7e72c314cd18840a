package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search memories by meaning",
		Long:  "Rank memories by semantic similarity to the text using the vector index.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 5, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	text := strings.Join(args, " ")

	m, _, _ := openManager(cmd)
	defer m.Close()

	results := m.RetrieveRelevantMemories(cmd.Context(), text, limit)
	if len(results) == 0 && formatFlag != "text" {
		fmt.Fprintln(cmd.OutOrStdout(), "[]")
		return
	}
	output(cmd, results, func() string {
		var b strings.Builder
		for _, r := range results {
			fmt.Fprintf(&b, "%s  %.3f  %s\n", r.ID, r.Score, oneLine(r.Content, 80))
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
