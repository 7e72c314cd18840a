package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ham/internal/query"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Filter memories",
		Long:  "List memories matching keywords, data type, date range, importance and metadata, ordered by relevance.",
		Run:   runQuery,
	}

	cmd.Flags().StringSliceP("keyword", "k", nil, "Keywords; any match qualifies")
	cmd.Flags().StringP("type", "t", "", "Data type prefix")
	cmd.Flags().String("since", "", "Start of date range (YYYY-MM-DD or RFC3339)")
	cmd.Flags().String("until", "", "End of date range (YYYY-MM-DD or RFC3339)")
	cmd.Flags().Float64("min-importance", 0, "Minimum importance score")
	cmd.Flags().StringArrayP("meta", "m", nil, "Metadata filter key=value (repeatable)")
	cmd.Flags().IntP("limit", "l", query.DefaultLimit, "Max results")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	keywords, _ := cmd.Flags().GetStringSlice("keyword")
	dataType, _ := cmd.Flags().GetString("type")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	minImp, _ := cmd.Flags().GetFloat64("min-importance")
	metaPairs, _ := cmd.Flags().GetStringArray("meta")
	limit, _ := cmd.Flags().GetInt("limit")

	p := query.Params{
		Keywords:      keywords,
		DataType:      dataType,
		MinImportance: minImp,
		Limit:         limit,
	}
	if since != "" || until != "" {
		p.DateRange = &query.DateRange{}
		if since != "" {
			t, err := query.ParseDate(since)
			if err != nil {
				exitErr("parse --since", err)
			}
			p.DateRange.Start = t
		}
		if until != "" {
			t, err := query.ParseDate(until)
			if err != nil {
				exitErr("parse --until", err)
			}
			p.DateRange.End = t
		}
	}
	if len(metaPairs) > 0 {
		p.MetadataFilters = make(map[string]string, len(metaPairs))
		for k, v := range parseMeta(metaPairs) {
			p.MetadataFilters[k] = fmt.Sprint(v)
		}
	}

	m, _, _ := openManager(cmd)
	defer m.Close()

	results := m.QueryCoreMemory(cmd.Context(), p)
	output(cmd, results, func() string {
		var b strings.Builder
		for _, r := range results {
			fmt.Fprintf(&b, "%s  %-20s  rel=%.2f imp=%.2f  %s\n", r.ID, r.DataType, r.Relevance, r.Importance, oneLine(r.Content, 80))
		}
		return strings.TrimRight(b.String(), "\n")
	})
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
