package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/ham/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type statsOutput struct {
	memory.Stats
	Path      string `json:"path"`
	Backend   string `json:"backend"`
	UsageText string `json:"usage"`
}

func runStats(cmd *cobra.Command, args []string) {
	m, cfg, _ := openManager(cmd)
	defer m.Close()

	st := m.Stats()
	out := statsOutput{
		Stats:     st,
		Path:      cfg.StorePath(),
		Backend:   cfg.Storage.Backend,
		UsageText: humanize.Bytes(uint64(max(st.UsageBytes, 0))),
	}
	output(cmd, out, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "path:       %s (%s)\n", out.Path, out.Backend)
		fmt.Fprintf(&b, "size:       %s\n", out.UsageText)
		fmt.Fprintf(&b, "records:    %s (%d protected)\n", humanize.Comma(int64(st.Records)), st.Protected)
		fmt.Fprintf(&b, "templates:  %d\n", st.Templates)
		fmt.Fprintf(&b, "next id:    %s\n", st.NextID)
		fmt.Fprintf(&b, "encrypted:  %t\n", st.Encrypted)
		types := make([]string, 0, len(st.ByType))
		for t := range st.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&b, "  %-24s %d\n", t, st.ByType[t])
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
