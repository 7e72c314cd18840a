package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [id]",
		Short: "Recall a memory by id",
		Long:  "Recall a memory. By default the gist is rehydrated into readable text; --raw returns the stored structure and fails on checksum mismatch.",
		Args:  cobra.ExactArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().Bool("raw", false, "Return the raw gist structure")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	raw, _ := cmd.Flags().GetBool("raw")

	m, _, _ := openManager(cmd)
	defer m.Close()

	if raw {
		g, err := m.RecallRawGist(cmd.Context(), args[0])
		if err != nil {
			exitErr("recall", err)
		}
		output(cmd, g, nil)
		return
	}

	r, err := m.RecallGist(cmd.Context(), args[0])
	if err != nil {
		exitErr("recall", err)
	}
	output(cmd, r, func() string { return r.Content })
}
