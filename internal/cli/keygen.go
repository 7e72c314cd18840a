package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/ham/internal/processor"
)

func init() {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key for HAM_KEY",
		Long:  "Print a fresh random key. Export it as HAM_KEY (or set encryption.key) so stored memories stay readable across runs.",
		Args:  cobra.NoArgs,
		Run:   runKeygen,
	}

	RootCmd.AddCommand(cmd)
}

func runKeygen(cmd *cobra.Command, args []string) {
	key, err := processor.GenerateKey()
	if err != nil {
		exitErr("keygen", err)
	}
	encoded := processor.EncodeKey(key)
	output(cmd, map[string]string{"key": encoded}, func() string { return "HAM_KEY=" + encoded })
}
