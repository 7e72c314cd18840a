package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store an experience",
		Long:  "Store an experience. Content can be a positional arg or piped via stdin.",
		Run:   runStore,
	}

	cmd.Flags().StringP("type", "t", "user_dialogue_text", "Data type; types containing dialogue_text are abstracted into a gist")
	cmd.Flags().StringArrayP("meta", "m", nil, "Metadata key=value (repeatable)")
	cmd.Flags().Bool("protected", false, "Exclude from capacity pruning")
	cmd.Flags().Bool("json", false, "Parse content as JSON before storing")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	dataType, _ := cmd.Flags().GetString("type")
	metaPairs, _ := cmd.Flags().GetStringArray("meta")
	protected, _ := cmd.Flags().GetBool("protected")
	asJSON, _ := cmd.Flags().GetBool("json")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("store", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	var raw any = content
	if asJSON {
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			exitErr("parse content", err)
		}
	}

	meta := parseMeta(metaPairs)
	if protected {
		meta["protected"] = true
	}

	m, cfg, logger := openManager(cmd)
	defer m.Close()

	id, err := m.StoreExperience(cmd.Context(), raw, dataType, meta)
	if err != nil {
		exitErr("store", err)
	}
	if cfg.Storage.MaxRecords > 0 {
		if n, err := m.EnforceCapacity(cmd.Context(), cfg.Storage.MaxRecords); err != nil {
			logger.Warn("capacity sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned records", zap.Int("removed", n))
		}
	}

	output(cmd, map[string]any{"ok": true, "id": id, "data_type": dataType}, func() string { return id })
}
