package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store experiences from JSON",
		Long:  `Store a batch of experiences read from stdin: a JSON array of {"content": ..., "data_type": ..., "metadata": {...}}.`,
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

type importItem struct {
	Content  json.RawMessage `json:"content"`
	DataType string          `json:"data_type"`
	Metadata map[string]any  `json:"metadata"`
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var items []importItem
	if err := json.Unmarshal(data, &items); err != nil {
		exitErr("parse json", err)
	}

	m, _, _ := openManager(cmd)
	defer m.Close()

	var ids []string
	for i, it := range items {
		var raw any
		if err := json.Unmarshal(it.Content, &raw); err != nil {
			exitErr("parse item", fmt.Errorf("item %d: %w", i, err))
		}
		dt := strings.TrimSpace(it.DataType)
		if dt == "" {
			dt = "user_dialogue_text"
		}
		id, err := m.StoreExperience(cmd.Context(), raw, dt, it.Metadata)
		if err != nil {
			exitErr("import", fmt.Errorf("item %d: %w", i, err))
		}
		ids = append(ids, id)
	}

	output(cmd, map[string]any{"ok": true, "imported": len(ids), "ids": ids}, func() string {
		return fmt.Sprintf("imported %d", len(ids))
	})
}
