package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ham/internal/template"
)

func init() {
	root := &cobra.Command{
		Use:   "template",
		Short: "Manage response templates",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored templates",
		Run:   runTemplateList,
	}
	list.Flags().String("category", "", "Filter by category")
	list.Flags().Bool("builtin", false, "Include the built-in library")

	add := &cobra.Command{
		Use:   "add [content]",
		Short: "Store a template",
		Run:   runTemplateAdd,
	}
	add.Flags().String("category", "", "Category (default: classified from content)")
	add.Flags().StringSliceP("keywords", "k", nil, "Trigger keywords")

	match := &cobra.Command{
		Use:   "match [message]",
		Short: "Rank templates against a message",
		Args:  cobra.MinimumNArgs(1),
		Run:   runTemplateMatch,
	}
	match.Flags().IntP("limit", "l", 3, "Max results")

	del := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored template",
		Args:  cobra.ExactArgs(1),
		Run:   runTemplateDelete,
	}

	usage := &cobra.Command{
		Use:   "usage [id]",
		Short: "Record that a template was used",
		Args:  cobra.ExactArgs(1),
		Run:   runTemplateUsage,
	}
	usage.Flags().Bool("failed", false, "The response did not land")

	root.AddCommand(list, add, match, del, usage)
	RootCmd.AddCommand(root)
}

func runTemplateList(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	builtin, _ := cmd.Flags().GetBool("builtin")

	m, _, _ := openManager(cmd)
	defer m.Close()

	ts, err := m.GetAllTemplates(cmd.Context())
	if err != nil {
		exitErr("list templates", err)
	}
	if builtin {
		ts = append(ts, template.NewLibrary().All()...)
	}
	if category != "" {
		want := template.ParseCategory(category)
		kept := ts[:0]
		for _, t := range ts {
			if t.Category == want {
				kept = append(kept, t)
			}
		}
		ts = kept
	}
	output(cmd, ts, func() string {
		var b strings.Builder
		for _, t := range ts {
			fmt.Fprintf(&b, "%-32s %-12s used=%d rate=%.2f  %s\n", t.ID, t.Category, t.UsageCount, t.SuccessRate, oneLine(t.Content, 60))
		}
		return strings.TrimRight(b.String(), "\n")
	})
}

func runTemplateAdd(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	keywords, _ := cmd.Flags().GetStringSlice("keywords")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("template add", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	cat := template.ParseCategory(category)
	if category == "" {
		cat = template.ClassifyCategory(content)
	}

	m, _, _ := openManager(cmd)
	defer m.Close()

	t := template.New(cat, content, keywords...)
	t.Metadata["source"] = "cli"
	id, err := m.StoreTemplate(cmd.Context(), t)
	if err != nil {
		exitErr("template add", err)
	}
	output(cmd, map[string]any{"ok": true, "id": id, "category": cat}, func() string { return id })
}

func runTemplateMatch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	message := strings.Join(args, " ")

	m, _, _ := openManager(cmd)
	defer m.Close()

	matches, err := m.RetrieveResponseTemplates(cmd.Context(), message, template.AgentStateFingerprint{}, template.UserImpressionFingerprint{}, limit)
	if err != nil {
		exitErr("template match", err)
	}
	output(cmd, matches, func() string {
		var b strings.Builder
		for _, mt := range matches {
			fmt.Fprintf(&b, "%.2f  %-32s %s\n", mt.Score, mt.Template.ID, mt.Template.Content)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}

func runTemplateDelete(cmd *cobra.Command, args []string) {
	m, _, _ := openManager(cmd)
	defer m.Close()

	if err := m.DeleteTemplate(cmd.Context(), args[0]); err != nil {
		exitErr("template delete", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func runTemplateUsage(cmd *cobra.Command, args []string) {
	failed, _ := cmd.Flags().GetBool("failed")

	m, _, _ := openManager(cmd)
	defer m.Close()

	if err := m.RecordTemplateUsage(cmd.Context(), args[0], !failed); err != nil {
		exitErr("template usage", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q,"success":%t}`+"\n", args[0], !failed)
}
