package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ham/internal/query"
	"github.com/rcliao/ham/internal/template"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [message]",
		Short: "Assemble memories and response templates for a message",
		Long:  "Gather the memories most related to a message and the best matching response templates, ready to hand to an agent.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().IntP("limit", "l", 5, "Max memories")
	cmd.Flags().Int("templates", 3, "Max templates")
	cmd.Flags().StringArray("mood", nil, "Agent mood axis key=value (repeatable)")
	cmd.Flags().Float64("relationship", 0, "Relationship level with the user (0-1)")
	cmd.Flags().String("style", "", "Preferred response style of the user")
	cmd.Flags().StringSlice("tags", nil, "User impression tags")

	RootCmd.AddCommand(cmd)
}

type contextResult struct {
	Message   string           `json:"message"`
	Memories  []query.Memory   `json:"memories"`
	Templates []template.Match `json:"templates"`
}

func runContext(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	nTemplates, _ := cmd.Flags().GetInt("templates")
	moodPairs, _ := cmd.Flags().GetStringArray("mood")
	relationship, _ := cmd.Flags().GetFloat64("relationship")
	style, _ := cmd.Flags().GetString("style")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	message := strings.Join(args, " ")

	state := template.AgentStateFingerprint{}
	for _, p := range moodPairs {
		k, v, ok := strings.Cut(p, "=")
		f, err := strconv.ParseFloat(v, 64)
		if !ok || err != nil {
			exitErr("parse --mood", fmt.Errorf("expected key=number, got %q", p))
		}
		if state.Mood == nil {
			state.Mood = map[string]float64{}
		}
		state.Mood[k] = f
	}
	impression := template.UserImpressionFingerprint{
		RelationshipLevel: relationship,
		PreferredStyle:    style,
		Tags:              tags,
	}

	m, _, _ := openManager(cmd)
	defer m.Close()

	res := contextResult{
		Message:  message,
		Memories: m.RetrieveRelevantMemories(cmd.Context(), message, limit),
	}
	matches, err := m.RetrieveResponseTemplates(cmd.Context(), message, state, impression, nTemplates)
	if err != nil {
		exitErr("match templates", err)
	}
	res.Templates = matches

	output(cmd, res, func() string {
		var b strings.Builder
		b.WriteString("memories:\n")
		for _, mem := range res.Memories {
			fmt.Fprintf(&b, "  %s  %s\n", mem.ID, oneLine(mem.Content, 80))
		}
		b.WriteString("templates:\n")
		for _, mt := range res.Templates {
			fmt.Fprintf(&b, "  %.2f  [%s] %s\n", mt.Score, mt.Template.Category, mt.Template.Content)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
