package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/ham/internal/config"
	"github.com/rcliao/ham/internal/generation"
	"github.com/rcliao/ham/internal/precompute"
	"github.com/rcliao/ham/internal/resource"
	"github.com/rcliao/ham/internal/taskgen"
	"github.com/rcliao/ham/internal/template"
)

func init() {
	cmd := &cobra.Command{
		Use:   "precompute",
		Short: "Generate response templates from a conversation",
		Long: "Derive candidate queries from a conversation history (JSON array of {speaker, text}, from --history or stdin), " +
			"generate replies with the configured model and store them as templates. Runs until the queue drains or --timeout.",
		Run: runPrecompute,
	}

	cmd.Flags().String("history", "", "Conversation history file (default: stdin)")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Give up after this long")
	cmd.Flags().Duration("idle", 0, "Required idle time before each task (default: precompute.idle_threshold; 0 runs at once)")
	cmd.Flags().Int("max-tasks", 0, "Max tasks to derive (default from config)")

	RootCmd.AddCommand(cmd)
}

func runPrecompute(cmd *cobra.Command, args []string) {
	historyPath, _ := cmd.Flags().GetString("history")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	maxTasks, _ := cmd.Flags().GetInt("max-tasks")

	var (
		data []byte
		err  error
	)
	if historyPath != "" {
		data, err = os.ReadFile(historyPath)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read history", err)
	}
	var history []taskgen.Utterance
	if err := json.Unmarshal(data, &history); err != nil {
		exitErr("parse history", err)
	}

	m, cfg, logger := openManager(cmd)
	defer m.Close()

	gen, err := generation.New(cfg.Generation, logger)
	if err != nil {
		exitErr("generation", err)
	}
	if maxTasks <= 0 {
		maxTasks = cfg.Precompute.MaxTasks
	}
	idle := idleThreshold(cmd, cfg)

	svc, err := precompute.New(precompute.Options{
		Repository:        m,
		Generator:         gen,
		Tasks:             taskgen.New(taskgen.WithMaxTasks(maxTasks)),
		Monitor:           resource.NewSystem(),
		IdleThreshold:     idle,
		CPUThreshold:      cfg.Precompute.CPUThreshold,
		TickInterval:      100 * time.Millisecond,
		QueueSize:         cfg.Precompute.QueueSize,
		GenerationTimeout: cfg.Precompute.GenerationTimeout,
		Logger:            logger,
		Metrics:           m.Metrics(),
	})
	if err != nil {
		exitErr("precompute", err)
	}

	m.SetActivityHook(svc.RecordActivity)

	queued, err := svc.EnqueueGenerated(history, template.AgentStateFingerprint{}, template.UserImpressionFingerprint{})
	if err != nil {
		logger.Warn("some tasks were dropped", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		exitErr("precompute", err)
	}
	waitDrained(ctx, svc)
	svc.Stop()

	st := svc.Stats()
	output(cmd, map[string]any{"queued": queued, "stats": st}, func() string {
		return fmt.Sprintf("queued %d, processed %d, failed %d, dropped %d, left %d",
			queued, st.Processed, st.Failed, st.Dropped, st.QueueDepth)
	})
}

func waitDrained(ctx context.Context, svc *precompute.Service) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := svc.Stats()
		if st.QueueDepth == 0 && st.InFlight == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// idleThreshold is --idle when given, else the configured threshold. An
// explicit zero means no wait.
func idleThreshold(cmd *cobra.Command, cfg *config.Config) time.Duration {
	if !cmd.Flags().Changed("idle") {
		return cfg.Precompute.IdleThreshold
	}
	if idle, _ := cmd.Flags().GetDuration("idle"); idle > 0 {
		return idle
	}
	return time.Nanosecond
}
