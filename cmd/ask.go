package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/answer-cli/internal/qa"
	"github.com/sells-group/answer-cli/internal/render"
	"github.com/sells-group/answer-cli/internal/resilience"
)

var (
	askRetries     int
	askRaw         bool
	askShowAnswers bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Answer a question with a streamed summary of top Stack Overflow answers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("ask"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orch := initOrchestrator(ctx, cfg)
		presenter := render.NewTerminal(cmd.OutOrStdout(), cmd.ErrOrStderr(), askRaw || !isTerminal(os.Stdout))

		res, err := askWithRetry(ctx, orch, strings.Join(args, " "), presenter, askRetries)
		if err != nil {
			return err
		}
		if askShowAnswers {
			return writeSources(cmd.ErrOrStderr(), res)
		}
		return nil
	},
}

// writeSources lists the ranked answers the summary was built from.
func writeSources(w io.Writer, res *qa.Result) error {
	if res == nil || len(res.Answers) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\nSources (%d answers):\n", len(res.Answers)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, render.AnswersTable(res.Answers))
	return err
}

// asker is the part of qa.Orchestrator the ask command drives.
type asker interface {
	Ask(ctx context.Context, question string, p qa.Presenter) (*qa.Result, error)
}

// askWithRetry re-asks after transient failures, but only while nothing has
// been shown to the user yet.
func askWithRetry(ctx context.Context, a asker, question string, p qa.Presenter, retries int) (*qa.Result, error) {
	var res *qa.Result
	err := resilience.Do(ctx, resilience.RetryConfig{
		MaxAttempts:    retries + 1,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		JitterFraction: 0.2,
		ShouldRetry: func(err error) bool {
			return res != nil && res.Fragments == 0 && resilience.IsTransient(err)
		},
		OnRetry: resilience.RetryLogger("ask"),
	}, func(ctx context.Context) error {
		var err error
		res, err = a.Ask(ctx, question, p)
		return err
	})
	if err != nil && res != nil {
		zap.L().Debug("ask failed",
			zap.String("request_id", res.RequestID),
			zap.String("state", res.State.String()))
	}
	return res, err
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() {
	askCmd.Flags().IntVar(&askRetries, "retries", 0, "re-ask this many times after transient failures that produced no output")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "plain output without colors")
	askCmd.Flags().BoolVar(&askShowAnswers, "show-answers", false, "list the source answers and their votes after the summary (on stderr)")
	rootCmd.AddCommand(askCmd)
}
