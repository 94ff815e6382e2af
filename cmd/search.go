package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/answer-cli/internal/render"
)

var searchFormat string

var searchCmd = &cobra.Command{
	Use:   "search <question...>",
	Short: "List the top-ranked Stack Overflow answers for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("search"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ranked := initAggregator(cfg).Aggregate(ctx, strings.Join(args, " "))
		return render.WriteAnswers(cmd.OutOrStdout(), searchFormat, ranked)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchFormat, "format", render.FormatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(searchCmd)
}
