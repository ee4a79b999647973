package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/aggregate"
	"github.com/fluentlens/fluentlens/internal/metrics"
	"github.com/fluentlens/fluentlens/internal/output"
)

var (
	topUser  string
	topLimit int

	pendingUser string
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show a user's most frequent errors",
	Long: `Show a user's most frequent errors from the durable store.

Deltas that have not been flushed yet are not included; run "fluentlens
flush" first or use "fluentlens pending" to inspect them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserFlag(topUser)
		if err != nil {
			return err
		}

		p, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close() // nolint:errcheck // best-effort cleanup

		ranked, err := p.agg.TopErrors(cmd.Context(), userID, topLimit)
		metrics.RecordOperation("top_errors", err == nil || errors.Is(err, aggregate.ErrNotFound))
		if errors.Is(err, aggregate.ErrNotFound) {
			ranked = []core.RankedError{}
		} else if err != nil {
			return err
		}

		return writeOutput(cmd, func(f output.Formatter) (string, error) {
			return f.FormatTopErrors(userID, ranked)
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show a user's unflushed accumulator entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserFlag(pendingUser)
		if err != nil {
			return err
		}

		p, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close() // nolint:errcheck // best-effort cleanup

		pending, err := p.agg.Pending(cmd.Context(), userID)
		metrics.RecordOperation("pending", err == nil)
		if err != nil {
			return err
		}

		return writeOutput(cmd, func(f output.Formatter) (string, error) {
			return f.FormatPending(userID, pending)
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Apply all accumulated deltas to the durable store",
	Long: `Drain the batch accumulator once, the same way the serve scheduler does.

Per-key failures are counted in the report and leave the entry in place for
the next flush; only a failure to enumerate the accumulator fails the command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close() // nolint:errcheck // best-effort cleanup

		ctx := aggregate.WithTrigger(cmd.Context(), aggregate.TriggerManual)
		report, err := p.agg.FlushAll(ctx)
		metrics.RecordOperation("flush", err == nil)
		if err != nil {
			return err
		}

		if err := writeOutput(cmd, func(f output.Formatter) (string, error) {
			return f.FormatFlush(report)
		}); err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d of %d accumulator entries failed to flush", report.Failed, report.Scanned)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(flushCmd)

	topCmd.Flags().StringVar(&topUser, "user", "", "user id (uuid)")
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", aggregate.DefaultTopN, "number of errors to show")
	addOutputFlags(topCmd)

	pendingCmd.Flags().StringVar(&pendingUser, "user", "", "user id (uuid)")
	addOutputFlags(pendingCmd)

	addOutputFlags(flushCmd)
}

func parseUserFlag(raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, errors.New("--user is required")
	}
	userID, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("--user must be a uuid: %w", err)
	}
	return userID, nil
}
