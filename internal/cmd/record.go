package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/metrics"
	"github.com/fluentlens/fluentlens/internal/observability"
)

var (
	recordUser         string
	recordConversation string
	recordUtterance    string
	recordErrorsFlag   []string
	recordFile         string
	recordFlush        bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the errors detected in one utterance",
	Long: `Record one utterance's detected errors for a user.

Errors are given as Category:Subcategory pairs, or read from a JSON report
file with the same shape the HTTP API accepts ("-" reads stdin):

  fluentlens record --user <uuid> --error Grammar:SubjectVerb --error Vocabulary:WordChoice
  fluentlens record --file report.json --flush`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := buildReport(cmd.InOrStdin())
		if err != nil {
			return err
		}

		p, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close() // nolint:errcheck // best-effort cleanup

		result, err := p.agg.RecordErrors(cmd.Context(), report)
		metrics.RecordOperation("record", err == nil)
		if err != nil {
			return err
		}

		seen := make(map[core.ErrorPair]bool, len(report.Errors))
		for _, pair := range report.Errors {
			if seen[pair] {
				continue
			}
			seen[pair] = true
			observability.CLILogger.Info(fmt.Sprintf("%s/%s: live %d, pending %d",
				pair.Category, pair.Subcategory, result.LiveCounts[pair], result.Accumulated[pair]),
				zap.String("error_category", pair.Category),
				zap.String("error_subcategory", pair.Subcategory),
				zap.Int64("live_count", result.LiveCounts[pair]),
				zap.Int64("pending", result.Accumulated[pair]))
		}
		if len(report.Errors) == 0 {
			observability.CLILogger.Info("Report contained no errors; nothing recorded")
		}

		if !recordFlush {
			return nil
		}
		flushed, err := p.agg.FlushAll(cmd.Context())
		metrics.RecordOperation("flush", err == nil)
		if err != nil {
			return err
		}
		observability.CLILogger.Info(fmt.Sprintf("Flushed %d/%d accumulator entries", flushed.Applied, flushed.Scanned),
			zap.Int64("delta", flushed.Delta),
			zap.Int("failed", flushed.Failed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVar(&recordUser, "user", "", "user id (uuid)")
	recordCmd.Flags().StringVar(&recordConversation, "conversation", "", "conversation id (uuid, generated when empty)")
	recordCmd.Flags().StringVar(&recordUtterance, "utterance", "", "utterance id (uuid, generated when empty)")
	recordCmd.Flags().StringArrayVarP(&recordErrorsFlag, "error", "e", nil, "detected error as Category:Subcategory (repeatable)")
	recordCmd.Flags().StringVarP(&recordFile, "file", "f", "", "read a JSON report from a file (- for stdin)")
	recordCmd.Flags().BoolVar(&recordFlush, "flush", false, "flush the accumulator after recording")
}

func buildReport(stdin io.Reader) (core.Report, error) {
	if strings.TrimSpace(recordFile) != "" {
		if recordUser != "" || len(recordErrorsFlag) > 0 {
			return core.Report{}, fmt.Errorf("--file cannot be combined with --user or --error")
		}
		return readReport(recordFile, stdin)
	}

	userID, err := uuid.Parse(strings.TrimSpace(recordUser))
	if err != nil {
		return core.Report{}, fmt.Errorf("--user must be a uuid: %w", err)
	}

	conversationID, err := uuidOrNew("--conversation", recordConversation)
	if err != nil {
		return core.Report{}, err
	}
	utteranceID, err := uuidOrNew("--utterance", recordUtterance)
	if err != nil {
		return core.Report{}, err
	}

	report := core.Report{
		UserID:         userID,
		ConversationID: conversationID,
		UtteranceID:    utteranceID,
		Errors:         make([]core.ErrorPair, 0, len(recordErrorsFlag)),
	}
	for _, raw := range recordErrorsFlag {
		pair, err := parsePair(raw)
		if err != nil {
			return core.Report{}, err
		}
		report.Errors = append(report.Errors, pair)
	}
	return report, nil
}

func readReport(path string, stdin io.Reader) (core.Report, error) {
	var r io.Reader = stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return core.Report{}, err
		}
		defer file.Close() // nolint:errcheck // read-only
		r = file
	}

	var report core.Report
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&report); err != nil {
		return core.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func parsePair(raw string) (core.ErrorPair, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return core.ErrorPair{}, fmt.Errorf("invalid error %q: expected Category:Subcategory", raw)
	}
	return core.ErrorPair{Category: strings.TrimSpace(parts[0]), Subcategory: strings.TrimSpace(parts[1])}, nil
}

func uuidOrNew(flag, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a uuid: %w", flag, err)
	}
	return id, nil
}
