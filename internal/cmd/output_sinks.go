package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluentlens/fluentlens/internal/output"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output-format", "o", "table", "output format: table, json, yaml, markdown")
	cmd.Flags().String("out", "", "write output to a file instead of stdout")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func openSink(path string) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return &outputSink{writer: os.Stdout, close: func() error { return nil }, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(trimmed)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: trimmed}, nil
}

// writeOutput renders with the command's --output-format and writes to --out.
func writeOutput(cmd *cobra.Command, render func(output.Formatter) (string, error)) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}

	rendered, err := render(output.NewFormatter(format))
	if err != nil {
		return err
	}

	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	sink, err := openSink(outPath)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
		_ = sink.close()
		return err
	}
	return sink.close()
}
