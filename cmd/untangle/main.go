// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command untangle rewrites JavaScript source to make every function
// identifiable and traceable: arrows are canonicalized to named
// function expressions, selected functions are renamed to stable
// synthetic ids (optionally AI-suggested, optionally carrying their
// inbound call count), and caller cross-reference blocks and AI
// comments are injected above them.
//
// Usage:
//
//	untangle -i bundle.min.js -o bundle.out.js
//	untangle --xrefs --count-in-name -i app.js -o app.out.js
//	untangle --xrefs handleUpdate 412 < app.js > app.out.js
//	OPENAI_API_KEY=… OPENAI_ORGANIZATION=… untangle --ai-rename --describe -i app.js
//
// Positional FUNCTION arguments select the functions to mutate, each a
// function name or a 1-based line number; with none given every
// function is selected. `--` ends flag parsing.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/untangle/services/llm"
	"github.com/AleutianAI/untangle/services/rewrite"
)

var (
	inputPath   string
	outputPath  string
	configPath  string
	verbose     bool
	xrefs       bool
	describe    bool
	lineComment bool
	countInName bool
	aiRename    bool
	concurrency int
)

func main() {
	root := &cobra.Command{
		Use:   "untangle [flags] [FUNCTION ...]",
		Short: "Rewrite JavaScript to make every function identifiable and traceable",
		Args:  cobra.ArbitraryArgs,
		RunE:  run,

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVarP(&inputPath, "input", "i", "", "input file (default: stdin)")
	root.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: stdout)")
	root.Flags().StringVar(&configPath, "config", "", "options YAML file")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().BoolVar(&xrefs, "xrefs", false, "inject caller cross-reference blocks")
	root.Flags().BoolVar(&describe, "describe", false, "inject AI header descriptions")
	root.Flags().BoolVar(&lineComment, "line-comments", false, "inject AI line comments")
	root.Flags().BoolVar(&countInName, "count-in-name", false, "append inbound call count to new names")
	root.Flags().BoolVar(&aiRename, "ai-rename", false, "use AI-suggested names instead of synthetic ids")
	root.Flags().IntVar(&concurrency, "concurrency", 0, "bound on concurrent AI requests")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "untangle: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	setupLogging()

	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	// Credentials are checked before any input is read: a missing
	// credential for a requested AI feature is a configuration error,
	// not a mid-run failure.
	var suggester llm.Suggester
	if opts.WantsAI() {
		client, err := llm.NewOpenAIClient(llm.Config{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			Organization: os.Getenv("OPENAI_ORGANIZATION"),
			Model:        opts.Model,
		})
		if err != nil {
			return err
		}
		suggester = llm.NewChatSuggester(client)
	}

	content, path, err := readInput()
	if err != nil {
		return err
	}

	result, err := rewrite.NewEngine(opts, suggester).Run(cmd.Context(), content, path, args)
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "untangle: warning: %s\n", warning)
	}

	if err := writeOutput(result.Output); err != nil {
		return err
	}

	slog.Debug("run complete",
		slog.String("input", path),
		slog.Int("functions", result.Functions),
		slog.Int("edits", result.Edits),
		slog.Int("warnings", len(result.Warnings)),
	)
	return nil
}

// loadOptions layers the config file over the embedded defaults, then
// explicitly set flags over both.
func loadOptions(cmd *cobra.Command) (*rewrite.Options, error) {
	var opts *rewrite.Options
	var err error

	if configPath != "" {
		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			return nil, fmt.Errorf("reading config: %w", readErr)
		}
		opts, err = rewrite.LoadOptions(data)
	} else {
		opts, err = rewrite.DefaultOptions()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("xrefs") {
		opts.Xrefs = xrefs
	}
	if flags.Changed("describe") {
		opts.Describe = describe
	}
	if flags.Changed("line-comments") {
		opts.LineComments = lineComment
	}
	if flags.Changed("count-in-name") {
		opts.CountInName = countInName
	}
	if flags.Changed("ai-rename") {
		opts.AIRename = aiRename
	}
	if flags.Changed("concurrency") {
		opts.Concurrency = concurrency
	}
	return opts, nil
}

// setupLogging configures the default slog handler: debug level with
// --verbose, warnings only otherwise, source locations only when
// writing to a terminal.
func setupLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose && isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

// readInput loads the source from --input or stdin.
func readInput() ([]byte, string, error) {
	if inputPath != "" {
		content, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, "", fmt.Errorf("reading input: %w", err)
		}
		return content, inputPath, nil
	}

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, "", fmt.Errorf("reading stdin: %w", err)
	}
	return content, "<stdin>", nil
}

// writeOutput writes the result to --output or stdout.
func writeOutput(output []byte) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, output, 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		return nil
	}
	if _, err := os.Stdout.Write(output); err != nil {
		return fmt.Errorf("writing stdout: %w", err)
	}
	return nil
}
