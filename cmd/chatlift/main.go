// Command chatlift extracts iMessage conversations into canonical JSONL.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/chatlift/internal/config"
	"github.com/hurttlocker/chatlift/internal/problem"
	"github.com/hurttlocker/chatlift/internal/telemetry"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code. Fatal errors are
// printed to stderr as problem JSON.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	instance := "cli"
	if cmd != nil {
		instance = "cli:" + cmd.CommandPath()
	}
	p := problem.From(err, instance)
	fmt.Fprintln(stderr, p.JSON())
	return p.ExitCode()
}

// app carries the global flags shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "chatlift",
		Short: "Forensic iMessage extractor",
		Long: `chatlift reads a macOS Messages database (chat.db) or an iPhone backup and
writes every message of a conversation as canonical JSONL, with attachments
copied into a content-addressed store, reactions folded and replies linked.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	// Disable completion command
	root.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (default is $HOME/.chatlift/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "json", "log format: json or text")

	root.AddCommand(
		newExtractCmd(a),
		newBackupCmd(a),
		newAuditCmd(a),
		newMCPCmd(a),
		newConfigCmd(a),
		newSchemaCmd(a),
		newVersionCmd(a),
	)
	return root
}

// resolve layers configuration and builds the logger. Logs go to stderr so
// stdout stays clean for data and the MCP protocol.
func (a *app) resolve(opts config.ResolveOptions) (config.ResolvedConfig, *slog.Logger, error) {
	opts.ConfigPath = a.configPath
	if opts.CLILogLevel == "" {
		opts.CLILogLevel = a.logLevel
	}
	cfg, err := config.ResolveConfig(opts)
	if err != nil {
		return cfg, nil, err
	}
	logger := telemetry.NewLogger(a.stderr, cfg.LogLevel.Value, a.logFormat)
	return cfg, logger, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "chatlift %s (commit: %s)\n", version, commit)
		},
	}
}
