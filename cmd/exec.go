package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bebsworthy/diagmcp/internal/client"
	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/orchestrator"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

var (
	// Exec command flags
	execText      string
	execDelegated bool
	execRemote    bool
	execOutput    string
)

// errNoTasks marks a run where the model output held no usable task block
var errNoTasks = fmt.Errorf("no diagnostics ran")

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec [file|-]",
	Short: "Run the diagnostics requested in a model's output",
	Long: `Extract the <MCP_TASKS> block from a model's output and run every task.

The model output is read from the given file, from stdin when the argument is
"-" or omitted, or from --text. Tasks run on this machine unless --remote is
set, in which case they are sent to a running "diagmcp serve" over WebSocket
and progress is streamed back as each task finishes.`,
	Example: `  # Run the tasks in a saved reply
  diagmcp exec reply.txt

  # Pipe a reply and print the report as JSON
  cat reply.txt | diagmcp exec --output json

  # Run through delegated specialists on a remote server
  diagmcp exec reply.txt --remote --server-url ws://10.0.0.5:8765 --delegated`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateOutputFormat(execOutput)
	},
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVar(&execText, "text", "", "model output given inline instead of a file")
	execCmd.Flags().BoolVar(&execDelegated, "delegated", false, "run through the delegated specialists (falls back to direct)")
	execCmd.Flags().BoolVar(&execRemote, "remote", false, "execute on the server at --server-url")
	execCmd.Flags().StringVarP(&execOutput, "output", "o", outputText, "output format: text, json or yaml")
}

func runExec(cmd *cobra.Command, args []string) error {
	text, source, err := readModelOutput(args, execText, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Read model output from %s (%d bytes)\n", source, len(text))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		report  *protocol.ExecutionReport
		failure *protocol.ExtractionFailure
	)
	if execRemote {
		report, failure, err = execRemoteRun(ctx, text, cmd.ErrOrStderr())
	} else {
		report, failure, err = execLocalRun(ctx, text, cmd.ErrOrStderr())
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if failure != nil {
		if err := writeOutput(out, execOutput, failure, func(w io.Writer) { printFailure(w, failure) }); err != nil {
			return err
		}
		return errNoTasks
	}
	return writeOutput(out, execOutput, report, func(w io.Writer) { printReport(w, report) })
}

func execLocalRun(ctx context.Context, text string, progress io.Writer) (*protocol.ExecutionReport, *protocol.ExtractionFailure, error) {
	cfg := GetConfig()

	logger, err := logging.NewOrchestratorLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}

	opts := orchestrator.Options{}
	if execDelegated {
		opts.Mode = protocol.ModeDelegated
	}
	if verbose {
		opts.OnResult = func(index, total int, result protocol.CapabilityResult) {
			printProgress(progress, index, total, result)
		}
	}

	return a.orchestrator.Execute(ctx, text, opts)
}

func execRemoteRun(ctx context.Context, text string, progress io.Writer) (*protocol.ExecutionReport, *protocol.ExtractionFailure, error) {
	cfg := GetConfig()

	logger, err := logging.NewClientLogger(cfg.Logging, serverURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	wsClient := client.NewWebSocketClientWithConfig(serverURL, client.WebSocketClientConfigFrom(cfg.WebSocket))
	wsClient.SetLogger(logger)
	defer wsClient.Close()

	if verbose {
		fmt.Fprintf(progress, "Connecting to %s...\n", serverURL)
	}
	if err := wsClient.ConnectWithRetry(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	report, failure, err := wsClient.Execute(ctx, text, execDelegated, func(msg *protocol.ProgressMessage) {
		printProgress(progress, msg.Index, msg.Total, msg.Result)
	})
	return report, failure, remoteRunError(serverURL, err)
}

// remoteRunError explains a dropped connection; the run may have finished on
// the server and can be looked up with get_run_report.
func remoteRunError(url string, err error) error {
	if diagerrors.IsCode(err, protocol.ErrorCodeConnectionLost) {
		return fmt.Errorf("lost connection to %s before the run finished, check the server's run history: %w", url, err)
	}
	return err
}

func printProgress(w io.Writer, index, total int, result protocol.CapabilityResult) {
	status := "done"
	if !result.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "[%d/%d] %s: %s\n", index+1, total, result.Task, status)
}
