package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bebsworthy/diagmcp/internal/client"
	"github.com/bebsworthy/diagmcp/internal/logging"
	"github.com/bebsworthy/diagmcp/internal/protocol"
	"github.com/bebsworthy/diagmcp/internal/tasks"
)

var (
	// Parse command flags
	parseText   string
	parseRemote bool
	parseOutput string
)

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse [file|-]",
	Short: "Show the tasks a model's output asks for without running them",
	Long: `Extract the <MCP_TASKS> block from a model's output and show the tasks,
the summary and the diagnostic category each task was classified into.
Nothing is executed.`,
	Example: `  diagmcp parse reply.txt
  diagmcp parse --text 'Checking. <MCP_TASKS>{"tasks":["Check disk space"]}</MCP_TASKS>' -o yaml`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateOutputFormat(parseOutput)
	},
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVar(&parseText, "text", "", "model output given inline instead of a file")
	parseCmd.Flags().BoolVar(&parseRemote, "remote", false, "parse on the server at --server-url")
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", outputText, "output format: text, json or yaml")
}

func runParse(cmd *cobra.Command, args []string) error {
	text, _, err := readModelOutput(args, parseText, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var result *protocol.ParseResult
	if parseRemote {
		result, err = parseRemoteRun(cmd.Context(), text)
		if err != nil {
			return err
		}
	} else {
		result = tasks.Parse(text)
	}

	if err := writeOutput(cmd.OutOrStdout(), parseOutput, result, func(w io.Writer) { printParseResult(w, result) }); err != nil {
		return err
	}
	if !result.Success {
		return errNoTasks
	}
	return nil
}

func parseRemoteRun(ctx context.Context, text string) (*protocol.ParseResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := GetConfig()

	logger, err := logging.NewClientLogger(cfg.Logging, serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	wsClient := client.NewWebSocketClientWithConfig(serverURL, client.WebSocketClientConfigFrom(cfg.WebSocket))
	wsClient.SetLogger(logger)
	defer wsClient.Close()

	if err := wsClient.ConnectWithRetry(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return wsClient.Parse(ctx, text)
}
