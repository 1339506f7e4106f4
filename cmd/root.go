package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bebsworthy/diagmcp/internal/config"
)

var (
	// Global flags
	configFile string
	serverURL  string
	verbose    bool

	// Global configuration
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "diagmcp",
	Short: "diagmcp - Model Context Protocol server for PC diagnostics",
	Long: `diagmcp turns the diagnostic tasks a language model writes into an
<MCP_TASKS> block into real checks against this machine.

The task list is extracted from the model output, each task is classified into a
diagnostic category, the matching capability runs (directly or through
delegated specialists over MCP), and the results are rolled up into a report.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $DIAGMCP_CONFIG or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", getDefaultServerURL(), "WebSocket server URL for --remote commands (default is $DIAGMCP_SERVER_URL or ws://localhost:8765)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configPath := configFile
	if configPath == "" {
		if envConfig := os.Getenv("DIAGMCP_CONFIG"); envConfig != "" {
			configPath = envConfig
		}
	}

	var err error
	appConfig, err = config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if verbose {
		appConfig.Logging.Verbose = true
		appConfig.Logging.Level = "debug"
	}

	// An explicit --server-url wins; otherwise follow the configured listener
	if !rootCmd.PersistentFlags().Changed("server-url") && os.Getenv("DIAGMCP_SERVER_URL") == "" {
		serverURL = fmt.Sprintf("ws://%s:%d", appConfig.Server.Host, appConfig.Server.WebSocketPort)
	}

	if appConfig.Logging.Verbose {
		if configPath != "" {
			fmt.Fprintf(os.Stderr, "Loaded configuration from: %s\n", configPath)
		} else {
			fmt.Fprintf(os.Stderr, "Using default configuration\n")
		}
		if appConfig.Development.DebugMode {
			fmt.Fprintf(os.Stderr, "Debug mode enabled\n")
		}
	}
}

// getDefaultServerURL returns the default server URL, checking environment variables
func getDefaultServerURL() string {
	if url := os.Getenv("DIAGMCP_SERVER_URL"); url != "" {
		return url
	}
	return "ws://localhost:8765"
}

// GetConfig returns the global configuration.
// This should be called after cobra initialization.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}
