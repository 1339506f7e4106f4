package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

var (
	// Probe command flags
	probeTask   string
	probeOutput string

	// Capabilities command flags
	capabilitiesOutput string
)

// probeCmd runs one capability without going through a task block
var probeCmd = &cobra.Command{
	Use:   "probe <capability>",
	Short: "Run a single diagnostic capability",
	Long: `Run one capability by name and print its result. Use "diagmcp capabilities"
to see the names available on this machine.`,
	Example: `  diagmcp probe inspect_disk_usage
  diagmcp probe check_network_connectivity --output json`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateOutputFormat(probeOutput)
	},
	RunE: runProbe,
}

// capabilitiesCmd lists the enabled capabilities
var capabilitiesCmd = &cobra.Command{
	Use:     "capabilities",
	Aliases: []string{"tools"},
	Short:   "List the enabled diagnostic capabilities",
	Args:    cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateOutputFormat(capabilitiesOutput)
	},
	RunE: runCapabilities,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(capabilitiesCmd)

	probeCmd.Flags().StringVar(&probeTask, "task", "", "task text recorded on the result (defaults to the capability description)")
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", outputText, "output format: text, json or yaml")
	capabilitiesCmd.Flags().StringVarP(&capabilitiesOutput, "output", "o", outputText, "output format: text, json or yaml")
}

func runProbe(cmd *cobra.Command, args []string) error {
	registry, err := diagnostics.NewDefaultRegistry(GetConfig().Diagnostics)
	if err != nil {
		return err
	}

	result, err := probeCapability(cmd.Context(), registry, args[0], probeTask)
	if err != nil {
		return err
	}

	if err := writeOutput(cmd.OutOrStdout(), probeOutput, result, func(w io.Writer) { printCapabilityResult(w, result) }); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("capability %s failed", result.Capability)
	}
	return nil
}

// probeCapability invokes the named capability under its own category
func probeCapability(ctx context.Context, registry *diagnostics.Registry, name, task string) (protocol.CapabilityResult, error) {
	capability, ok := registry.Get(strings.ToLower(name))
	if !ok {
		return protocol.CapabilityResult{}, fmt.Errorf("unknown capability %q (available: %s)",
			name, strings.Join(registry.Names(), ", "))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return capability.Invoke(ctx, diagnostics.Request{Task: task, Category: capability.Category()}), nil
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	registry, err := diagnostics.NewDefaultRegistry(GetConfig().Diagnostics)
	if err != nil {
		return err
	}

	infos := registry.Infos()
	return writeOutput(cmd.OutOrStdout(), capabilitiesOutput, infos, func(w io.Writer) {
		printCapabilities(w, infos)
	})
}

func printCapabilities(w io.Writer, infos []protocol.CapabilityInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No capabilities enabled")
		return
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%-28s %-12s %-8s %s\n", info.Name, info.Category, info.Timeout, info.Description)
	}
}
