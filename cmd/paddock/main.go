package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/paddock/pkg/api"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paddock",
	Short: "Paddock - Cloud host provisioning broker",
	Long: `Paddock brokers host capacity between a workload scheduler and the
cloud provider. It turns template-based acquisition orders into launched
machines, tracks them through their lifecycle and returns them on demand.

Operations read a JSON envelope from stdin and write one to stdout;
logs go to stderr.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Paddock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "paddock.yaml", "configuration file")

	for _, op := range []string{
		api.OpGetAvailableTemplates,
		api.OpRequestMachines,
		api.OpRequestReturnMachines,
		api.OpGetRequestStatus,
		api.OpGetReturnRequests,
	} {
		rootCmd.AddCommand(operationCommand(op))
	}
	rootCmd.AddCommand(serveCmd)
}

// operationCommand wraps one boundary operation as a one-shot subcommand
func operationCommand(operation string) *cobra.Command {
	return &cobra.Command{
		Use:   operation,
		Short: fmt.Sprintf("Run the %s operation", operation),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})

			broker, err := newBroker(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer broker.Close()

			in, err := readInput(cmd.InOrStdin())
			if err != nil {
				return err
			}
			out := broker.Service.Run(cmd.Context(), operation, in)
			return writeOutput(cmd.OutOrStdout(), out)
		},
	}
}

// readInput decodes the input envelope from stdin. An empty stream is a
// valid empty envelope.
func readInput(r io.Reader) (*api.Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input envelope: %w", err)
	}
	in := &api.Input{}
	if len(data) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("malformed input envelope: %w", err)
	}
	return in, nil
}

func writeOutput(w io.Writer, out *api.Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
