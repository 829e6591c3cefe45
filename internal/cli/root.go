// Package cli implements consolectl, an operator tool that talks to the
// messaging backend and the live event transports directly.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agent-console/internal/config"
	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/pkg/logger"
)

var (
	backendURL     string
	upstreamToken  string
	tenantID       string
	agentName      string
	activationName string
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:           "consolectl",
	Short:         "Inspect and drive agent conversations",
	Long:          color.CyanString("consolectl") + " talks to the messaging backend behind the agent console.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	}
	return err
}

// defaults holds flag defaults read from the server environment.
var defaults = loadDefaults()

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&backendURL, "backend-url", defaults.BackendURL, "messaging backend base URL")
	flags.StringVar(&upstreamToken, "token", defaults.UpstreamToken, "bearer token for the messaging backend")
	flags.StringVarP(&tenantID, "tenant", "t", os.Getenv("CONSOLE_TENANT"), "tenant id")
	flags.StringVarP(&agentName, "agent", "a", os.Getenv("CONSOLE_AGENT"), "agent name")
	flags.StringVarP(&activationName, "activation", "i", os.Getenv("CONSOLE_ACTIVATION"), "activation name")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log backend calls")

	rootCmd.AddCommand(activationsCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(emitCmd)
}

func loadDefaults() config.Config {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{
			BackendURL:           "http://localhost:3000",
			LiveTransport:        "sse",
			LiveMaxReconnects:    5,
			LiveReconnectInitial: time.Second,
			LiveReconnectMax:     30 * time.Second,
			NATSURL:              "nats://localhost:4222",
		}
	}
	return *cfg
}

func newLogger() *logger.Logger {
	if !verbose {
		return logger.NewNop()
	}
	log, err := logger.NewDevelopment()
	if err != nil {
		return logger.NewNop()
	}
	return log
}

func newBackend() (*messaging.Client, error) {
	return messaging.NewClient(messaging.Config{
		BaseURL: backendURL,
		Token:   upstreamToken,
	}, newLogger())
}

func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

func requireActivation() error {
	if err := requireTenant(); err != nil {
		return err
	}
	if agentName == "" || activationName == "" {
		return fmt.Errorf("--agent and --activation are required")
	}
	return nil
}
