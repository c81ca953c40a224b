package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/virtfleet/virtfleet/internal/constants"
	"github.com/virtfleet/virtfleet/pkg/api/v1/client"
	"github.com/virtfleet/virtfleet/pkg/api/v1/routes"
)

// flag names
const (
	flagServerAddress = "server-address"
	flagCapabilities  = "capabilities"
)

var (
	// apiClient is the shared API client instance
	apiClient client.Client
	// serverAddress holds the target API server address
	serverAddress string
	// capabilities are attached to requests for the auth layer
	capabilities []string
)

// initClient initializes the API client
func initClient() error {
	opts := client.DefaultOptions()
	opts.BaseURL = serverAddress
	opts.Capabilities = capabilities

	var err error
	apiClient, err = client.NewClient(opts)
	return err
}

func init() {
	defaultAddress := routes.DefaultBaseURL
	if env := os.Getenv(constants.EnvServerAddress); env != "" {
		defaultAddress = env
	}

	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", defaultAddress,
		"Address of the virtfleet API server (env: "+constants.EnvServerAddress+")")
	RootCmd.PersistentFlags().StringSliceVar(&capabilities, flagCapabilities, nil,
		"Capabilities to present to the API (e.g. "+constants.CapabilityWebOperation+")")

	RootCmd.AddCommand(GetInstancesCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "virtfleet",
	Short: "virtfleet CLI - manage leased VM instances",
	Long: `virtfleet CLI is a command line tool for inspecting and stopping
virtual machine instances managed by the virtfleet lifecycle service.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initClient()
	},
}
