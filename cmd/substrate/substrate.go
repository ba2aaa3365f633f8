// Package substratecmder provides the root substrate command.
package substratecmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/substrate/cmd/substrate/config"
	reindexcmder "github.com/papercomputeco/substrate/cmd/substrate/reindex"
	searchcmder "github.com/papercomputeco/substrate/cmd/substrate/search"
	servecmder "github.com/papercomputeco/substrate/cmd/substrate/serve"
	statuscmder "github.com/papercomputeco/substrate/cmd/substrate/status"
	submitcmder "github.com/papercomputeco/substrate/cmd/substrate/submit"
	versioncmder "github.com/papercomputeco/substrate/cmd/version"
)

const substrateLongDesc string = `Substrate is a durable memory layer for agent systems.

Packets submitted to the substrate flow through an ingestion pipeline that
stores them content-addressed, embeds them for semantic search, extracts
insights, and notifies downstream world-model consumers.

Run the server using:
  substrate serve      Run the API server and ingestion workers

Interact with a running server using:
  substrate submit     Submit a packet for ingestion
  substrate search     Semantic search over stored packets
  substrate status     Show store and consolidation statistics`

const substrateShortDesc string = "Substrate - Agent Memory"

func NewSubstrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "substrate",
		Short: substrateShortDesc,
		Long:  substrateLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .substrate/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(submitcmder.NewSubmitCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(reindexcmder.NewReindexCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
