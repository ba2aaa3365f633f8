// Package configcmder provides the config command for managing persistent
// substrate configuration stored in the .substrate/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent substrate configuration.

Configuration is stored as config.toml in the .substrate/ directory and
provides default values for command flags. CLI flags always take precedence
over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_url,
  api.listen, client.api_target,
  index.provider, index.db_path, index.host, index.port, index.collection,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  insight.provider,
  world_model.provider, world_model.brokers, world_model.topic,
  pipeline.workers, pipeline.queue_size,
  consolidation.interval, consolidation.grace_period, consolidation.min_age

Use subcommands to get, set, or list configuration values:
  substrate config set <key> <value>    Set a configuration value
  substrate config get <key>            Get a configuration value
  substrate config list                 List all configuration values

Examples:
  substrate config set storage.driver postgres
  substrate config set embedding.model nomic-embed-text
  substrate config get index.provider
  substrate config list`

const configShortDesc string = "Manage persistent substrate configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
