// Package statuscmder provides the status command for displaying store and
// consolidation statistics from a running substrate server.
package statuscmder

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/substrate/pkg/cliui"
	"github.com/papercomputeco/substrate/pkg/config"
	"github.com/papercomputeco/substrate/pkg/consolidate"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

type statusCommander struct {
	apiTarget string
}

const statusLongDesc string = `Show substrate store statistics.

Queries a running substrate server for envelope, fact, and embedding counts
along with the outcome of the last consolidation pass.

Examples:
  substrate status
  substrate status --api-target http://localhost:8081`

const statusShortDesc string = "Show store and consolidation statistics"

func NewStatusCmd() *cobra.Command {
	cmder := &statusCommander{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("api-target") {
				cmder.apiTarget = cfg.Client.APITarget
			}
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Substrate API server URL")

	return cmd
}

// statsOutput is the decoded response from GET /v1/stats.
type statsOutput struct {
	Store         substrate.Stats      `json:"store"`
	Consolidation *consolidate.Metrics `json:"consolidation,omitempty"`
}

func (c *statusCommander) run() error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(c.apiTarget, "/") + "/v1/stats")
	if err != nil {
		return fmt.Errorf("calling stats API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stats API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out statsOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding stats response: %w", err)
	}

	fmt.Printf("\n  %s\n\n", cliui.KeyStyle.Render("Store"))
	printCount("Live envelopes", out.Store.LiveEnvelopes)
	printCount("Tombstoned", out.Store.Tombstoned)
	printCount("Facts", out.Store.Facts)
	printCount("Embeddings", out.Store.Embeddings)
	printCount("Checkpoints", out.Store.Checkpoints)
	printCount("Pending embeddings", out.Store.PendingEmbeddings)

	if out.Consolidation == nil {
		fmt.Println()
		return nil
	}

	m := out.Consolidation
	fmt.Printf("\n  %s\n\n", cliui.KeyStyle.Render("Consolidation"))
	if m.Runs == 0 {
		fmt.Printf("    %s\n\n", cliui.DimStyle.Render("No passes completed yet."))
		return nil
	}

	fmt.Printf("    %-20s %s %s\n", "Last run",
		cliui.ValueStyle.Render(m.LastRun.Format(time.RFC3339)),
		cliui.DimStyle.Render(fmt.Sprintf("(%s)", cliui.FormatDuration(m.LastDuration))),
	)
	printCount("Runs", m.Runs)
	printCount("Deduplicated", m.Deduplicated)
	printCount("Expired", m.Expired)
	printCount("Purged", m.Purged)
	printCount("Pruned embeddings", m.Pruned)
	printCount("Record errors", m.RecordErrors)
	fmt.Println()

	return nil
}

func printCount(label string, n int) {
	fmt.Printf("    %-20s %s\n", label, cliui.ValueStyle.Render(strconv.Itoa(n)))
}
