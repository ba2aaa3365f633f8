// Package searchcmder provides the search command for semantic search over
// stored packets.
package searchcmder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/api"
	"github.com/papercomputeco/substrate/pkg/config"
	"github.com/papercomputeco/substrate/pkg/logger"
	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/utils"
)

var (
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type searchCommander struct {
	query       string
	topK        int
	quiet       bool
	threadID    string
	packetTypes []string
	tags        []string

	apiTarget string

	debug  bool
	logger *zap.Logger
}

const searchLongDesc string = `Search stored packets via the substrate API.

Embeds the query text and runs a K-nearest-neighbor search over the
semantic index, returning the most relevant live packets. Requires a
running substrate server with an embedding provider configured.

Use --quiet to output only packet ids, one per line, for piping into
other commands.

Examples:
  substrate search "database connection errors"
  substrate search "user prefers dark mode" --thread 0f3a...
  substrate search "deployment" --type observation --type insight --top 10
  substrate search "billing" --tag urgent --quiet`

const searchShortDesc string = "Search stored packets"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
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
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only packet ids, one per line (for piping)")
	cmd.Flags().StringVar(&cmder.threadID, "thread", "", "Restrict results to a thread")
	cmd.Flags().StringArrayVar(&cmder.packetTypes, "type", nil, "Restrict results to packet types (repeatable)")
	cmd.Flags().StringArrayVar(&cmder.tags, "tag", nil, "Require a tag on results (repeatable)")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Substrate API server URL")

	return cmd
}

func (c *searchCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	output, err := SearchAPI(c.apiTarget, api.SearchRequest{
		Query:       c.query,
		K:           c.topK,
		PacketTypes: c.packetTypes,
		ThreadID:    c.threadID,
		Tags:        c.tags,
	})
	if err != nil {
		return err
	}

	if output.Count == 0 {
		if !c.quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	if c.quiet {
		for _, result := range output.Results {
			fmt.Println(result.PacketID)
		}
		return nil
	}

	fmt.Printf("\n%s %s\n\n",
		headerStyle.Render("Search Results for:"),
		idStyle.Render(fmt.Sprintf("%q", c.query)),
	)

	for i, result := range output.Results {
		printResult(i+1, result)
	}

	return nil
}

// SearchOutput is the decoded response from POST /v1/search.
type SearchOutput struct {
	Count   int                `json:"count"`
	Results []api.SearchResult `json:"results"`
}

// SearchAPI runs a search against a running substrate API server.
func SearchAPI(target string, req api.SearchRequest) (*SearchOutput, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(
		strings.TrimRight(target, "/")+"/v1/search",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("calling search API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var output SearchOutput
	if err := json.NewDecoder(resp.Body).Decode(&output); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	return &output, nil
}

func printResult(rank int, result api.SearchResult) {
	fmt.Printf("  %s  %s  %s\n",
		rankStyle.Render(fmt.Sprintf("#%d", rank)),
		scoreStyle.Render(fmt.Sprintf("score: %.4f", result.Score)),
		idStyle.Render(result.PacketID),
	)

	env := result.Envelope
	if env == nil {
		fmt.Printf("  %s\n\n", dimStyle.Render("(no envelope found)"))
		return
	}

	preview := strings.Join(packet.SortedStringValues(env.Payload), " ")
	preview = strings.ReplaceAll(utils.Truncate(preview, 80), "\n", " ")

	fmt.Printf("  %s %s\n", typeStyle.Render(env.PacketType+":"), previewStyle.Render(preview))

	meta := env.CreatedAt.Format(time.RFC3339)
	if env.ThreadID != nil {
		meta += "  thread " + *env.ThreadID
	}
	fmt.Printf("  %s\n\n", dimStyle.Render(meta))
}
