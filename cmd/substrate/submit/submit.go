// Package submitcmder provides the submit command for sending packets to a
// running substrate server.
package submitcmder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/api"
	"github.com/papercomputeco/substrate/pkg/cliui"
	"github.com/papercomputeco/substrate/pkg/config"
	"github.com/papercomputeco/substrate/pkg/logger"
)

type submitCommander struct {
	packetType  string
	payloadJSON string

	threadID      string
	predecessorID string
	tags          []string
	ttl           time.Duration
	reasons       []string

	apiTarget string

	debug  bool
	logger *zap.Logger
}

const submitLongDesc string = `Submit a packet to a running substrate server.

The payload is a JSON object given as the second argument, or read from
stdin when the argument is omitted or "-". The server returns the packet id
as soon as the packet is durably stored; embedding and insight extraction
continue asynchronously.

Examples:
  substrate submit observation '{"text": "deploy failed on node 3"}'
  echo '{"text": "user prefers dark mode"}' | substrate submit preference
  substrate submit observation '{"text": "retry succeeded"}' \
    --thread 0f3a... --predecessor 01HY... --tag deploy --ttl 720h \
    --reason source=ci --reason agent=watcher`

const submitShortDesc string = "Submit a packet for ingestion"

func NewSubmitCmd() *cobra.Command {
	cmder := &submitCommander{}

	cmd := &cobra.Command{
		Use:   "submit <packet-type> [payload-json]",
		Short: submitShortDesc,
		Long:  submitLongDesc,
		Args:  cobra.RangeArgs(1, 2),
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
			cmder.packetType = args[0]
			if len(args) > 1 {
				cmder.payloadJSON = args[1]
			}

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.threadID, "thread", "", "Thread to append the packet to")
	cmd.Flags().StringVar(&cmder.predecessorID, "predecessor", "", "Predecessor packet id within the thread")
	cmd.Flags().StringArrayVar(&cmder.tags, "tag", nil, "Tag to attach to the packet (repeatable)")
	cmd.Flags().DurationVar(&cmder.ttl, "ttl", 0, "Time-to-live from now (e.g. 720h, 0 for no expiry)")
	cmd.Flags().StringArrayVar(&cmder.reasons, "reason", nil, "Reasoning metadata as key=value (repeatable)")
	cmd.Flags().StringVar(&cmder.apiTarget, "api-target", defaults.Client.APITarget, "Substrate API server URL")

	return cmd
}

func (c *submitCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	req, err := c.buildRequest()
	if err != nil {
		return err
	}

	resp, err := SubmitAPI(c.apiTarget, req)
	if err != nil {
		return err
	}

	fmt.Printf("  %s Submitted %s\n",
		cliui.SuccessMark,
		cliui.HashStyle.Render(resp.PacketID),
	)
	return nil
}

func (c *submitCommander) buildRequest() (*api.SubmitRequest, error) {
	raw := []byte(c.payloadJSON)
	if c.payloadJSON == "" || c.payloadJSON == "-" {
		var err error
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading payload from stdin: %w", err)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	req := &api.SubmitRequest{
		PacketType: c.packetType,
		Payload:    payload,
		Tags:       c.tags,
	}

	if c.threadID != "" {
		req.ThreadID = &c.threadID
	}
	if c.predecessorID != "" {
		req.PredecessorID = &c.predecessorID
	}
	if c.ttl > 0 {
		expiry := time.Now().UTC().Add(c.ttl)
		req.TTL = &expiry
	}

	if len(c.reasons) > 0 {
		req.Reasoning = make(map[string]string, len(c.reasons))
		for _, r := range c.reasons {
			key, value, ok := strings.Cut(r, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid --reason %q, expected key=value", r)
			}
			req.Reasoning[key] = value
		}
	}

	return req, nil
}

// SubmitAPI posts a packet to a running substrate API server.
func SubmitAPI(target string, req *api.SubmitRequest) (*api.SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding submit request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(
		strings.TrimRight(target, "/")+"/v1/submit",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("calling submit API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("submit API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out api.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding submit response: %w", err)
	}

	return &out, nil
}
