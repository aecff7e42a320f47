package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Guizzs26/hff-sync/internal/broker"
	"github.com/Guizzs26/hff-sync/internal/ingest"
	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/internal/watcher"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [payload]",
	Short: "Queue one registration",
	Long: `Append a registration to the local queue as pending. The payload is a
JSON object, given as an argument or read from stdin when omitted.

  hffctl submit '{"id":"12","firstName":"Ada","gender":"F"}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload []byte
		if len(args) == 1 {
			payload = []byte(args[0])
		} else {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			payload = raw
		}

		st, err := openStack(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := st.client.SubmitRecord(cmd.Context(), json.RawMessage(strings.TrimSpace(string(payload))))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local queue counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetBool("probe")

		st, err := openStack(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if probe {
			st.monitor.Check(cmd.Context())
		}
		status, err := st.client.Status(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push and pull now",
	Long: `Probe the register server, then push pending registrations and pull
remote changes. When an agent is running the request is delegated to it so
that its single-flight guards apply.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if body, ok := callAgent(cmd.Context(), http.MethodPost, "/sync"); ok {
			_, err := cmd.OutOrStdout().Write(body)
			return err
		}

		st, err := openStack(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := st.client.SyncNow(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), viewReport(report))
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Move rejected registrations back to pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if body, ok := callAgent(cmd.Context(), http.MethodPost, "/retry-failed"); ok {
			_, err := cmd.OutOrStdout().Write(body)
			return err
		}

		st, err := openStack(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.client.RetryFailed(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]int64{"requeued": n})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <register.csv>",
	Short: "Parse a register export and print its analytics",
	Long: `Parse an attendance register export (CSV, UTF-8 or Windows-1252) with the
template layout from $HFF_LAYOUT_FILE and print participants, analytics and
skipped rows. With --queue every valid participant is also appended to the
local queue; participants already queued are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetBool("queue")

		layout, err := ingest.LoadLayout(cfg.LayoutFile)
		if err != nil {
			return err
		}
		parser := ingest.NewParser(layout)

		if !queue {
			reg, err := parser.ReadFile(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reg)
		}

		st, err := openStack(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		inbox := watcher.NewInbox(cfg.InboxDir, parser, st.client, logger)
		res, err := inbox.ImportFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow sync notifications",
	Long: `Print sync notifications as JSON lines until interrupted. By default the
stream of the local agent is followed; with --broker the hff.sync.events
exchange is consumed instead, showing the notifications of every device.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		useBroker, _ := cmd.Flags().GetBool("broker")
		pattern, _ := cmd.Flags().GetString("pattern")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(cmd.OutOrStdout())

		if useBroker {
			if cfg.RabbitMQURL == "" {
				return fmt.Errorf("RABBITMQ_URL is not set")
			}
			consumer, err := broker.NewEventConsumer(cfg.RabbitMQURL, logger)
			if err != nil {
				return err
			}
			defer consumer.Close()
			return consumer.Listen(ctx, pattern, func(ev models.SyncEvent) {
				enc.Encode(ev)
			})
		}

		conn, _, err := websocket.Dial(ctx, "ws://"+cfg.StatusAddr+"/events", nil)
		if err != nil {
			return fmt.Errorf("agent not reachable at %s: %w", cfg.StatusAddr, err)
		}
		defer conn.CloseNow()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event stream closed: %w", err)
			}
			var ev models.SyncEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				logger.Warn("Skipping malformed event", "error", err)
				continue
			}
			enc.Encode(ev)
		}
	},
}

func init() {
	statusCmd.Flags().Bool("probe", false, "probe the register server before reporting")
	ingestCmd.Flags().Bool("queue", false, "append valid participants to the local queue")
	eventsCmd.Flags().Bool("broker", false, "consume from RabbitMQ instead of the local agent")
	eventsCmd.Flags().String("pattern", "sync.#", "routing key pattern when consuming from RabbitMQ")
}

// callAgent forwards a request to a running agent. ok is false when no agent answers.
func callAgent(ctx context.Context, method, path string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+cfg.StatusAddr+path, nil)
	if err != nil {
		return nil, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Debug("No running agent, acting on the local queue directly", "addr", cfg.StatusAddr)
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, false
	}
	return body, true
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
