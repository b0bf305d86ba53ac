package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"allocator/internal/amqp"
)

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request AMOUNT",
		Short: "Send an allocation request to the AMQP worker and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE:  runRequest,
	}
	cmd.Flags().String("plan", "", "Plan name (default: the worker's default plan)")
	cmd.Flags().Duration("timeout", 10*time.Second, "How long to wait for the reply")
	cmd.Flags().Bool("no-wait", false, "Enqueue the request and exit without waiting for a reply")
	return cmd
}

func runRequest(cmd *cobra.Command, args []string) error {
	plan, _ := cmd.Flags().GetString("plan")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	noWait, _ := cmd.Flags().GetBool("no-wait")

	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return err
	}
	if !cfg.AMQPEnabled() {
		return fmt.Errorf("AMQP_URL is required to send requests")
	}
	logger := commandLogger(cmd, cfg)

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger, nil)
	if err != nil {
		return fmt.Errorf("connect to AMQP: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	msg := amqp.NewAllocationRequest(plan, args[0])
	if noWait {
		if err := client.PublishAllocationRequest(ctx, msg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已发送请求 %s\n", msg.RequestID)
		return nil
	}

	reply, err := client.Request(ctx, msg)
	if err != nil {
		return err
	}
	if !reply.OK() {
		return fmt.Errorf("%s (%s)", reply.Error, reply.ErrorKind)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
