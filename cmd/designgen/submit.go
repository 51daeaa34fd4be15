package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/aigoflow/designgen-service/internal/services"
)

var (
	submitInput  inputFlags
	submitOutput string
	submitNoWait bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send a generation request to a running service over NATS",
	Long: `Publish a generation request on the service's JetStream subject and,
unless --no-wait is given, wait for the reply carrying the finished request.`,
	Example: `  designgen submit -d "Bold streetwear e-commerce storefront" --framework react
  designgen submit -f brief.json --no-wait`,
	RunE: runSubmit,
}

func init() {
	submitInput.register(submitCmd)
	submitCmd.Flags().StringVarP(&submitOutput, "output", "o", "json", "Output format: json or yaml")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "Return once the request is stored in the stream")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	input, err := submitInput.build(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nc, err := nats.Connect(cfg.NatsURL, nats.Name("designgen-cli"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	msg := services.GenerationMessage{
		TraceID: ulid.Make().String(),
		Input:   input,
	}

	var replies chan *nats.Msg
	if !submitNoWait {
		msg.ReplyTo = nc.NewRespInbox()
		replies = make(chan *nats.Msg, 1)
		sub, err := nc.ChanSubscribe(msg.ReplyTo, replies)
		if err != nil {
			return fmt.Errorf("failed to subscribe to reply inbox: %w", err)
		}
		defer sub.Unsubscribe()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ack, err := js.Publish(cfg.Subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "queued trace_id=%s stream=%s seq=%d\n", msg.TraceID, ack.Stream, ack.Sequence)

	if submitNoWait {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for reply: %w", ctx.Err())
	case m := <-replies:
		var reply services.GenerationReply
		if err := json.Unmarshal(m.Data, &reply); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}
		if reply.Error != "" {
			for _, d := range reply.Details {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", d)
			}
			return fmt.Errorf("request rejected (%s): %s", reply.ErrorKind, reply.Error)
		}
		if err := writeOutput(cmd.OutOrStdout(), submitOutput, reply.Request); err != nil {
			return err
		}
		if reply.Request != nil && reply.Request.Error != "" {
			return fmt.Errorf("generation %s failed (%s): %s", reply.ReqID, reply.Request.ErrorKind, reply.Request.Error)
		}
		return nil
	}
}
