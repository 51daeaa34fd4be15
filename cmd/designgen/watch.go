package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/services"
)

var (
	watchRequest    string
	watchNoProgress bool
	watchNoMonitor  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow progress events and backpressure reports",
	Long: `Subscribe to the progress subjects, backpressure reports and service
heartbeats and print them as they arrive. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRequest, "request", "", "Only show progress for this request id")
	watchCmd.Flags().BoolVar(&watchNoProgress, "no-progress", false, "Do not show progress events")
	watchCmd.Flags().BoolVar(&watchNoMonitor, "no-monitoring", false, "Do not show backpressure reports and heartbeats")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NatsURL, nats.Name("designgen-watch"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	out := cmd.OutOrStdout()
	var subjects []string

	if !watchNoProgress {
		subject := cfg.ProgressPrefix + ".>"
		if watchRequest != "" {
			subject = cfg.ProgressPrefix + "." + watchRequest
		}
		if _, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			printProgressMsg(out, msg.Data)
		}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subjects = append(subjects, subject)
	}

	if !watchNoMonitor {
		monitorSubject := cfg.MonitoringTopic + ".>"
		if _, err := nc.Subscribe(monitorSubject, func(msg *nats.Msg) {
			printBackpressure(out, msg.Data)
		}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", monitorSubject, err)
		}
		heartbeatSubject := "services.*.heartbeat"
		if _, err := nc.Subscribe(heartbeatSubject, func(msg *nats.Msg) {
			printHeartbeat(out, msg.Data)
		}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", heartbeatSubject, err)
		}
		subjects = append(subjects, monitorSubject, heartbeatSubject)
	}

	if len(subjects) == 0 {
		return fmt.Errorf("nothing to watch")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (Ctrl+C to stop)\n", strings.Join(subjects, ", "))

	<-ctx.Done()
	return nil
}

func printProgressMsg(w io.Writer, data []byte) {
	var ev models.GenerationProgress
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Fprintf(w, "unreadable progress event: %v\n", err)
		return
	}
	line := fmt.Sprintf("%s %s %-15s %3d%% %s", ev.Timestamp.Format(time.TimeOnly), ev.RequestID, ev.Stage, ev.Progress, ev.Message)
	if ev.Detail != "" {
		line += ": " + ev.Detail
	}
	fmt.Fprintln(w, line)
}

func printBackpressure(w io.Writer, data []byte) {
	var r services.BackpressureReport
	if err := json.Unmarshal(data, &r); err != nil {
		fmt.Fprintf(w, "unreadable backpressure report: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s %s [%s] pending=%d active=%d/%d in_flight=%d circuit=%s\n",
		r.Timestamp.Format(time.TimeOnly), r.ServiceName, strings.ToUpper(r.Status),
		r.PendingRequests, r.ActiveProcessing, r.MaxConcurrent, r.InFlightMessages, r.CircuitState)
}

func printHeartbeat(w io.Writer, data []byte) {
	var h services.HealthStatus
	if err := json.Unmarshal(data, &h); err != nil {
		fmt.Fprintf(w, "unreadable heartbeat: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s %s heartbeat status=%s uptime=%s completed=%d failed=%d\n",
		h.LastActivity.Format(time.TimeOnly), h.ServiceName, h.Status, h.Uptime, h.Queue.Completed, h.Queue.Failed)
}
