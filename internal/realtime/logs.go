package realtime

import (
	"context"
	"fmt"

	"github.com/mazrean/kiban/internal/logging"
)

// LogsTopic is the topic log records are published on.
const LogsTopic = "logs"

// LogsEndpoint streams process log records to subscribed clients. Clients
// subscribing to LogsTopic first receive the buffered records.
type LogsEndpoint struct {
	logs *logging.Service
}

// NewLogsEndpoint returns an endpoint serving the records of logs.
func NewLogsEndpoint(logs *logging.Service) *LogsEndpoint {
	return &LogsEndpoint{logs: logs}
}

// HandleMessage answers the "recent" event with the buffered records.
func (e *LogsEndpoint) HandleMessage(_ context.Context, c *Conn, msg Message) error {
	switch msg.Event {
	case "recent":
		return e.sendRecent(c)
	default:
		return fmt.Errorf("unknown event %q", msg.Event)
	}
}

// Subscribed replays the buffered records to c when it subscribes to LogsTopic.
func (e *LogsEndpoint) Subscribed(c *Conn, topic string) {
	if topic == LogsTopic {
		_ = e.sendRecent(c)
	}
}

func (e *LogsEndpoint) sendRecent(c *Conn) error {
	return c.SendEvent(LogsTopic, "recent", e.logs.Recent())
}

// RelayLogs publishes every record logged through logs to LogsTopic until ctx
// is done.
func RelayLogs(ctx context.Context, hub *Hub, logs *logging.Service) error {
	records, cancel := logs.Subscribe(sendBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			if _, err := hub.Publish(LogsTopic, "record", rec); err != nil {
				return fmt.Errorf("publish log record: %w", err)
			}
		}
	}
}
