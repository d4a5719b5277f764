package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/model"
)

// Job is one ingestion work item handed to the broker or run in-process.
type Job struct {
	SessionID string             `json:"session_id"`
	ProjectID string             `json:"project_id"`
	Name      string             `json:"project_name"`
	OwnerID   string             `json:"user_id"`
	Files     []model.SourceFile `json:"files"`
}

// Broker publishes ingestion jobs to NATS when a server is reachable.
type Broker struct {
	url     string
	subject string
	logger  *zap.Logger
}

// NewBroker configures a broker client. The connection is established per
// publish so that reachability is re-evaluated on every dispatch.
func NewBroker(url, subject string, logger *zap.Logger) *Broker {
	return &Broker{url: url, subject: subject, logger: logger}
}

// Reachable pings the broker.
func (b *Broker) Reachable() bool {
	if b.url == "" {
		return false
	}
	conn, err := nats.Connect(b.url, nats.Timeout(2*time.Second))
	if err != nil {
		return false
	}
	defer conn.Close()
	return conn.IsConnected()
}

// Publish enqueues one job.
func (b *Broker) Publish(job Job) error {
	conn, err := nats.Connect(b.url, nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("flush broker connection: %w", err)
	}
	b.logger.Info("job dispatched to broker",
		zap.String("session_id", job.SessionID), zap.String("subject", b.subject))
	return nil
}

// Subscribe consumes jobs until the context is cancelled, invoking handle
// for each. Used by worker processes.
func (b *Broker) Subscribe(ctx context.Context, handle func(Job)) error {
	conn, err := nats.Connect(b.url, nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	sub, err := conn.QueueSubscribe(b.subject, "atlas-workers", func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			b.logger.Error("discarding malformed job", zap.Error(err))
			return
		}
		handle(job)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}
