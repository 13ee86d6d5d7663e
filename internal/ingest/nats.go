package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"dc-monitor/internal/metrics"
	"dc-monitor/internal/models"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Submitter interface {
	Submit(sample models.MetricSample) bool
}

// NATSSubscriber читает снимки телеметрии из очереди NATS. Несколько
// инстансов в одной queue group делят поток между собой.
type NATSSubscriber struct {
	conn   *nats.Conn
	sink   Submitter
	logger *zap.Logger
	now    func() time.Time
	sub    *nats.Subscription
}

func NewNATSSubscriber(conn *nats.Conn, sink Submitter, logger *zap.Logger) *NATSSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSubscriber{
		conn:   conn,
		sink:   sink,
		logger: logger.Named("nats"),
		now:    time.Now,
	}
}

func (s *NATSSubscriber) Start(subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub

	s.logger.Info("Subscribed to telemetry",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return nil
}

func (s *NATSSubscriber) handle(msg *nats.Msg) {
	var sample models.MetricSample
	if err := json.Unmarshal(msg.Data, &sample); err != nil {
		s.logger.Warn("Failed to decode telemetry sample",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}

	sample, err := Prepare(sample, s.now())
	if err != nil {
		s.logger.Warn("Rejected telemetry sample", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}

	if !s.sink.Submit(sample) {
		s.logger.Warn("Ingest queue full, sample dropped", zap.String("subject", msg.Subject))
		return
	}
	metrics.SamplesIngested.WithLabelValues("nats").Inc()
}

// Stop дочитывает уже полученные сообщения и снимает подписку.
func (s *NATSSubscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}
