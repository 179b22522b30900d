// Package feed consumes camera detection events from NATS.
package feed

import (
	"fmt"
	"sync"
	"time"

	"parkwise/internal/config"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/models"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Sink accepts decoded events; it must not block.
type Sink interface {
	Submit(event models.DetectionEvent) error
}

// Subscriber joins the feed queue group and hands every decoded event to the
// sink. Malformed messages are logged and skipped.
type Subscriber struct {
	cfg    config.FeedConfig
	sink   Sink
	logger *zerolog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

func NewSubscriber(cfg config.FeedConfig, sink Sink, logger *zerolog.Logger) *Subscriber {
	return &Subscriber{
		cfg:    cfg,
		sink:   sink,
		logger: logging.Component(logger, "feed"),
	}
}

// Start connects to url and subscribes. Reconnects are handled by the client.
func (s *Subscriber) Start(url string) error {
	log := s.logger
	conn, err := nats.Connect(url,
		nats.Name("parkwise-ingest"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Feed disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("Feed reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS %s: %w", url, err)
	}

	sub, err := conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.handle)
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return fmt.Errorf("flush subscription: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info().Str("subject", s.cfg.Subject).Str("queue", s.cfg.Queue).Msg("Feed subscribed")
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var event models.DetectionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		metrics.IncDetection("malformed")
		s.logger.Warn().Err(err).Int("bytes", len(msg.Data)).Msg("Malformed detection message")
		return
	}
	if err := s.sink.Submit(event); err != nil {
		s.logger.Warn().Err(err).Str("camera_id", event.CameraID).Msg("Detection not queued")
	}
}

// Close drains the subscription so in-flight messages reach the sink.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("Feed drain failed")
		}
		s.sub = nil
	}
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			s.conn.Close()
		}
		s.conn = nil
	}
}
