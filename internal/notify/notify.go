// Package notify carries the best-effort "a job is ready" signal from the
// registry to the worker loop over NATS. It is purely a latency
// optimization: the worker's claim polling stays correct if no
// notification ever arrives.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"dronesim/internal/logger"
)

// JobReadySubject is the subject job-ready notifications are published on.
const JobReadySubject = "dronesim.jobs.ready"

// JobReadyMessage announces that a job id has entered the pending queue.
type JobReadyMessage struct {
	JobID string `json:"job_id"`
}

// Publisher emits job-ready notifications.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS for publishing.
func NewPublisher(url string) (*Publisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Publish sends a job-ready notification. Failures are logged and
// swallowed; correctness never depends on delivery.
func (p *Publisher) Publish(jobID string) {
	data, err := json.Marshal(JobReadyMessage{JobID: jobID})
	if err != nil {
		logger.WithJobID(jobID).Error().Err(err).Msg("Failed to marshal job-ready message")
		return
	}
	if err := p.conn.Publish(JobReadySubject, data); err != nil {
		logger.WithJobID(jobID).Warn().Err(err).Msg("Failed to publish job-ready notification")
	}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Subscriber receives job-ready notifications and forwards a wake signal.
type Subscriber struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewSubscriber connects to NATS for subscribing.
func NewSubscriber(url string) (*Subscriber, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Subscriber{conn: conn}, nil
}

// Subscribe delivers a non-blocking signal on wake for every job-ready
// notification. A full channel means the worker is already awake; the
// signal is dropped.
func (s *Subscriber) Subscribe(wake chan<- struct{}) error {
	sub, err := s.conn.Subscribe(JobReadySubject, func(msg *nats.Msg) {
		var ready JobReadyMessage
		if err := json.Unmarshal(msg.Data, &ready); err != nil {
			logger.Logger.Warn().Err(err).Msg("Discarding malformed job-ready message")
			return
		}
		logger.WithJobID(ready.JobID).Debug().Msg("Job-ready notification received")
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", JobReadySubject, err)
	}
	s.sub = sub
	return nil
}

func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
