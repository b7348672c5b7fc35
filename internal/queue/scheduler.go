package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
)

// publisher is the subset of *nsq.Producer the scheduler needs.
type publisher interface {
	Publish(topic string, body []byte) error
	DeferredPublish(topic string, delay time.Duration, body []byte) error
}

// Scheduler enqueues dispatch tasks on NSQ. It is constructed once at
// startup and shared by the API, the worker, and the retry path.
type Scheduler struct {
	producer publisher
	topic    string
}

// NewScheduler wraps an NSQ producer for the given deliveries topic.
func NewScheduler(producer *nsq.Producer, topic string) *Scheduler {
	return &Scheduler{producer: producer, topic: topic}
}

// Enqueue publishes a dispatch task, deferred by delay when positive. NSQ
// redelivers on its own schedule, so consumers must treat arrival as
// at-least-once.
func (s *Scheduler) Enqueue(_ context.Context, task Task, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if delay > 0 {
		if err := s.producer.DeferredPublish(s.topic, delay, body); err != nil {
			return fmt.Errorf("deferred publish: %w", err)
		}
		return nil
	}
	if err := s.producer.Publish(s.topic, body); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
