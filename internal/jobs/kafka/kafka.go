package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/networth-tracker/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Config holds the broker settings shared by publisher and consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Publisher writes recalculation jobs keyed by account id, so every job for
// one account lands on the same partition and is consumed in order.
type Publisher struct {
	writer *kafkago.Writer
	store  jobs.JobStore
}

// NewPublisher creates a Publisher. store may be nil.
func NewPublisher(cfg Config, store jobs.JobStore) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
		},
		store: store,
	}
}

// PublishRecalculate implements jobs.Publisher.
func (p *Publisher) PublishRecalculate(ctx context.Context, job *jobs.RecalculateBalanceJob) error {
	msg, err := encode(job)
	if err != nil {
		return fmt.Errorf("PublishRecalculate: %w", err)
	}

	if p.store != nil {
		if err := p.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishRecalculate: saving job: %w", err)
		}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("PublishRecalculate: writing message: %w", err)
	}
	return nil
}

// Close implements jobs.Publisher.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// encode prepares the job and wraps it in a message keyed by account.
func encode(job *jobs.RecalculateBalanceJob) (kafkago.Message, error) {
	if job.AccountID == "" {
		return kafkago.Message{}, fmt.Errorf("account ID is required")
	}
	jobs.Prepare(job, uuid.NewString, time.Now())

	value, err := json.Marshal(job)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding job: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(job.AccountID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "job_type", Value: []byte(jobs.JobTypeRecalculateBalance)},
		},
	}, nil
}

func decode(msg kafkago.Message) (*jobs.RecalculateBalanceJob, error) {
	var job jobs.RecalculateBalanceJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return nil, fmt.Errorf("decoding job at offset %d: %w", msg.Offset, err)
	}
	if job.AccountID == "" {
		job.AccountID = string(msg.Key)
	}
	return &job, nil
}

// Consumer reads jobs from a consumer group. Messages are handled one at a
// time per consumer; a failing job is retried in place with linear backoff
// before its offset is committed, which preserves per-partition order.
type Consumer struct {
	reader     *kafkago.Reader
	store      jobs.JobStore
	retryDelay time.Duration
	log        zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewConsumer creates a Consumer. store may be nil.
func NewConsumer(cfg Config, store jobs.JobStore, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
		store:      store,
		retryDelay: time.Second,
		log:        log,
		done:       make(chan struct{}),
	}
}

// Start implements jobs.Consumer.
func (c *Consumer) Start(ctx context.Context, handler jobs.JobHandler) error {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx, handler)
	return nil
}

func (c *Consumer) loop(ctx context.Context, handler jobs.JobHandler) {
	defer close(c.done)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error().Err(err).Msg("failed to fetch message")
			continue
		}

		job, err := decode(msg)
		if err != nil {
			c.log.Error().Err(err).Msg("dropping undecodable message")
		} else {
			c.process(ctx, job, handler)
		}

		if ctx.Err() != nil {
			// Leave the offset uncommitted so another member picks the job up.
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}

func (c *Consumer) process(ctx context.Context, job *jobs.RecalculateBalanceJob, handler jobs.JobHandler) {
	log := c.log.With().Str("job_id", job.JobID).Str("account_id", job.AccountID).Logger()

	for {
		job.Status = jobs.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
		c.save(ctx, job)

		err := handler(ctx, job)
		completedAt := time.Now()
		job.CompletedAt = &completedAt

		if err == nil {
			job.Status = jobs.JobStatusCompleted
			job.Error = ""
			c.save(ctx, job)
			return
		}

		job.Error = err.Error()
		if jobs.IsPermanent(err) || job.RetryCount >= job.MaxRetries {
			job.Status = jobs.JobStatusFailed
			c.save(ctx, job)
			log.Error().Err(err).Int("retry_count", job.RetryCount).Msg("job failed")
			return
		}

		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		c.save(ctx, job)
		backoff := job.Backoff(c.retryDelay)
		log.Warn().Err(err).Int("retry_count", job.RetryCount).Dur("backoff", backoff).Msg("job failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) save(ctx context.Context, job *jobs.RecalculateBalanceJob) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to save job state")
	}
}

// Stop implements jobs.Consumer.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		if c.cancel == nil {
			err = c.reader.Close()
			return
		}
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = c.reader.Close()
	})
	return err
}

// Ensure the transports implement the job interfaces.
var _ jobs.Publisher = (*Publisher)(nil)
var _ jobs.Consumer = (*Consumer)(nil)
