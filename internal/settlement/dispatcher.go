package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"arenarank/internal/model"
	"arenarank/internal/observability"
)

// Settlement jobs flow through one JetStream stream. At-least-once delivery
// is fine because every processor is idempotent: terminal rows are skipped,
// and the claim/deduct updates are conditional.
const (
	StreamName      = "ARENA_SETTLEMENT"
	SubjectBattle   = "arena.settle.battle"
	SubjectPurchase = "arena.settle.purchase"
	consumerName    = "arena-settlement"
)

// BattleJob asks the consumer to settle one battle. JobID correlates the
// publish and consume sides in logs across redeliveries.
type BattleJob struct {
	JobID    string     `json:"jobId"`
	BattleID int64      `json:"battleId"`
	TxID     model.TxID `json:"txId"`
}

// PurchaseJob asks the consumer to settle one ticket purchase.
type PurchaseJob struct {
	JobID         string     `json:"jobId"`
	PurchaseLogID int64      `json:"purchaseLogId"`
	TxID          model.TxID `json:"txId"`
}

// Dispatcher publishes and consumes settlement jobs.
type Dispatcher struct {
	js       jetstream.JetStream
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewDispatcher(js jetstream.JetStream, metrics *observability.Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{js: js, metrics: metrics, log: log}
}

// EnsureStream creates the settlement stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"arena.settle.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// PublishBattle enqueues a battle settlement.
func (d *Dispatcher) PublishBattle(ctx context.Context, job BattleJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal battle job: %w", err)
	}
	if _, err := d.js.Publish(ctx, SubjectBattle, data); err != nil {
		return fmt.Errorf("publish battle job: %w", err)
	}
	d.metrics.JobsPublished.WithLabelValues("battle").Inc()
	return nil
}

// PublishPurchase enqueues a ticket purchase settlement.
func (d *Dispatcher) PublishPurchase(ctx context.Context, job PurchaseJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal purchase job: %w", err)
	}
	if _, err := d.js.Publish(ctx, SubjectPurchase, data); err != nil {
		return fmt.Errorf("publish purchase job: %w", err)
	}
	d.metrics.JobsPublished.WithLabelValues("purchase").Inc()
	return nil
}

// Consume runs a durable consumer feeding the processors. A processing
// error NAKs the message for redelivery; a nil return ACKs it, including
// business rejections, which live on the settled row, not in the stream.
func (d *Dispatcher) Consume(ctx context.Context, battles *BattleProcessor, purchases *PurchaseProcessor) error {
	consumer, err := d.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: "arena.settle.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var procErr error
		switch msg.Subject() {
		case SubjectBattle:
			var job BattleJob
			if err := json.Unmarshal(msg.Data(), &job); err != nil {
				d.log.Error().Err(err).Msg("dropping undecodable battle job")
				msg.Ack()
				return
			}
			d.metrics.JobsConsumed.WithLabelValues("battle").Inc()
			d.log.Debug().Str("job_id", job.JobID).Int64("battle_id", job.BattleID).Msg("battle job received")
			procErr = battles.Process(ctx, job)
		case SubjectPurchase:
			var job PurchaseJob
			if err := json.Unmarshal(msg.Data(), &job); err != nil {
				d.log.Error().Err(err).Msg("dropping undecodable purchase job")
				msg.Ack()
				return
			}
			d.metrics.JobsConsumed.WithLabelValues("purchase").Inc()
			d.log.Debug().Str("job_id", job.JobID).Int64("purchase_log_id", job.PurchaseLogID).Msg("purchase job received")
			procErr = purchases.Process(ctx, job)
		default:
			d.log.Warn().Str("subject", msg.Subject()).Msg("dropping job with unknown subject")
			msg.Ack()
			return
		}

		if procErr != nil {
			d.log.Warn().Err(procErr).Str("subject", msg.Subject()).Msg("settlement failed, requeueing")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	d.consumer = cc
	d.log.Info().Str("stream", StreamName).Str("consumer", consumerName).Msg("settlement consumer running")
	return nil
}

// Stop drains the consumer.
func (d *Dispatcher) Stop() {
	if d.consumer != nil {
		d.consumer.Stop()
	}
}

// ConnectNATS dials NATS and returns a JetStream handle.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
