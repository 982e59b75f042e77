package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-checkout-reconcile/internal/apperr"
	"github.com/imrishuroy/go-checkout-reconcile/internal/aws"
	"github.com/imrishuroy/go-checkout-reconcile/internal/reconcile"
)

const defaultConcurrency = 4

// Replayer reconciles a ledgered event again.
type Replayer interface {
	Replay(ctx context.Context, eventID int64) (reconcile.Outcome, error)
}

// Processor handles SQS replay messages.
type Processor struct {
	engine      Replayer
	concurrency int
}

// NewProcessor creates a new worker processor.
func NewProcessor(engine Replayer) *Processor {
	return &Processor{
		engine:      engine,
		concurrency: defaultConcurrency,
	}
}

// Handle replays every message of the batch and reports the ones that should be
// retried. Messages for events that no longer exist are dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu   sync.Mutex
		resp events.SQSEventResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, rec := range ev.Records {
		g.Go(func() error {
			if err := p.processMessage(gctx, rec); err != nil {
				log.Printf("[worker] message=%s failed: %v", rec.MessageId, err)
				mu.Lock()
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return resp, err
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.ReplayMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.EventID <= 0 {
		return fmt.Errorf("invalid event id %d", msg.EventID)
	}

	log.Printf("[worker] replaying event=%d reason=%q corr=%s", msg.EventID, msg.Reason, msg.CorrelationID)

	out, err := p.engine.Replay(ctx, msg.EventID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Printf("[worker] event=%d no longer in the ledger, dropping", msg.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("replay event %d: %w", msg.EventID, err)
	}

	log.Printf("[worker] event=%d reconciled kind=%s order=%s", msg.EventID, out.Kind, out.OrderID)
	return nil
}
