package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docchat/internal/model"
	"docchat/internal/platform/rabbitmq"
)

// TranscriptStore persists archived turns.
type TranscriptStore interface {
	Create(turn *model.TranscriptTurn) error
}

// TranscriptPersistWorker consumes published chat turns and writes them to the archive.
type TranscriptPersistWorker struct {
	conn      *amqp.Connection
	store     TranscriptStore
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTranscriptPersistWorker(conn *amqp.Connection, store TranscriptStore, queueName string) *TranscriptPersistWorker {
	return &TranscriptPersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
	}
}

func (w *TranscriptPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(d.Body); err != nil {
					log.Printf("transcript worker: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *TranscriptPersistWorker) handle(body []byte) error {
	var turn model.TranscriptTurn
	if err := json.Unmarshal(body, &turn); err != nil {
		return fmt.Errorf("decode transcript turn failed: %w", err)
	}
	if err := w.store.Create(&turn); err != nil {
		return fmt.Errorf("persist transcript turn failed: %w", err)
	}
	return nil
}

func (w *TranscriptPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
