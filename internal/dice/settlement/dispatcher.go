package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice/store"
)

// Publisher entrega uma mensagem da outbox (Kafka em produção)
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Dispatcher drena a outbox depois do commit das operações
type Dispatcher struct {
	Log      *zap.Logger
	Store    store.Store
	Pub      Publisher
	Interval time.Duration
	Batch    int

	OnPublished func(topic string) // métricas
	OnError     func(stage string) // métricas por fase

	wake chan struct{}
}

// NewDispatcher cria o dispatcher com lote e intervalo padrão
func NewDispatcher(log *zap.Logger, st store.Store, pub Publisher, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		Log:      log,
		Store:    st,
		Pub:      pub,
		Interval: interval,
		Batch:    100,
		wake:     make(chan struct{}, 1),
	}
}

// Notify acorda o loop sem bloquear (usado como hook OnCommitted)
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Flush publica um lote pendente e marca como enviado.
// A publicação roda fora de transação: o store fica livre enquanto o broker
// responde. Para no primeiro erro; o que já saiu fica marcado. Entrega é
// at-least-once (uma falha ao marcar republica o lote no próximo flush).
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	var msgs []store.Message
	err := store.WithTx(ctx, d.Store, func(tx store.Tx) error {
		var err error
		msgs, err = tx.Outbox().Pending(ctx, d.batch())
		return err
	})
	if err != nil {
		d.fail("pending")
		return 0, err
	}

	var (
		sent   []store.Message
		pubErr error
	)
	for _, m := range msgs {
		if pubErr = d.Pub.Publish(ctx, m.Topic, m.Key, m.Payload); pubErr != nil {
			d.fail("publish")
			break
		}
		sent = append(sent, m)
	}
	if len(sent) == 0 {
		return 0, pubErr
	}

	err = store.WithTx(ctx, d.Store, func(tx store.Tx) error {
		for _, m := range sent {
			if err := tx.Outbox().MarkSent(ctx, m.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.fail("mark")
		return 0, err
	}
	if d.OnPublished != nil {
		for _, m := range sent {
			d.OnPublished(m.Topic)
		}
	}
	return len(sent), pubErr
}

// Run drena a outbox a cada intervalo ou quando notificado, até ctx ser cancelado
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}

		for {
			n, err := d.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.Log.Warn("outbox flush failed", zap.Error(err))
				break
			}
			if n < d.batch() {
				break
			}
		}
	}
}

func (d *Dispatcher) batch() int {
	if d.Batch <= 0 {
		return 100
	}
	return d.Batch
}

func (d *Dispatcher) fail(stage string) {
	if d.OnError != nil {
		d.OnError(stage)
	}
}
