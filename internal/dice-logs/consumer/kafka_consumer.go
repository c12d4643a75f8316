package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice-logs/pubsub"
	"github.com/radieske/dice-settlement/pkg/contracts/events"
)

// Reader é a parte do kafka.Reader usada pelo processor
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Cache guarda recibos/resultados para consulta
type Cache interface {
	SetReceipt(ctx context.Context, betID uint64, payload []byte) error
	SetResult(ctx context.Context, betID uint64, player string, payload []byte) error
}

// Broadcaster notifica observadores (o jogador é o destinatário)
type Broadcaster interface {
	Publish(ctx context.Context, n pubsub.Notice) error
}

// Processor consome recibos e resultados do Kafka, faz cache e notifica o jogador
// Callbacks de métricas podem ser usadas para monitoramento de cada etapa
type Processor struct {
	Log          *zap.Logger
	Reader       Reader
	Cache        Cache
	Broadcaster  Broadcaster
	TopicReceipt string
	TopicResult  string

	OnConsumed func(topic string) // métricas (counter++)
	OnNotified func()             // métricas
	OnError    func(string)       // métricas por fase
}

// Run inicia o loop principal de consumo até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed(m.Topic)
		}
		p.Handle(ctx, m)
	}
}

// Handle processa uma mensagem; erros são logados e contados, sem parar o loop
func (p *Processor) Handle(ctx context.Context, m kafka.Message) {
	var (
		notice pubsub.Notice
		err    error
	)
	switch m.Topic {
	case p.TopicReceipt:
		var ev events.BetReceipt
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			p.Log.Warn("invalid receipt", zap.Error(err))
			p.fail("decode")
			return
		}
		err = p.Cache.SetReceipt(ctx, ev.BetID, m.Value)
		notice = pubsub.Notice{Kind: "receipt", Recipient: ev.Player, BetID: ev.BetID, Payload: m.Value}

	case p.TopicResult:
		var ev events.BetResult
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			p.Log.Warn("invalid result", zap.Error(err))
			p.fail("decode")
			return
		}
		err = p.Cache.SetResult(ctx, ev.BetID, ev.Player, m.Value)
		notice = pubsub.Notice{Kind: "result", Recipient: ev.Player, BetID: ev.BetID, Payload: m.Value}
		p.Log.Info("bet result",
			zap.Uint64("bet_id", ev.BetID),
			zap.String("player", ev.Player),
			zap.Uint8("roll", ev.RandomRoll),
			zap.String("payout", ev.Payout),
		)

	default:
		p.Log.Debug("ignored topic", zap.String("topic", m.Topic))
		return
	}

	// não bloqueia a notificação se falhar o cache
	if err != nil {
		p.Log.Warn("redis cache failed", zap.Uint64("bet_id", notice.BetID), zap.Error(err))
		p.fail("cache")
	}

	if err := p.Broadcaster.Publish(ctx, notice); err != nil {
		p.Log.Warn("broadcast failed", zap.Uint64("bet_id", notice.BetID), zap.Error(err))
		p.fail("broadcast")
		return
	}
	if p.OnNotified != nil {
		p.OnNotified()
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
