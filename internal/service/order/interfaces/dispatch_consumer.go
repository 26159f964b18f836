package interfaces

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/pkg/metrics"
	"stockflow/internal/pkg/mq"
	"stockflow/internal/service/order/domain"
)

// MessageReader 是 *kafka.Reader 中消费者用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DispatchConsumerAdapter 监听履约 topic 并驱动对账服务。
// 同一个消费者组内的多个 adapter 各自拥有不相交的分区。
// 处理失败 (瞬时故障) 时不提交 offset，在原地按指数退避重新投递同一条消息，保证分区内顺序。
type DispatchConsumerAdapter struct {
	reader     MessageReader
	handler    mq.MessageHandler
	name       string
	initial    time.Duration
	maxBackoff time.Duration
}

func NewDispatchConsumerAdapter(name string, reader MessageReader, handler mq.MessageHandler, initial, maxBackoff time.Duration) *DispatchConsumerAdapter {
	return &DispatchConsumerAdapter{reader: reader, handler: handler, name: name, initial: initial, maxBackoff: maxBackoff}
}

// Run 阻塞直到 ctx 结束
func (a *DispatchConsumerAdapter) Run(ctx context.Context) error {
	log := logger.Ctx(ctx).With().Str("consumer", a.name).Logger()
	log.Info().Msg("✅ Dispatch consumer started.")
	defer func() {
		if err := a.reader.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close reader")
		}
		log.Info().Msg("🛑 Dispatch consumer stopped.")
	}()

	for {
		// 使用 FetchMessage 而不是 ReadMessage，offset 由我们显式提交
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("could not fetch message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := a.deliver(ctx, msg); err != nil {
			// 只有 ctx 结束才会走到这里，未提交的消息会在重新分配分区后再次投递
			return nil
		}
		if err := a.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}

// deliver 重试直到 handler 返回 nil 或非瞬时错误
func (a *DispatchConsumerAdapter) deliver(ctx context.Context, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initial
	b.MaxInterval = a.maxBackoff
	b.MaxElapsedTime = 0 // 一直重试，直到存储恢复

	op := func() error {
		err := a.handler(ctx, msg)
		if err != nil && !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		metrics.RedeliveriesTotal.Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("consumer", a.name).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Dur("next", next).
			Msg("Message not acknowledged, redelivering")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err != nil && ctx.Err() == nil {
		// 非瞬时错误已经由 handler 处理 (死信)，这里只记录
		logger.Ctx(ctx).Error().Err(err).Str("consumer", a.name).Int64("offset", msg.Offset).Msg("message handler gave up")
		return nil
	}
	return ctx.Err()
}
