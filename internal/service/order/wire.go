// Package order 负责把订单流水线的各层组装起来，cmd 下的各个服务共用。
package order

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/pkg/bootstrap"
	"stockflow/internal/pkg/logger"
	"stockflow/internal/pkg/mq"
	"stockflow/internal/pkg/redis"
	"stockflow/internal/service/order/application"
	"stockflow/internal/service/order/domain"
	"stockflow/internal/service/order/domain/port"
	"stockflow/internal/service/order/infrastructure"
	"stockflow/internal/service/order/infrastructure/adapter"
	"stockflow/internal/service/order/infrastructure/rule"
	"stockflow/internal/service/order/interfaces"
)

// Backend 是一组仓储，Stock 和 Reconciliation 必须落在同一个后端才能保证原子性
type Backend struct {
	Orders         domain.OrderRepository
	Stock          domain.StockRepository
	Reconciliation domain.ReconciliationRepository
	closers        []func() error
}

// OpenBackend 按 pipeline.stockBackend 打开存储:
// memory 全部在进程内；mysql 全部在 MySQL；redis 时订单在 MySQL，库存和去重守卫在 Redis。
func OpenBackend(ctx context.Context, cfg *bootstrap.Config) (*Backend, error) {
	if cfg.Pipeline.StockBackend == bootstrap.BackendMemory {
		store := infrastructure.NewMemoryStore()
		return &Backend{Orders: store, Stock: store.StockStore(), Reconciliation: store}, nil
	}

	mysqlCfg := cfg.Infra.MySQL
	db, err := infrastructure.OpenMySQL(mysqlCfg.DSN, mysqlCfg.MaxOpenConns, mysqlCfg.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	if mysqlCfg.AutoMigrate {
		if err := infrastructure.AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	logger.Ctx(ctx).Info().Str("target", cfg.MySQLTarget()).Msg("✅ Successfully connected to MySQL.")

	b := &Backend{Orders: infrastructure.NewGormOrderRepository(db)}
	if sqlDB, err := db.DB(); err == nil {
		b.closers = append(b.closers, sqlDB.Close)
	}

	switch cfg.Pipeline.StockBackend {
	case bootstrap.BackendRedis:
		client, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			b.Close(ctx)
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		stock, err := adapter.NewStockRedisAdapter(client)
		if err != nil {
			b.Close(ctx)
			return nil, err
		}
		b.Stock, b.Reconciliation = stock, stock
	default:
		b.Stock = infrastructure.NewGormStockRepository(db)
		b.Reconciliation = infrastructure.NewGormReconciliationRepository(db)
	}
	return b, nil
}

func (b *Backend) Close(ctx context.Context) error {
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Error closing backend")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Channel 是三个出站 topic 的 publisher。embedded 模式下 Broker 非 nil。
type Channel struct {
	Dispatch   mq.Publisher
	Outcome    mq.Publisher
	DeadLetter mq.Publisher
	Broker     *mq.MemoryBroker
	writers    []*mq.KafkaPublisher
}

func OpenChannel(cfg *bootstrap.Config) *Channel {
	p := cfg.Pipeline
	if p.Mode == bootstrap.ModeEmbedded {
		broker := mq.NewMemoryBroker(p.Partitions, p.RedeliveryDelay)
		return &Channel{
			Dispatch:   broker.Publisher(p.DispatchTopic),
			Outcome:    broker.Publisher(p.OutcomeTopic),
			DeadLetter: broker.Publisher(p.DeadLetterTopic),
			Broker:     broker,
		}
	}
	brokers := cfg.Infra.Kafka.Brokers
	c := &Channel{}
	newPublisher := func(topic string) mq.Publisher {
		pub := mq.NewKafkaPublisher(mq.NewKafkaWriter(brokers, topic))
		c.writers = append(c.writers, pub)
		return pub
	}
	c.Dispatch = newPublisher(p.DispatchTopic)
	c.Outcome = newPublisher(p.OutcomeTopic)
	c.DeadLetter = newPublisher(p.DeadLetterTopic)
	return c
}

func (c *Channel) Close(ctx context.Context) error {
	for _, w := range c.writers {
		if err := w.Close(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("topic", w.Topic()).Msg("Error closing kafka writer")
		}
	}
	return nil
}

// Services 是应用层服务的集合
type Services struct {
	Admission      *application.AdmissionService
	Inventory      *application.InventoryService
	Reconciliation *application.ReconciliationService
}

func NewServices(cfg *bootstrap.Config, backend *Backend, channel *Channel, tracer trace.Tracer) (*Services, error) {
	p := cfg.Pipeline

	var policy port.AdmissionPolicy
	if len(p.AdmissionRules) > 0 {
		celPolicy, err := rule.NewCELAdmissionPolicy(p.AdmissionRules)
		if err != nil {
			return nil, err
		}
		policy = celPolicy
	}

	stockLedger := application.NewStockLedger(backend.Stock, p.StoreTimeout, tracer)
	orderLedger := application.NewOrderLedger(backend.Orders, p.StoreTimeout, tracer)
	guard := application.NewDedupGuard(backend.Reconciliation, p.StoreTimeout, tracer)

	return &Services{
		Admission: application.NewAdmissionService(stockLedger, orderLedger,
			adapter.NewDispatchKafkaAdapter(channel.Dispatch), policy, p.PublishTimeout, tracer),
		Inventory: application.NewInventoryService(backend.Stock, p.StoreTimeout, tracer),
		Reconciliation: application.NewReconciliationService(guard, orderLedger,
			adapter.NewNotificationKafkaAdapter(channel.Outcome), p.PublishTimeout, tracer),
	}, nil
}

// ConsumerRunners 返回对账消费者和死信日志消费者
func ConsumerRunners(cfg *bootstrap.Config, svcs *Services, channel *Channel, tracer trace.Tracer) []bootstrap.Runner {
	p := cfg.Pipeline
	handler := interfaces.NewDispatchHandler(svcs.Reconciliation, mq.NewFailureHandler(channel.DeadLetter), tracer)

	if channel.Broker != nil {
		broker := channel.Broker
		return []bootstrap.Runner{
			func(ctx context.Context) error {
				return broker.Subscribe(ctx, p.DispatchTopic, p.ConsumerGroup, handler.Handle)
			},
			func(ctx context.Context) error {
				return broker.Subscribe(ctx, p.DeadLetterTopic, p.ConsumerGroup+"-dlt", interfaces.LogDeadLetter)
			},
		}
	}

	brokers := cfg.Infra.Kafka.Brokers
	runners := make([]bootstrap.Runner, 0, p.Workers+1)
	// 同一个消费者组内的每个 reader 分到不相交的分区
	for i := range p.Workers {
		reader := mq.NewKafkaReader(brokers, p.DispatchTopic, p.ConsumerGroup)
		consumer := interfaces.NewDispatchConsumerAdapter(fmt.Sprintf("worker-%d", i), reader, handler.Handle, p.RedeliveryDelay, p.MaxRetryBackoff)
		runners = append(runners, consumer.Run)
	}
	dlt := interfaces.NewDltConsumerAdapter(mq.NewKafkaReader(brokers, p.DeadLetterTopic, p.ConsumerGroup+"-dlt"), p.DeadLetterTopic)
	return append(runners, dlt.Run)
}
