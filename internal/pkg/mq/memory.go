package mq

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/pkg/metrics"
)

// MessageHandler 处理一条消息。返回 nil 即确认 (ack)，返回错误则不确认，消息会被重新投递。
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// MemoryBroker 是一个进程内的分区消息通道，语义与 Kafka 消费者组一致：
// 按 key 哈希分区、分区内有序、未确认的消息会被重新投递 (at-least-once)。
// 用于 embedded 模式和测试。
type MemoryBroker struct {
	partitions      int
	redeliveryDelay time.Duration

	mu     sync.Mutex
	topics map[string]*memTopic
}

type memTopic struct {
	name       string
	partitions []*memPartition

	mu     sync.Mutex
	groups map[string][]int64 // group -> 每个分区已确认的 offset
}

type memPartition struct {
	mu   sync.Mutex
	log  []kafka.Message
	wake chan struct{}
}

// NewMemoryBroker partitions 至少为 1
func NewMemoryBroker(partitions int, redeliveryDelay time.Duration) *MemoryBroker {
	if partitions < 1 {
		partitions = 1
	}
	return &MemoryBroker{
		partitions:      partitions,
		redeliveryDelay: redeliveryDelay,
		topics:          make(map[string]*memTopic),
	}
}

func (b *MemoryBroker) topic(name string) *memTopic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{name: name, groups: make(map[string][]int64)}
		for i := 0; i < b.partitions; i++ {
			t.partitions = append(t.partitions, &memPartition{wake: make(chan struct{})})
		}
		b.topics[name] = t
	}
	return t
}

// PartitionFor 返回 key 所在的分区
func (b *MemoryBroker) PartitionFor(key []byte) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(b.partitions))
}

// Publisher 返回一个写入 topic 的 Publisher
func (b *MemoryBroker) Publisher(topic string) *MemoryPublisher {
	b.topic(topic)
	return &MemoryPublisher{broker: b, topic: topic}
}

func (b *MemoryBroker) publish(ctx context.Context, topic string, key, value []byte, headers []kafka.Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := b.topic(topic)
	idx := b.PartitionFor(key)
	msg := kafka.Message{
		Topic:     topic,
		Partition: idx,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Headers:   InjectTraceContext(ctx, append([]kafka.Header(nil), headers...)),
		Time:      time.Now(),
	}
	t.partitions[idx].append(msg)
	return nil
}

// Subscribe 以消费者组 group 订阅 topic，每个分区一个 worker goroutine。
// 阻塞直到 ctx 结束且所有 worker 退出。
func (b *MemoryBroker) Subscribe(ctx context.Context, topic, group string, handler MessageHandler) error {
	t := b.topic(topic)
	t.mu.Lock()
	if _, ok := t.groups[group]; !ok {
		t.groups[group] = make([]int64, len(t.partitions))
	}
	t.mu.Unlock()

	var wg sync.WaitGroup
	for i := range t.partitions {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			b.consumePartition(ctx, t, group, idx, handler)
		}(i)
	}
	logger.Ctx(ctx).Info().Str("topic", topic).Str("group", group).Int("partitions", len(t.partitions)).Msg("✅ Memory consumer started.")
	wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", topic).Str("group", group).Msg("🛑 Memory consumer stopped.")
	return nil
}

func (b *MemoryBroker) consumePartition(ctx context.Context, t *memTopic, group string, idx int, handler MessageHandler) {
	p := t.partitions[idx]
	for {
		offset := t.committed(group, idx)
		msg, ok, wake := p.at(offset)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				continue
			}
		}

		if err := handler(ctx, msg); err != nil {
			// 不确认，等待后重新投递同一条消息，保证分区内顺序
			metrics.RedeliveriesTotal.Inc()
			logger.Ctx(ctx).Warn().Err(err).Str("topic", t.name).Int("partition", idx).Int64("offset", msg.Offset).Msg("Message not acknowledged, redelivering")
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.redeliveryDelay):
			}
			continue
		}
		t.commit(group, idx, offset+1)
	}
}

// Pending 返回 group 在 topic 上尚未确认的消息数
func (b *MemoryBroker) Pending(topic, group string) int {
	t := b.topic(topic)
	t.mu.Lock()
	offsets := t.groups[group]
	t.mu.Unlock()

	pending := 0
	for i, p := range t.partitions {
		var acked int64
		if offsets != nil {
			acked = t.committed(group, i)
		}
		pending += p.size() - int(acked)
	}
	return pending
}

// Messages 返回 topic 上已发布的全部消息 (按分区拼接)，测试使用
func (b *MemoryBroker) Messages(topic string) []kafka.Message {
	t := b.topic(topic)
	var out []kafka.Message
	for _, p := range t.partitions {
		p.mu.Lock()
		out = append(out, p.log...)
		p.mu.Unlock()
	}
	return out
}

func (t *memTopic) committed(group string, idx int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.groups[group][idx]
}

func (t *memTopic) commit(group string, idx int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[group][idx] = offset
}

func (p *memPartition) append(msg kafka.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg.Offset = int64(len(p.log))
	p.log = append(p.log, msg)
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *memPartition) at(offset int64) (kafka.Message, bool, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset < int64(len(p.log)) {
		return p.log[offset], true, nil
	}
	return kafka.Message{}, false, p.wake
}

func (p *memPartition) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.log)
}

// MemoryPublisher 是 Publisher 的内存实现
type MemoryPublisher struct {
	broker *MemoryBroker
	topic  string
}

func (p *MemoryPublisher) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	return p.broker.publish(ctx, p.topic, key, value, headers)
}

func (p *MemoryPublisher) Topic() string {
	return p.topic
}
