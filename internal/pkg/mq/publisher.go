package mq

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Publisher 向一个固定 topic 发送带 key 的消息。
// Kafka 和内存 broker 都实现了这个接口。
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
	Topic() string
}

// KafkaPublisher 是 Publisher 的 Kafka 实现
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	return ProduceMessage(ctx, p.writer, key, value, headers...)
}

func (p *KafkaPublisher) Topic() string {
	return p.writer.Topic
}

// Close 关闭底层的 Kafka writer。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
