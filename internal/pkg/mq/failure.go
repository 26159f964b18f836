package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/pkg/metrics"
)

// 死信消息附带的 header，用于定位原始消息和失败原因
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// FailureHandler 把无法处理的消息 (毒消息) 转发到死信 topic。
type FailureHandler struct {
	dlt Publisher
}

func NewFailureHandler(dlt Publisher) *FailureHandler {
	return &FailureHandler{dlt: dlt}
}

// Handle 将 msg 连同失败原因写入 DLT。返回错误时调用方不应提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", errors.Cause(cause)))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)

	if err := h.dlt.Publish(ctx, msg.Key, msg.Value, headers...); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("dlt", h.dlt.Topic()).Msg("Failed to forward message to dead letter topic")
		return errors.Wrapf(err, "forward to %s", h.dlt.Topic())
	}
	metrics.DeadLettersTotal.WithLabelValues(h.dlt.Topic()).Inc()
	logger.Ctx(ctx).Warn().
		Str("original_topic", msg.Topic).
		Int64("original_offset", msg.Offset).
		Err(cause).
		Msg("Message moved to dead letter topic")
	return nil
}
