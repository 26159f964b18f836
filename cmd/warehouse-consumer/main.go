// cmd/warehouse-consumer/main.go
package main

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"

	"stockflow/internal/pkg/bootstrap"
	"stockflow/internal/pkg/logger"
	"stockflow/internal/service/order"
)

const serviceName = "warehouse-consumer"

func main() {
	if err := bootstrap.Init(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := bootstrap.GetCurrentConfig()
	logger.Init(serviceName, cfg.App.LogLevel)
	ctx := context.Background()

	if cfg.Pipeline.Mode != bootstrap.ModeKafka {
		logger.Ctx(ctx).Fatal().Str("mode", cfg.Pipeline.Mode).Msg("warehouse-consumer requires pipeline.mode=kafka; embedded mode runs inside order-service")
	}

	backend, err := order.OpenBackend(ctx, cfg)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to open backend")
	}
	channel := order.OpenChannel(cfg)

	tracer := otel.Tracer(serviceName)
	svcs, err := order.NewServices(cfg, backend, channel, tracer)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to build services")
	}

	// HTTP 端口只用于 /healthz 和 /metrics
	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Runners:     order.ConsumerRunners(cfg, svcs, channel, tracer),
		OnShutdown:  []func(context.Context) error{channel.Close, backend.Close},
	})
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("warehouse-consumer exited with error")
	}
}
