// cmd/order-service/main.go
package main

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"

	"stockflow/internal/pkg/bootstrap"
	"stockflow/internal/pkg/logger"
	"stockflow/internal/service/order"
	"stockflow/internal/service/order/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	if err := bootstrap.Init(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := bootstrap.GetCurrentConfig()
	logger.Init(serviceName, cfg.App.LogLevel)
	ctx := context.Background()

	// 1. 存储和消息通道
	backend, err := order.OpenBackend(ctx, cfg)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to open backend")
	}
	channel := order.OpenChannel(cfg)

	// 2. 应用服务
	tracer := otel.Tracer(serviceName)
	svcs, err := order.NewServices(cfg, backend, channel, tracer)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to build services")
	}

	// 3. embedded 模式下对账消费者在进程内运行
	var runners []bootstrap.Runner
	if cfg.Pipeline.Mode == bootstrap.ModeEmbedded {
		runners = order.ConsumerRunners(cfg, svcs, channel, tracer)
		logger.Ctx(ctx).Info().Msg("Running in embedded mode: in-process broker and reconciliation workers.")
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(svcs.Admission, svcs.Inventory).RegisterRoutes(appCtx.Mux)
		},
		Runners:    runners,
		OnShutdown: []func(context.Context) error{channel.Close, backend.Close},
	})
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("order-service exited with error")
	}
}
