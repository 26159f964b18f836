// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"stockflow/internal/pkg/logger"
	"stockflow/internal/pkg/nacos"
	"stockflow/internal/pkg/tracing"
	"stockflow/internal/pkg/utils"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// Runner 是随服务一起启动的后台任务 (例如 Kafka 消费者)，ctx 结束时应当返回。
type Runner func(ctx context.Context) error

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	Runners          []Runner
	// OnShutdown 在所有 Runner 退出后按顺序执行 (关闭 writer、连接池等)
	OnShutdown []func(ctx context.Context) error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。阻塞直到收到退出信号或某个 Runner 失败。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()
	if info.Port == 0 {
		info.Port = cfg.App.HTTPPort
	}

	// 1. Tracer。任何返回路径都要 Shutdown，确保缓冲的 trace 被发送出去
	if cfg.Infra.Jaeger.Enabled {
		tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Error shutting down tracer provider")
			}
		}()
	} else {
		tracing.InstallPropagator()
	}

	// 2. 服务注册 (可选)
	deregister := func() {}
	if cfg.Infra.Nacos.Enabled {
		d, err := registerWithNacos(context.Background(), info, cfg)
		if err != nil {
			return err
		}
		deregister = d
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Ctx(gctx).Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for _, run := range info.Runners {
		g.Go(func() error { return run(gctx) })
	}

	// 4. 优雅关停: 收到信号或任一组件失败
	g.Go(func() error {
		<-gctx.Done()
		logger.Ctx(ctx).Info().Str("service", info.ServiceName).Msg("Shutting down service...")
		deregister()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Error shutting down http server")
		}
		return nil
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, fn := range info.OnShutdown {
		if cerr := fn(shutdownCtx); cerr != nil {
			logger.Ctx(shutdownCtx).Error().Err(cerr).Msg("Error during shutdown hook")
		}
	}
	logger.Ctx(shutdownCtx).Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return err
}

func registerWithNacos(ctx context.Context, info AppInfo, cfg *Config) (func(), error) {
	registry, err := nacos.NewRegistry(ctx, cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return nil, err
	}
	ip, err := utils.GetOutboundIP()
	if err != nil {
		return nil, err
	}
	deregister, err := registry.Register(ctx, nacos.Instance{
		ServiceName: info.ServiceName,
		IP:          ip,
		Port:        info.Port,
		Metadata: map[string]string{
			"env":           cfg.App.Env,
			"mode":          cfg.Pipeline.Mode,
			"stockBackend":  cfg.Pipeline.StockBackend,
			"consumerGroup": cfg.Pipeline.ConsumerGroup,
		},
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := deregister(context.Background()); err != nil {
			logger.Ctx(context.Background()).Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}, nil
}
