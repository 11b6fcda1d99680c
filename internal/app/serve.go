package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhukov-alex/flakeid/internal/config"
	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/logger"
	"github.com/zhukov-alex/flakeid/internal/metrics"
	"github.com/zhukov-alex/flakeid/internal/stamper"
	"github.com/zhukov-alex/flakeid/internal/transport"
)

const EnvStage = "ENVIRONMENT"

func devMode() bool {
	return strings.ToLower(os.Getenv(EnvStage)) != "prod"
}

type namedServer struct {
	name string
	srv  transport.Server
}

func ServeCmd(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(viper.GetViper())
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	l, err := logger.New(cfg.Logger, devMode())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer l.Sync()

	collectMetrics := cfg.MetricsAddr != ""
	var metricsCloser func(ctx context.Context) error
	if collectMetrics {
		metricsSrv, cl := metrics.New(l, cfg.MetricsAddr, prometheus.DefaultGatherer)
		metricsSrv.Start()
		metricsCloser = cl
	}

	gen, err := idservice.NewGenerator(l, cfg.Generator)
	if err != nil {
		return fmt.Errorf("generator init error: %w", err)
	}
	svc := idservice.New(l, cfg.Generator, gen, collectMetrics)

	servers, err := buildServers(l, cfg, collectMetrics)
	if err != nil {
		return fmt.Errorf("server init error: %w", err)
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func() {
			if err := s.srv.Serve(ctx, svc); err != nil {
				l.Error("server error", zap.String("server", s.name), zap.Error(err))
				errCh <- fmt.Errorf("%s: %w", s.name, err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	l.Info("Shutdown signal received")

	clCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(clCtx)
	for _, s := range servers {
		g.Go(func() error {
			if err := s.srv.Close(gctx); err != nil {
				return fmt.Errorf("close %s: %w", s.name, err)
			}
			return nil
		})
	}
	if collectMetrics {
		g.Go(func() error { return metricsCloser(gctx) })
	}

	if err := g.Wait(); err != nil {
		l.Error("shutdown errors", zap.Error(err))
	} else {
		l.Info("Shutdown complete")
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func buildServers(l *zap.Logger, cfg *config.Config, collectMetrics bool) ([]namedServer, error) {
	var servers []namedServer
	if cfg.Transport.TCP != nil {
		servers = append(servers, namedServer{"tcp", transport.NewTCPServer(l, cfg.Transport.TCP, collectMetrics)})
	}
	if cfg.Transport.GRPC != nil {
		servers = append(servers, namedServer{"grpc", transport.NewGRPCServer(l, cfg.Transport.GRPC, collectMetrics)})
	}
	if cfg.Transport.HTTP != nil {
		servers = append(servers, namedServer{"http", transport.NewHTTPServer(l, cfg.Transport.HTTP, collectMetrics)})
	}
	if cfg.Stamper.Enabled {
		out, err := stamper.NewKafkaOutput(l, &cfg.Stamper)
		if err != nil {
			return nil, fmt.Errorf("stamper output: %w", err)
		}
		reader := stamper.NewKafkaReader(&cfg.Stamper)
		servers = append(servers, namedServer{"stamper", stamper.New(l, &cfg.Stamper, reader, out, collectMetrics)})
	}
	return servers, nil
}
