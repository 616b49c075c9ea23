package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/asaskevich/EventBus"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"

	"github.com/spanguard/spanguard/pkg/config"
	"github.com/spanguard/spanguard/pkg/elasticsearch/bootstrapper"
	esclient "github.com/spanguard/spanguard/pkg/elasticsearch/client"
	"github.com/spanguard/spanguard/pkg/event_bus"
	"github.com/spanguard/spanguard/pkg/metrics"
	pipelineService "github.com/spanguard/spanguard/pkg/pipeline/service"
	"github.com/spanguard/spanguard/pkg/rule/registry"
	ruleService "github.com/spanguard/spanguard/pkg/rule/service"
	traceServer "github.com/spanguard/spanguard/pkg/trace/server"
	violationModel "github.com/spanguard/spanguard/pkg/violation/model"
	violationServer "github.com/spanguard/spanguard/pkg/violation/server"
	violationService "github.com/spanguard/spanguard/pkg/violation/service"
	"github.com/spanguard/spanguard/pkg/write_buffer"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	promRegistry := prometheus.NewRegistry()
	engineMetrics := metrics.NewEngineMetrics(promRegistry)

	bus := EventBus.New()
	violationBus := event_bus.NewEngineEventBus[violationModel.Violation, violationModel.Violation](bus, logger)

	var esWriter *violationService.ElasticsearchWriter
	var engineClient esclient.EngineClient
	if len(cfg.Elasticsearch.Addresses) > 0 {
		es, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create elasticsearch client", zap.Error(err))
		}

		bs := bootstrapper.NewBootstrapper(es, logger)
		if err := bs.BootstrapElasticsearch(); err != nil {
			logger.Fatal("Failed to bootstrap elasticsearch", zap.Error(err))
		}

		ec := esclient.NewEngineClientImpl(es, esclient.Async)
		engineClient = ec
		violationBuffer := write_buffer.NewDatabaseWriteBufferImpl[violationModel.Violation](
			ec,
			bootstrapper.ViolationIndexName,
			logger,
		)
		esWriter = violationService.NewElasticsearchWriter(violationBuffer, logger)
		if err := esWriter.SubscribeTo(violationBus); err != nil {
			logger.Fatal("Failed to subscribe violation writer", zap.Error(err))
		}
	} else {
		logger.Warn("No elasticsearch addresses configured, violations stay in memory only")
	}

	tenantRegistry := registry.NewTenantRegistry(logger)
	if cfg.RulesFile != "" {
		if err := tenantRegistry.LoadDefinitionsFile(cfg.RulesFile); err != nil {
			logger.Fatal("Failed to load rule definitions", zap.Error(err))
		}
	}

	violationStore := violationService.NewMemoryStore(violationService.DefaultStoreCapacity, logger)
	var violationReader violationService.ViolationReader
	if engineClient != nil {
		violationReader = violationService.NewElasticsearchReader(engineClient, logger)
	} else {
		violationReader = violationService.NewMemoryReader(violationStore)
	}
	evaluationService := pipelineService.NewEvaluationService(
		tenantRegistry,
		ruleService.NewEvaluator(),
		violationBus,
		violationStore,
		engineMetrics,
		cfg.Pipeline.WorkerCount,
		cfg.Pipeline.SubmitQueueSize,
		cfg.Pipeline.EvaluationTimeout,
		logger,
	)

	traceBuffer := pipelineService.NewTraceBuffer(cfg.Pipeline.ShardCount, logger)
	pipeline, err := pipelineService.NewEnginePipeline(
		traceBuffer,
		evaluationService,
		engineMetrics,
		cfg.Pipeline.SweepSchedule,
		cfg.Pipeline.StalenessThreshold,
		cfg.Pipeline.BatchTimeout,
		cfg.Pipeline.EvaluatedTraceTTL,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create pipeline", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pipeline.Start(ctx); err != nil {
		logger.Fatal("Failed to start pipeline", zap.Error(err))
	}

	go func() {
		queryRouter := violationServer.CreateRouter(ctx, violationReader, logger)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		mux.Handle("/violations", queryRouter)
		mux.Handle("/violations/count", queryRouter)
		logger.Info("Management endpoint listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, mux); err != nil {
			logger.Error("Management endpoint failed", zap.Error(err))
		}
	}()

	listener, err := net.Listen("tcp", cfg.Server.GRPCAddress)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("address", cfg.Server.GRPCAddress), zap.Error(err))
	}

	srv := grpc.NewServer()
	traceServiceServer := traceServer.NewTraceServiceServerImpl(logger, pipeline)
	protoTrace.RegisterTraceServiceServer(srv, traceServiceServer)

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		logger.Info("Shutting down", zap.String("signal", sig.String()))

		srv.GracefulStop()
		cancel()
		pipeline.Stop()
		if esWriter != nil {
			if err := esWriter.Flush(); err != nil {
				logger.Error("Failed to flush violations on shutdown", zap.Error(err))
			}
		}
	}()

	logger.Info("gRPC service started, listening for OpenTelemetry traces...",
		zap.String("address", cfg.Server.GRPCAddress))
	if err := srv.Serve(listener); err != nil {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
}
