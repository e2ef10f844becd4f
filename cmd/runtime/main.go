package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kunal/gpu-plugin-runtime/pkg/config"
	"github.com/kunal/gpu-plugin-runtime/pkg/ops"
	"github.com/kunal/gpu-plugin-runtime/pkg/plugin"
	"github.com/kunal/gpu-plugin-runtime/pkg/registry"
	"github.com/kunal/gpu-plugin-runtime/pkg/runtime"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file overlaying the environment")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			logrus.WithError(err).Fatal("loading config file")
		}
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	log := logrus.WithField("component", "main")
	log.WithFields(logrus.Fields{
		"engine":    cfg.EngineName,
		"http_port": cfg.HTTPPort,
		"max_batch": cfg.MaxBatchSize,
		"max_wait":  cfg.MaxWaitTime,
	}).Info("runtime starting")

	engine, err := buildEngine(cfg)
	if err != nil {
		log.WithError(err).Fatal("building engine")
	}
	if err := engine.Initialize(); err != nil {
		engine.Destroy()
		log.WithError(err).Fatal("initializing engine")
	}

	queue := runtime.NewPriorityQueue()
	metrics := runtime.NewMetrics(queue)
	batcher := runtime.NewBatcher(runtime.BatcherConfig{
		MaxBatchSize: cfg.MaxBatchSize,
		MinBatchSize: cfg.MinBatchSize,
		MaxWaitTime:  cfg.MaxWaitTime,
	}, queue, engine, metrics)
	batcher.Start()

	broadcaster := runtime.NewBroadcaster()
	sampler := runtime.NewSampler(engine, batcher, queue, broadcaster, cfg.SampleInterval)
	sampler.Start()

	server := runtime.NewServer(engine, queue, batcher, metrics, broadcaster)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Routes(),
	}
	go func() {
		log.WithField("addr", httpServer.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	sampler.Stop()
	batcher.Stop()
	engine.Terminate()
	engine.Destroy()
	log.Info("runtime stopped")
}

// buildEngine loads a serialized engine container when a path is
// configured, or assembles the built-in demo pipeline.
func buildEngine(cfg *config.Config) (*runtime.Engine, error) {
	if cfg.EnginePath != "" {
		data, err := os.ReadFile(cfg.EnginePath)
		if err != nil {
			return nil, fmt.Errorf("reading engine file: %w", err)
		}
		return runtime.LoadEngine(data, registry.Default)
	}

	engine := runtime.NewEngine(cfg.EngineName, plugin.MakeDims(cfg.InputDims...), cfg.MaxBatchSize)
	engine.AddPlugin(ops.NewIdentity())
	engine.AddPlugin(ops.NewScale(cfg.ScaleFactor))
	if err := engine.Configure(); err != nil {
		engine.Destroy()
		return nil, err
	}
	return engine, nil
}
