package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/adapter/classifier"
	"github.com/vertextoedge/rangefetch/internal/adapter/filesystem"
	"github.com/vertextoedge/rangefetch/internal/adapter/httpclient"
	"github.com/vertextoedge/rangefetch/internal/adapter/memory"
	"github.com/vertextoedge/rangefetch/internal/adapter/sqlite"
	"github.com/vertextoedge/rangefetch/internal/config"
	"github.com/vertextoedge/rangefetch/internal/domain/event"
	"github.com/vertextoedge/rangefetch/internal/port"
	"github.com/vertextoedge/rangefetch/internal/service/engine"
)

// engineStack is a fully wired download engine
type engineStack struct {
	store port.Store
	// files is nil for dry runs
	files   *filesystem.FileSink
	client  *httpclient.Client
	events  *event.InMemoryDispatcher
	manager *engine.Manager
}

// wireOptions selects how buildEngine assembles the stack
type wireOptions struct {
	// dryRun keeps downloaded bytes in memory and drops them on completion
	dryRun bool
	// asyncEvents delivers events off the worker goroutines
	asyncEvents bool
}

// openStore opens the SQLite store at the configured path, or an in-memory
// store when persist is false
func openStore(cfg *config.Config, persist bool) (port.Store, error) {
	if !persist {
		return memory.NewStore(), nil
	}
	dbPath := cfg.Storage.DatabasePath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	return store, nil
}

// buildEngine wires the sink, HTTP client, classifier, space checks and
// event handlers around store.
func buildEngine(cfg *config.Config, store port.Store, opts wireOptions, logger *zap.Logger) (*engineStack, error) {
	var (
		sink  port.Sink
		space port.SpaceChecker
		files *filesystem.FileSink
	)
	if opts.dryRun {
		sink = discardSink{memory.NewSink()}
	} else {
		fs, err := filesystem.NewFileSink(cfg.Storage.DownloadDir)
		if err != nil {
			return nil, err
		}
		files = fs
		sink = fs
		space = engine.NewSpaceManager(fs, store, float64(cfg.Storage.MaxDiskUsagePercent))
	}

	client, err := httpclient.New(httpclient.Config{
		ResponseHeaderTimeout: cfg.Engine.GetConnectionTimeout(),
		KeepAliveTimeout:      cfg.Engine.GetKeepAliveTimeout(),
		ProxyURL:              cfg.Engine.ProxyURL,
		UserAgent:             cfg.Engine.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	metrics := event.NewMetricsHandler()
	events := event.NewInMemoryDispatcher(opts.asyncEvents)
	events.Subscribe(event.NewLoggingHandler(logger.Named("events")))
	events.Subscribe(metrics)

	manager, err := engine.New(engine.ConfigFrom(cfg), engine.Deps{
		Store:      store,
		Sink:       sink,
		Client:     client,
		Classifier: classifier.New(),
		Space:      space,
		Events:     events,
		Metrics:    metrics,
		Logger:     logger.Named("engine"),
	})
	if err != nil {
		return nil, err
	}

	return &engineStack{
		store:   store,
		files:   files,
		client:  client,
		events:  events,
		manager: manager,
	}, nil
}

// discardSink drops an artifact from memory as soon as it is finalized
type discardSink struct {
	*memory.Sink
}

func (d discardSink) Finalize(jobID string) (string, int64, error) {
	path, n, err := d.Sink.Finalize(jobID)
	if err != nil {
		return path, n, err
	}
	return path, n, d.Sink.Discard(jobID, path)
}
