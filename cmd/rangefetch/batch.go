package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/service/engine"
)

// batchEntry is one download in a batch file
type batchEntry struct {
	Link        string   `yaml:"link"`
	OutputPath  string   `yaml:"op,omitempty"`
	Connections int      `yaml:"connections,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

func newBatchCmd(a *app) *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "batch FILE.yaml",
		Short: "Download every entry of a YAML batch file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading batch file: %w", err)
			}
			entries, err := parseBatch(data)
			if err != nil {
				return err
			}
			return a.batch(cmd.Context(), entries, persist, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&persist, "db", false, "Record the jobs in the SQLite database")
	return cmd
}

// parseBatch decodes a YAML list of entries. Entries without a link are an
// error since the file is otherwise ambiguous.
func parseBatch(data []byte) ([]batchEntry, error) {
	var entries []batchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch file has no entries")
	}
	for i, e := range entries {
		if e.Link == "" {
			return nil, fmt.Errorf("missing link for entry %d", i+1)
		}
		if e.Connections < 0 {
			return nil, fmt.Errorf("negative connections for entry %d", i+1)
		}
	}
	return entries, nil
}

// options maps the entry onto engine options. op may name a file, a
// directory (trailing separator) or both.
func (e batchEntry) options() engine.Options {
	opts := engine.Options{
		MaxConnections: e.Connections,
		Tags:           e.Tags,
	}
	if e.OutputPath == "" {
		return opts
	}
	if os.IsPathSeparator(e.OutputPath[len(e.OutputPath)-1]) {
		opts.SaveDir = e.OutputPath
		return opts
	}
	if dir := filepath.Dir(e.OutputPath); dir != "." {
		opts.SaveDir = dir
	}
	opts.Filename = filepath.Base(e.OutputPath)
	return opts
}

// startEntry starts one batch download. Failures specific to the entry are
// skippable; an engine that is shutting down or an interrupt is not.
func startEntry(ctx context.Context, m *engine.Manager, i int, e batchEntry) (string, error) {
	job, err := m.StartDownload(ctx, e.Link, e.options())
	if err != nil {
		if errors.Is(err, engine.ErrClosed) || ctx.Err() != nil {
			return "", err
		}
		return "", domain.NewSkippableError(err, fmt.Sprintf("batch entry %d", i+1))
	}
	return job.ID, nil
}

func (a *app) batch(ctx context.Context, entries []batchEntry, persist bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(a.cfg, persist)
	if err != nil {
		return err
	}
	defer store.Close()

	stack, err := buildEngine(a.cfg, store, wireOptions{}, a.logger)
	if err != nil {
		return err
	}
	defer stack.client.CloseIdleConnections()
	m := stack.manager

	// Start everything up front; the engine's global cap bounds concurrency.
	var ids []string
	skipped := 0
	for i, e := range entries {
		id, err := startEntry(ctx, m, i, e)
		if domain.IsSkippable(err) {
			a.logger.Warn("skipping batch entry", zap.String("url", e.Link), zap.Error(err))
			fmt.Fprintf(out, "skip  %s: %v\n", e.Link, err)
			skipped++
			continue
		}
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return m.Wait(gctx, id)
		})
	}
	waitErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to stop download engine", zap.Error(err))
	}

	failed := 0
	for _, id := range ids {
		job, _, err := m.GetDownload(context.Background(), id)
		if err != nil {
			failed++
			continue
		}
		switch job.Status {
		case domain.JobStatusCompleted:
			fmt.Fprintf(out, "done  %s (%s)\n", job.TargetPath(), humanize.IBytes(uint64(job.DownloadedBytes)))
		default:
			failed++
			fmt.Fprintf(out, "%-5s %s: %s\n", job.Status, job.URL, job.LastError)
		}
	}

	fmt.Fprintf(out, "%d completed, %d failed, %d skipped\n", len(ids)-failed, failed, skipped)
	if waitErr != nil {
		return fmt.Errorf("interrupted: %w", waitErr)
	}
	if failed > 0 || skipped > 0 {
		return fmt.Errorf("%d of %d downloads did not complete", failed+skipped, len(entries))
	}
	return nil
}
