package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/domain/event"
	"github.com/vertextoedge/rangefetch/internal/logger"
	"github.com/vertextoedge/rangefetch/internal/service/engine"
	"github.com/vertextoedge/rangefetch/internal/service/manifest"
)

const progressRefresh = 500 * time.Millisecond

type getOptions struct {
	output       string
	dir          string
	connections  int
	retries      int
	timeout      time.Duration
	headers      []string
	tags         []string
	variant      int
	maxBandwidth string
	rateLimit    string
	persist      bool
	dryRun       bool
	quiet        bool
}

func newGetCmd(a *app) *cobra.Command {
	opts := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Download a single URL and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.get(cmd.Context(), args[0], opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "Output filename (default: inferred from the server)")
	f.StringVarP(&opts.dir, "dir", "d", "", "Output directory (default: storage.download_dir)")
	f.IntVarP(&opts.connections, "connections", "c", 0, "Parallel connections (default: engine.max_connections)")
	f.IntVarP(&opts.retries, "retries", "r", -1, "Retries per segment (default: engine.max_retries)")
	f.DurationVarP(&opts.timeout, "timeout", "t", 0, "Connection timeout (default: engine.connection_timeout)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "Request header, \"Name: value\" (repeatable)")
	f.StringSliceVar(&opts.tags, "tag", nil, "Tags to attach to the job")
	f.IntVar(&opts.variant, "variant", 0, "Stream variant index for HLS/DASH, 0 picks the highest bitrate")
	f.StringVar(&opts.maxBandwidth, "max-bitrate", "", "Highest stream bitrate to pick, e.g. 3Mbps or 3000000")
	f.StringVar(&opts.rateLimit, "limit-rate", "", "Bandwidth cap in bytes per second, e.g. 2MiB")
	f.BoolVar(&opts.persist, "db", false, "Record the job in the SQLite database")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Download into memory and discard the result")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func (o *getOptions) engineOptions() (engine.Options, error) {
	headers, err := parseHeaders(o.headers)
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.Options{
		Filename:          o.output,
		SaveDir:           o.dir,
		MaxConnections:    o.connections,
		ConnectionTimeout: o.timeout,
		Headers:           headers,
		Tags:              o.tags,
		Variant:           manifest.Selection{Index: o.variant},
	}
	if o.retries >= 0 {
		retries := o.retries
		opts.MaxRetries = &retries
	}
	if o.maxBandwidth != "" {
		bps, err := parseBitrate(o.maxBandwidth)
		if err != nil {
			return opts, err
		}
		opts.Variant.MaxBandwidth = bps
	}
	return opts, nil
}

func (a *app) get(ctx context.Context, rawURL string, o *getOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := o.engineOptions()
	if err != nil {
		return err
	}
	if o.quiet {
		if err := logger.SetLevel("warn"); err != nil {
			return err
		}
	}

	store, err := openStore(a.cfg, o.persist)
	if err != nil {
		return err
	}
	defer store.Close()

	stack, err := buildEngine(a.cfg, store, wireOptions{dryRun: o.dryRun}, a.logger)
	if err != nil {
		return err
	}
	defer stack.client.CloseIdleConnections()

	if o.rateLimit != "" {
		limit, err := humanize.ParseBytes(o.rateLimit)
		if err != nil {
			return fmt.Errorf("invalid --limit-rate: %w", err)
		}
		stack.manager.SetBandwidthLimit(int64(limit))
	}

	job, err := stack.manager.StartDownload(ctx, rawURL, opts)
	if err != nil {
		return err
	}

	if !o.quiet {
		defer stack.events.Subscribe(retryPrinter(job.ID, out))()
	}
	job, err = a.follow(ctx, stack.manager, job.ID, o.quiet, out)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := stack.manager.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return err
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		if o.dryRun {
			fmt.Fprintf(out, "fetched %s (%s, discarded)\n", job.Filename, humanize.IBytes(uint64(job.DownloadedBytes)))
			return nil
		}
		fmt.Fprintf(out, "saved %s (%s)\n", job.TargetPath(), humanize.IBytes(uint64(job.DownloadedBytes)))
		return nil
	case domain.JobStatusFailed:
		return fmt.Errorf("download failed: %s", job.LastError)
	default:
		return fmt.Errorf("download stopped in state %s", job.Status)
	}
}

// follow renders progress until the job's run ends and returns the final job
func (a *app) follow(ctx context.Context, m *engine.Manager, id string, quiet bool, out io.Writer) (*domain.Job, error) {
	done := make(chan error, 1)
	go func() {
		done <- m.Wait(ctx, id)
	}()

	ticker := time.NewTicker(progressRefresh)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			job, _, gerr := m.GetDownload(context.Background(), id)
			if !quiet && gerr == nil {
				fmt.Fprintf(out, "\r%s\n", progressLine(job))
			}
			if domain.IsCancellation(err) {
				return job, fmt.Errorf("interrupted")
			}
			if err != nil {
				return job, err
			}
			return job, gerr
		case <-ticker.C:
			if quiet {
				continue
			}
			if job, _, err := m.GetDownload(ctx, id); err == nil {
				fmt.Fprintf(out, "\r%s", progressLine(job))
			}
		}
	}
}

// retryPrinter reports segment retries of one job on their own line
func retryPrinter(jobID string, out io.Writer) event.HandlerFunc {
	return func(e event.DomainEvent) error {
		r, ok := e.(event.SegmentRetried)
		if !ok || r.JobID != jobID {
			return nil
		}
		_, err := fmt.Fprintf(out, "\rsegment %d: retry %d in %s: %s\n", r.SegmentID, r.RetryCount, r.Delay.Round(time.Millisecond), r.Error)
		return err
	}
}

// progressLine formats a one-line progress summary
func progressLine(j *domain.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-11s ", j.Status)
	if j.SizeKnown() {
		fmt.Fprintf(&b, "%5.1f%% %s / %s",
			j.Progress,
			humanize.IBytes(uint64(j.DownloadedBytes)),
			humanize.IBytes(uint64(j.TotalSize)))
	} else {
		fmt.Fprintf(&b, "%s", humanize.IBytes(uint64(j.DownloadedBytes)))
	}
	if j.Speed > 0 {
		fmt.Fprintf(&b, "  %s/s", humanize.IBytes(uint64(j.Speed)))
	}
	if j.ETA > 0 {
		fmt.Fprintf(&b, "  eta %s", (time.Duration(j.ETA) * time.Second).String())
	}
	return b.String()
}

// parseHeaders parses "Name: value" pairs
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// parseBitrate accepts plain bits per second or a k/M/G suffixed rate
func parseBitrate(s string) (int64, error) {
	v := strings.TrimSuffix(strings.TrimSpace(s), "bps")
	n, _, err := humanize.ParseSI(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid bitrate %q", s)
	}
	return int64(n), nil
}
