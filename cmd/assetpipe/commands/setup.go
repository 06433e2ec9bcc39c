package commands

import (
	"io"
	"log/slog"

	"git.home.luguber.info/inful/assetpipe/internal/build"
	"git.home.luguber.info/inful/assetpipe/internal/config"
	"git.home.luguber.info/inful/assetpipe/internal/events"
	"git.home.luguber.info/inful/assetpipe/internal/history"
	"git.home.luguber.info/inful/assetpipe/internal/metrics"
	"git.home.luguber.info/inful/assetpipe/internal/notify"
	"git.home.luguber.info/inful/assetpipe/internal/scheduler"
)

// Project is a fully wired builder plus the resources it holds open.
type Project struct {
	Builder   *build.Builder
	Scheduler *scheduler.Scheduler
	closers   []io.Closer
}

// Close releases the event sinks.
func (p *Project) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

// Setup wires metrics, event sinks, notifiers and the builder for cfg.
func Setup(cfg *config.Config) (*Project, error) {
	logger := slog.Default()
	p := &Project{}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	opts := []build.Option{build.WithLogger(logger)}
	if cfg.Server.Metrics {
		reg := metrics.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		opts = append(opts, build.WithMetricsHandler(metrics.HTTPHandler(reg)))
	}
	opts = append(opts, build.WithRecorder(recorder))

	emitter := events.NewEmitter(logger, events.LogSink{Logger: logger})
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			p.Close()
			return nil, err
		}
		emitter.Add(store)
		p.closers = append(p.closers, store)
	}
	if cfg.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			p.Close()
			return nil, err
		}
		emitter.Add(sink)
		p.closers = append(p.closers, sink)
	}
	opts = append(opts, build.WithEmitter(emitter))

	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	if cfg.Notify.Command != "" {
		notifiers = append(notifiers, notify.CommandNotifier{Command: cfg.Notify.Command, Logger: logger})
	}
	opts = append(opts, build.WithNotifier(notifiers))

	b, err := build.New(cfg, opts...)
	if err != nil {
		p.Close()
		return nil, err
	}
	s := scheduler.New(scheduler.WithLogger(logger), scheduler.WithRecorder(recorder))
	if err := b.RegisterTasks(s); err != nil {
		p.Close()
		return nil, err
	}
	p.Builder = b
	p.Scheduler = s
	return p, nil
}
