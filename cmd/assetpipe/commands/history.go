package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/assetpipe/internal/events"
	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int           `short:"n" help:"Number of events to show" default:"20"`
	Kind  string        `help:"Only show events of this kind"`
	Since time.Duration `help:"Only show events newer than this duration, e.g. 1h"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return errors.ConfigError("build history is disabled; set history.path").
			WithRetry(errors.RetryUserAction).
			Build()
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	q := history.Query{Limit: h.Limit, Kind: events.Kind(h.Kind)}
	if h.Since > 0 {
		q.Since = time.Now().Add(-h.Since)
	}
	evs, err := store.Recent(g.ctx(), q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	for _, ev := range evs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ev.At.Local().Format(time.DateTime), ev.Kind, ev.Task, ev.Path, ev.Message)
	}
	return w.Flush()
}
