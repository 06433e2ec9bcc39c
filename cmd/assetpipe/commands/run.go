package commands

import (
	"log/slog"

	"git.home.luguber.info/inful/assetpipe/internal/build"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Tasks []string `arg:"" optional:"" help:"Tasks to run in order (default: default)"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	p, err := Setup(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	tasks := r.Tasks
	if len(tasks) == 0 {
		tasks = []string{build.TaskDefault}
	}
	ctx := g.ctx()
	slog.Info("Running tasks", "tasks", tasks, "src", cfg.SrcDir, "dist", cfg.DistDir)

	err = p.Scheduler.RunTasks(ctx, tasks...)
	if err == nil {
		// Keep serving until interrupted when a task started the preview server.
		err = p.Builder.Wait()
	}
	if err != nil && ctx.Err() != nil {
		slog.Info("Interrupted", "error", err)
		return nil
	}
	return err
}
