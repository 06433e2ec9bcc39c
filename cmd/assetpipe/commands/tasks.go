package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"git.home.luguber.info/inful/assetpipe/internal/build"
	"git.home.luguber.info/inful/assetpipe/internal/scheduler"
)

// TasksCmd implements the 'tasks' command.
type TasksCmd struct {
	Order bool `help:"List tasks in dependency order instead of by name"`
}

func (t *TasksCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	b, err := build.New(cfg)
	if err != nil {
		return err
	}
	s := scheduler.New()
	if err := b.RegisterTasks(s); err != nil {
		return err
	}

	tasks := s.Tasks()
	if t.Order {
		names, err := s.Order()
		if err != nil {
			return err
		}
		byName := make(map[string]scheduler.Task, len(tasks))
		for _, task := range tasks {
			byName[task.Name] = task
		}
		tasks = tasks[:0]
		for _, n := range names {
			tasks = append(tasks, byName[n])
		}
	}

	w := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	for _, task := range tasks {
		detail := task.Description
		var refs []string
		if len(task.Deps) > 0 {
			refs = append(refs, "deps: "+strings.Join(task.Deps, ", "))
		}
		if len(task.Steps) > 0 {
			steps := make([]string, len(task.Steps))
			for i, st := range task.Steps {
				steps[i] = st.String()
			}
			refs = append(refs, "steps: "+strings.Join(steps, " -> "))
		}
		if len(refs) > 0 {
			detail += " (" + strings.Join(refs, "; ") + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", task.Name, detail)
	}
	return w.Flush()
}
