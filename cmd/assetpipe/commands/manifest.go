package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// ManifestCmd implements the 'manifest' command.
type ManifestCmd struct {
	JSON bool `name:"json" help:"Print the raw manifest file"`
}

func (m *ManifestCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	path := cfg.ManifestPath()
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundError("no asset manifest; run a build first").
				WithContext("path", path).
				WithRetry(errors.RetryUserAction).
				Build()
		}
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to read asset manifest").
			WithContext("path", path).
			Build()
	}
	if m.JSON {
		_, err := g.out().Write(data)
		return err
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "invalid asset manifest").
			WithContext("path", path).
			Build()
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(g.out(), "%s -> %s\n", k, entries[k]); err != nil {
			return err
		}
	}
	return nil
}
