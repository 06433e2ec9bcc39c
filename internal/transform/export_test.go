package transform

import "github.com/evanw/esbuild/pkg/api"

func messageAt(line, col int) api.Message {
	return api.Message{Text: "x", Location: &api.Location{Line: line, Column: col}}
}
