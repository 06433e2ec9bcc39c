package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTask       = "task"
	KeySequence   = "sequence"
	KeyStage      = "stage"
	KeyAsset      = "asset"
	KeyHash       = "hash"
	KeyPath       = "path"
	KeyBuildID    = "build_id"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Task(name string) slog.Attr      { return slog.String(KeyTask, name) }
func Sequence(s string) slog.Attr     { return slog.String(KeySequence, s) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Asset(p string) slog.Attr        { return slog.String(KeyAsset, p) }
func Hash(h string) slog.Attr         { return slog.String(KeyHash, h) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
