package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
	"git.home.luguber.info/inful/assetpipe/internal/pipeline"
)

// DefaultPath is the configuration file looked up when no --config is given.
const DefaultPath = "assetpipe.yaml"

// Config represents the application configuration.
type Config struct {
	SrcDir        string        `yaml:"src_dir"`
	DistDir       string        `yaml:"dist_dir"`
	Entry         string        `yaml:"entry"`
	ScriptsFolder string        `yaml:"scripts_folder"`
	CSSFolder     string        `yaml:"css_folder"`
	ImagesFolder  string        `yaml:"images_folder"`
	PackageFile   string        `yaml:"package_file"`
	HashLength    int           `yaml:"hash_length"`
	Debounce      time.Duration `yaml:"debounce"`
	Minify        *bool         `yaml:"minify,omitempty"`

	Lint     LintConfig     `yaml:"lint"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	History  HistoryConfig  `yaml:"history"`
	Events   EventsConfig   `yaml:"events"`
	Style    StyleConfig    `yaml:"style"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// LintConfig controls the lint task.
type LintConfig struct {
	FailOnError bool     `yaml:"fail_on_error"`
	Globs       []string `yaml:"globs,omitempty"`
}

// PipelineConfig holds ordered stage names per asset kind. Empty means the default order.
type PipelineConfig struct {
	Scripts []string `yaml:"scripts,omitempty"`
	Styles  []string `yaml:"styles,omitempty"`
}

// ServerConfig configures the preview server.
type ServerConfig struct {
	Port       int   `yaml:"port"`
	LiveReload *bool `yaml:"livereload,omitempty"`
	Metrics    bool  `yaml:"metrics"`
}

// HistoryConfig enables the sqlite build history when Path is set.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// EventsConfig enables NATS publishing when NATSURL is set.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// StyleConfig names the external Sass-compatible compiler.
type StyleConfig struct {
	Command string `yaml:"command,omitempty"`
}

// NotifyConfig names an optional desktop notifier command.
type NotifyConfig struct {
	Command string `yaml:"command,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the specified file. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	loadEnvFile()

	cfg := &Config{}
	data, err := os.ReadFile(configPath)
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Build()
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.WrapError(err, errors.CategoryConfig, "failed to parse config file").
				WithContext("path", configPath).
				WithRetry(errors.RetryUserAction).
				Build()
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SrcDir == "" {
		c.SrcDir = "./src"
	}
	if c.DistDir == "" {
		c.DistDir = "./dist"
	}
	if c.Entry == "" {
		c.Entry = "main.js"
	}
	if c.ScriptsFolder == "" {
		c.ScriptsFolder = "scripts"
	}
	if c.CSSFolder == "" {
		c.CSSFolder = "css"
	}
	if c.ImagesFolder == "" {
		c.ImagesFolder = "images"
	}
	if c.PackageFile == "" {
		c.PackageFile = "package.json"
	}
	if c.HashLength == 0 {
		c.HashLength = 8
	}
	if c.Debounce == 0 {
		c.Debounce = 100 * time.Millisecond
	}
	if c.Minify == nil {
		c.Minify = boolPtr(true)
	}
	if len(c.Lint.Globs) == 0 {
		c.Lint.Globs = []string{c.ScriptsFolder + "/**/*.{js,jsx,ts,tsx}"}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.LiveReload == nil {
		c.Server.LiveReload = boolPtr(true)
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "assetpipe.build"
	}
}

// Validate checks ranges and stage names.
func (c *Config) Validate() error {
	if c.HashLength < 4 || c.HashLength > 64 {
		return errors.ValidationError("hash_length must be between 4 and 64").
			WithContext("hash_length", c.HashLength).
			Build()
	}
	if c.Debounce < 0 {
		return errors.ValidationError("debounce must not be negative").
			WithContext("debounce", c.Debounce.String()).
			Build()
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.ValidationError("server.port out of range").
			WithContext("port", c.Server.Port).
			Build()
	}
	if filepath.IsAbs(c.Entry) {
		return errors.ValidationError("entry must be relative to the scripts folder").
			WithContext("entry", c.Entry).
			Build()
	}
	if filepath.Clean(c.SrcDir) == filepath.Clean(c.DistDir) {
		return errors.ValidationError("src_dir and dist_dir must differ").
			WithContext("dir", c.SrcDir).
			Build()
	}
	registry := pipeline.NewRegistry()
	for key, names := range map[string][]string{"pipeline.scripts": c.Pipeline.Scripts, "pipeline.styles": c.Pipeline.Styles} {
		if err := registry.Validate(names); err != nil {
			return errors.WrapError(err, errors.CategoryValidation, "invalid pipeline stages").
				WithContext("key", key).
				Build()
		}
	}
	return nil
}

// MinifyEnabled reports whether the minify stage is kept in default pipelines.
func (c *Config) MinifyEnabled() bool { return c.Minify == nil || *c.Minify }

// LiveReloadEnabled reports whether the preview server injects the reload client.
func (c *Config) LiveReloadEnabled() bool { return c.Server.LiveReload == nil || *c.Server.LiveReload }

// EntryPath is the path of the script entry under the script source folder.
func (c *Config) EntryPath() string { return filepath.Join(c.ScriptsSrc(), c.Entry) }

// ScriptsSrc is the script source folder.
func (c *Config) ScriptsSrc() string { return filepath.Join(c.SrcDir, c.ScriptsFolder) }

// CSSSrc is the style source folder.
func (c *Config) CSSSrc() string { return filepath.Join(c.SrcDir, c.CSSFolder) }

// ImagesSrc is the image source folder.
func (c *Config) ImagesSrc() string { return filepath.Join(c.SrcDir, c.ImagesFolder) }

// ScriptsDist is the script destination folder.
func (c *Config) ScriptsDist() string { return filepath.Join(c.DistDir, c.ScriptsFolder) }

// CSSDist is the style destination folder.
func (c *Config) CSSDist() string { return filepath.Join(c.DistDir, c.CSSFolder) }

// ImagesDist is the image destination folder.
func (c *Config) ImagesDist() string { return filepath.Join(c.DistDir, c.ImagesFolder) }

// ManifestPath is where the asset manifest is written after build-html.
func (c *Config) ManifestPath() string { return filepath.Join(c.DistDir, "asset-manifest.json") }

// ScriptStages returns the configured script stage order, dropping minify when disabled.
func (c *Config) ScriptStages() []string { return c.stages(c.Pipeline.Scripts) }

// StyleStages returns the configured style stage order, dropping minify when disabled.
func (c *Config) StyleStages() []string { return c.stages(c.Pipeline.Styles) }

func (c *Config) stages(names []string) []string {
	if len(names) == 0 {
		names = pipeline.DefaultOrder
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == pipeline.StageMinify && !c.MinifyEnabled() {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			WithRetry(errors.RetryUserAction).
			Build()
	}

	example := Default()
	example.Style.Command = "sass --stdin --no-source-map"
	example.Lint.Globs = nil

	data, err := yaml.Marshal(example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
