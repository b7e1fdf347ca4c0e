// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/citesearch/pkg/types"
)

const (
	// KeyDelimiter separates the parts of a nested key.
	KeyDelimiter = "::"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CITESEARCH"

	configName = "citesearch"
)

// Key joins key parts with KeyDelimiter, e.g. Key("log", "level").
func Key(parts ...string) string {
	return strings.Join(parts, KeyDelimiter)
}

var validate = validator.New()

// Option configures Load.
type Option func(*loader)

type loader struct {
	file      string
	paths     []string
	overrides [][2]any
	logger    *zap.Logger
}

// WithFile loads exactly this file. A missing or malformed file is an error.
func WithFile(path string) Option {
	return func(l *loader) { l.file = path }
}

// WithSearchPaths replaces the directories searched for citesearch.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(l *loader) { l.paths = paths }
}

// WithOverride sets key above every other source. The CLI uses it for flags
// the user passed explicitly.
func WithOverride(key string, value any) Option {
	return func(l *loader) { l.overrides = append(l.overrides, [2]any{key, value}) }
}

// WithLogger sets the logger used to report which file was read.
func WithLogger(logger *zap.Logger) Option {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// DefaultSearchPaths returns the working directory and ~/.config/citesearch.
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", configName))
	}
	return paths
}

// Load builds the effective configuration and returns it together with the
// config file that was used ("" when none was found).
func Load(opts ...Option) (types.Config, string, error) {
	l := &loader{paths: DefaultSearchPaths(), logger: zap.NewNop()}
	for _, o := range opts {
		o(l)
	}
	log := l.logger.Named("config")

	v := viper.NewWithOptions(viper.KeyDelimiter(KeyDelimiter))
	v.SetConfigType("yaml")

	base, err := yaml.Marshal(types.DefaultConfig())
	if err != nil {
		return types.Config{}, "", fmt.Errorf("encoding defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return types.Config{}, "", fmt.Errorf("reading defaults: %w", err)
	}

	if l.file != "" {
		v.SetConfigFile(l.file)
	} else {
		v.SetConfigName(configName)
		for _, p := range l.paths {
			v.AddConfigPath(p)
		}
	}

	used := ""
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.file != "" || !errors.As(err, &notFound) {
			return types.Config{}, "", fmt.Errorf("%w: %w", ErrConfigFile, err)
		}
	} else {
		used = v.ConfigFileUsed()
		log.Debug("using config file", zap.String("path", used))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(KeyDelimiter, "_"))
	v.AutomaticEnv()

	for _, kv := range l.overrides {
		v.Set(kv[0].(string), kv[1])
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, used, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return types.Config{}, used, err
	}
	return cfg, used, nil
}

// Validate checks field constraints and the cross-field rules the struct
// tags cannot express.
func Validate(cfg types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return newValidationError(verrs)
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	fields := map[string]string{}
	for _, name := range cfg.Selection.StageOrder {
		if _, ok := types.ParseStage(name); !ok {
			fields["Config.Selection.StageOrder"] = fmt.Sprintf("unknown stage %q in selection stage order", name)
		}
	}
	seen := map[string]bool{}
	for _, p := range cfg.Providers {
		if seen[p.Name] {
			fields["Config.Providers."+p.Name] = fmt.Sprintf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}
	for host, cred := range cfg.Classifier.Rules.Authority {
		if _, ok := types.ParseCredibility(cred); !ok {
			fields["Config.Classifier.Rules.Authority."+host] = fmt.Sprintf("unknown credibility %q for %s", cred, host)
		}
	}
	if cfg.Cache.Backend != "" && cfg.Cache.Backend != "memory" && cfg.Cache.Backend != "none" && cfg.Cache.Path == "" {
		fields["Config.Cache.Path"] = fmt.Sprintf("cache backend %s needs a path", cfg.Cache.Backend)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Marshal renders cfg as YAML in the same shape Load reads.
func Marshal(cfg types.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
