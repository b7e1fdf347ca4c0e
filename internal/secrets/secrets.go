// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets resolves provider API keys.
//
// Keys come from three places, in order: the key inlined in the provider
// config, a file in the secrets directory named by api_key_secret (the
// filename is the key name and the trimmed contents are the value), and the
// environment variable CITESEARCH_<NAME>_API_KEY. LoadEnv reads .env files
// into the environment first so the last source also covers local setups.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pdiddy/citesearch/pkg/types"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, logger *zap.Logger) (map[string]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are skipped; with no
// arguments ".env" in the working directory is tried.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// EnvName returns the environment variable consulted for a provider's key.
func EnvName(provider string) string {
	n := strings.ToUpper(provider)
	n = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, n)
	return "CITESEARCH_" + n + "_API_KEY"
}

// Resolve returns the API key for every provider that has one, keyed by
// provider name.
func Resolve(providers []types.ProviderConfig, files map[string]string) map[string]string {
	keys := make(map[string]string, len(providers))
	for _, p := range providers {
		switch {
		case p.APIKey != "":
			keys[p.Name] = p.APIKey
		case p.APIKeySecret != "" && files[p.APIKeySecret] != "":
			keys[p.Name] = files[p.APIKeySecret]
		default:
			if v := strings.TrimSpace(os.Getenv(EnvName(p.Name))); v != "" {
				keys[p.Name] = v
			}
		}
	}
	return keys
}
