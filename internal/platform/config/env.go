package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the dotenv path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// environment layers the value sources: explicit map, then process environment, then dotenv.
type environment struct {
	layers []map[string]string
}

func newEnvironment(options loaderOptions) (environment, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return environment{}, err
	}
	var env environment
	if options.envMap != nil {
		env.layers = append(env.layers, options.envMap)
	}
	if options.useSystemEnv {
		env.layers = append(env.layers, processEnv())
	}
	if dotenv != nil {
		env.layers = append(env.layers, dotenv)
	}
	return env, nil
}

func (e environment) lookup(key string) (string, bool) {
	for _, layer := range e.layers {
		if value, ok := layer[key]; ok {
			return value, true
		}
	}
	return "", false
}

// flatten returns the effective value of every key.
func (e environment) flatten() map[string]string {
	out := make(map[string]string)
	for i := len(e.layers) - 1; i >= 0; i-- {
		for key, value := range e.layers[i] {
			out[key] = value
		}
	}
	return out
}

// EnvironmentValues returns the merged key/value view Load reads from, so callers can build
// dependencies such as the secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	env, err := newEnvironment(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return env.flatten(), nil
}

func processEnv() map[string]string {
	values := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			values[key] = value
		}
	}
	return values
}

// readDotEnv parses KEY=VALUE lines. Comments, blank lines and an optional "export " prefix are
// accepted; surrounding quotes are stripped. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// reader converts raw values into typed settings. Values that fail to parse are recorded under
// their variable name and reported by Load instead of being replaced by the default.
type reader struct {
	env       environment
	malformed []string
}

func (r *reader) raw(key string) (string, bool) {
	value, ok := r.env.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *reader) str(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *reader) lower(key, fallback string) string {
	return strings.ToLower(r.str(key, fallback))
}

func (r *reader) integer(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return parsed
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return parsed
}

func (r *reader) boolean(key string, fallback bool) bool {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	r.malformed = append(r.malformed, key)
	return fallback
}

func (r *reader) list(key string) []string {
	value, _ := r.raw(key)
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs reads "name=value,name=value". Names are lower-cased; malformed entries are skipped.
func (r *reader) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range r.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}
