package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Loader builds a T from three layers, later ones winning: `default` tags, environment
// variables, then the optional YAML file. The file is the layer Reloader re-reads, so
// what it sets can change at runtime; keys it omits keep their env or default value.
type Loader[T any] struct {
	envPrefix string
	path      string
	validate  *validator.Validate
}

func NewLoader[T any](envPrefix, path string) *Loader[T] {
	return &Loader[T]{envPrefix: envPrefix, path: path, validate: validator.New()}
}

func (l *Loader[T]) Path() string { return l.path }

// Load returns a validated snapshot. A missing file is an empty overlay; an unknown
// key in it is an error, so typos do not silently fall back to defaults.
func (l *Loader[T]) Load() (*T, error) {
	var cfg T
	if err := envconfig.Process(l.envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := l.overlay(&cfg); err != nil {
		return nil, err
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func (l *Loader[T]) overlay(cfg *T) error {
	if l.path == "" {
		return nil
	}
	f, err := os.Open(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("config: open %s: %w", l.path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode %s: %w", l.path, err)
	}
	return nil
}
