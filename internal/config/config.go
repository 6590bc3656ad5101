// Package config decodes pars and parsd config files. TOML is the native
// format; `.yaml` and `.yml` files are decoded as YAML with the same keys.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ptoml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrUnknownKey        = errors.New("config: unknown key")
)

// Defined reports whether a key path was present in the decoded file, so
// callers only override defaults the file actually sets.
type Defined func(key ...string) bool

// Load decodes path into out and reports which keys the file defined.
// Keys that out has no field for are rejected.
func Load(path string, out any) (Defined, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml", "", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if ext == ".yaml" || ext == ".yml" {
		return loadYAML(path, data, out)
	}
	return loadTOML(path, data, out)
}

func loadTOML(path string, data []byte, out any) (Defined, error) {
	meta, err := toml.Decode(string(data), out)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	// The strict pass only checks keys; decode into a scratch value.
	scratch := reflect.New(reflect.TypeOf(out).Elem()).Interface()
	strict := ptoml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := strict.Decode(scratch); err != nil {
		var missing *ptoml.StrictMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w (%s): %s", ErrUnknownKey, path, missing.String())
		}
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return meta.IsDefined, nil
}

func loadYAML(path string, data []byte, out any) (Defined, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return func(key ...string) bool {
		var node any = tree
		for _, k := range key {
			m, ok := node.(map[string]any)
			if !ok {
				return false
			}
			if node, ok = m[k]; !ok {
				return false
			}
		}
		return len(key) > 0
	}, nil
}

// Duration parses a duration value read from key.
func Duration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

// Strings trims every entry and drops empty ones.
func Strings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
