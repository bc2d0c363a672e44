package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	json "github.com/goccy/go-json"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", errors.Errorf("unknown config format of %s", path)
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Options, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Options{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Options{}, errors.Wrap(err, "opening config")
	}
	defer f.Close()

	opts, err := Decode(f, format)
	if err != nil {
		return Options{}, errors.Wrapf(err, "loading %s", path)
	}
	return opts, nil
}

// Decode reads r over the defaults and validates the result.
func Decode(r io.Reader, format Format) (Options, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Options{}, errors.Wrap(err, "failed to read config")
	}

	switch format {
	case FormatJSON:
	case FormatTOML:
		m := make(map[string]any)
		if err := toml.Unmarshal(raw, &m); err != nil {
			return Options{}, errors.Wrap(err, "failed to convert toml to map")
		}
		if raw, err = json.Marshal(m); err != nil {
			return Options{}, errors.Wrap(err, "failed to convert map to json")
		}
	case FormatYAML:
		if raw, err = yaml.YAMLToJSON(raw); err != nil {
			return Options{}, errors.Wrap(err, "failed to convert yaml to json")
		}
	default:
		return Options{}, errors.Errorf("unknown config format %q", format)
	}

	opts := Default()

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return Options{}, errors.Wrap(err, "failed to decode config")
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
