package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
)

// Read reads and validates a configuration file. Environment variables are expanded across the
// whole file before it is parsed.
func Read(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %q", path)
	}

	cfg, err := decode(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %q", path)
	}
	cfg.ConfigFilePath = path
	return cfg, nil
}

// FromReader expands environment variables in the content of r, then decodes and validates it.
func FromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config")
	}
	buf, err := envsubst.Bytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "cannot expand environment variables in config")
	}
	return decode(buf)
}

func decode(buf []byte) (*Config, error) {
	var cfg Config
	if err := json.NewDecoder(bytes.NewReader(buf)).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config as json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
