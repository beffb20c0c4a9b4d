package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Profile is a named preset of transport and sampling settings, loaded
// from ~/.arbor/profiles.yaml or the file given with --profiles-file.
type Profile struct {
	Transport   string   `yaml:"transport"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	MaxTokens   *int     `yaml:"max_tokens"`
	Stop        []string `yaml:"stop"`
	System      string   `yaml:"system"`
}

func loadProfiles(path string) (map[string]Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	profiles := map[string]Profile{}
	if err := yaml.Unmarshal(b, &profiles); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return profiles, nil
}
