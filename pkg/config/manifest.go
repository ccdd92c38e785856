package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/freq"
	"github.com/challengectl/challengectl/pkg/types"
)

// Manifest is the declarative challenge catalog. It is the reload input:
// entries are upserted by name, and challenges absent from the manifest are
// left untouched.
type Manifest struct {
	Challenges []ChallengeSpec `yaml:"challenges"`
}

// ChallengeSpec is one challenge definition in a manifest
type ChallengeSpec struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Modulation  string            `yaml:"modulation"`
	Frequency   string            `yaml:"frequency"`
	Files       []FileSpec        `yaml:"files"`
	MinDelay    Duration          `yaml:"min_delay"`
	MaxDelay    Duration          `yaml:"max_delay"`
	Priority    int               `yaml:"priority"`
	Enabled     *bool             `yaml:"enabled"`
	PublicView  bool              `yaml:"public_view"`
	Params      map[string]string `yaml:"params"`
}

// FileSpec references a payload file. With a digest the runner fetches it
// from the controller; without one the name is a runner-local path.
type FileSpec struct {
	Name   string `yaml:"name"`
	Digest string `yaml:"digest"`
}

// ParseManifest parses and validates manifest YAML
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.Challenges) == 0 {
		return nil, fmt.Errorf("manifest defines no challenges")
	}

	seen := make(map[string]bool, len(m.Challenges))
	for i := range m.Challenges {
		cs := &m.Challenges[i]
		if err := cs.Validate(); err != nil {
			return nil, fmt.Errorf("challenge %q: %w", cs.Name, err)
		}
		if seen[cs.Name] {
			return nil, fmt.Errorf("duplicate challenge name %q", cs.Name)
		}
		seen[cs.Name] = true
	}
	return &m, nil
}

// LoadManifest reads a manifest file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Validate checks a single challenge spec
func (cs ChallengeSpec) Validate() error {
	if cs.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cs.Modulation == "" {
		return fmt.Errorf("modulation is required")
	}
	if _, err := freq.Parse(cs.Frequency); err != nil {
		return err
	}
	if cs.MinDelay < 0 || cs.MaxDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if cs.MaxDelay < cs.MinDelay {
		return fmt.Errorf("max_delay %s is below min_delay %s", cs.MaxDelay.Std(), cs.MinDelay.Std())
	}
	for _, f := range cs.Files {
		if f.Name == "" {
			return fmt.Errorf("file name is required")
		}
		if f.Digest != "" {
			if _, err := blob.ParseDigest(f.Digest); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsEnabled returns the enabled flag, defaulting to true
func (cs ChallengeSpec) IsEnabled() bool {
	return cs.Enabled == nil || *cs.Enabled
}

// ToChallenge builds a challenge template from the spec. Identity and
// dispatch state are filled by the reload operation.
func (cs ChallengeSpec) ToChallenge() (*types.Challenge, error) {
	set, err := freq.Parse(cs.Frequency)
	if err != nil {
		return nil, err
	}

	files := make([]types.FileRef, 0, len(cs.Files))
	for _, f := range cs.Files {
		files = append(files, types.FileRef{Name: f.Name, Digest: f.Digest})
	}

	return &types.Challenge{
		Name:        cs.Name,
		Description: cs.Description,
		Modulation:  cs.Modulation,
		Params:      cs.Params,
		Frequencies: set,
		Files:       files,
		MinDelay:    cs.MinDelay.Std(),
		MaxDelay:    cs.MaxDelay.Std(),
		Priority:    cs.Priority,
		Enabled:     cs.IsEnabled(),
		PublicView:  cs.PublicView,
	}, nil
}
