package producescenes

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

var (
	// ErrInvalidDefinition is returned for definitions that cannot produce a scene.
	ErrInvalidDefinition = errors.New("invalid scene definition")
)

// Definition describes one scene: a receptor grid released at one time, the meteorology
// to run against, and the configs every receptor is simulated with.
type Definition struct {
	Grid             core.Grid               `json:"grid" yaml:"grid"`
	ZAGL             float64                 `json:"zagl" yaml:"zagl"`
	RunTime          *time.Time              `json:"run_time,omitempty" yaml:"run_time,omitempty"`
	MeteorologyModel string                  `json:"meteorology_model" yaml:"meteorology_model"`
	Configs          []core.ConfigParameters `json:"configs" yaml:"configs"`
}

// Resolve fills in defaults: a missing run time becomes the current hour.
func (d Definition) Resolve(now time.Time) Definition {
	if d.RunTime == nil {
		runTime := core.FloorHour(now.UTC())
		d.RunTime = &runTime
	} else {
		runTime := d.RunTime.UTC()
		d.RunTime = &runTime
	}

	return d
}

// Validate returns ErrInvalidDefinition describing the first problem found.
func (d Definition) Validate() error {
	if err := d.Grid.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if d.MeteorologyModel == "" {
		return fmt.Errorf("%w: meteorology_model is required", ErrInvalidDefinition)
	}

	if len(d.Configs) == 0 {
		return fmt.Errorf("%w: at least one config is required", ErrInvalidDefinition)
	}

	for i, c := range d.Configs {
		if c.NHours == 0 {
			return fmt.Errorf("%w: config %d: n_hours must not be zero", ErrInvalidDefinition, i)
		}
		if c.Footprint.XRes <= 0 || c.Footprint.YRes <= 0 {
			return fmt.Errorf("%w: config %d: footprint resolution must be positive", ErrInvalidDefinition, i)
		}
	}

	return nil
}

// NaturalKey is the SHA-256 of the definition's canonical JSON. Resolve the definition first,
// otherwise the key changes with the hour it is computed in.
func (d Definition) NaturalKey() (string, error) {
	canonical, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(d)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:]), nil
}

// ParseDefinition decodes one YAML definition.
func ParseDefinition(data []byte) (Definition, error) {
	var d Definition

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&d); err != nil {
		return Definition{}, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return d, nil
}

// LoadDefinitions reads every *.yaml and *.yml file in dir, in name order.
func LoadDefinitions(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	definitions := make([]Definition, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}

		d, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		definitions = append(definitions, d)
	}

	return definitions, nil
}
