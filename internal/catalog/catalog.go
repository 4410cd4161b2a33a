// Package catalog loads product, step, and document-type definitions from
// YAML files and provides a fast-lookup registry with atomic pointer swap.
// The registry is the single place where the product/step relation is
// resolved; callers always receive fully joined, ordered step lists.
package catalog

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "48h".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses a scalar duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Definition is one YAML catalog file: a product family with its steps and
// the document types those steps require.
type Definition struct {
	Products      []Product      `yaml:"products"`
	Steps         []Step         `yaml:"steps"`
	DocumentTypes []DocumentType `yaml:"document_types"`

	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// Product is a sellable offering whose purchase creates a dossier.
type Product struct {
	ID    string        `yaml:"id"`
	Label string        `yaml:"label"`
	Steps []ProductStep `yaml:"steps"`
}

// ProductStep binds a catalog step into a product's ordered sequence.
// DossierStatusOnApproval, when set, is the dossier status written by the
// state machine when this step's instance is approved.
type ProductStep struct {
	StepCode                string `yaml:"step_code"`
	Position                int    `yaml:"position"`
	DossierStatusOnApproval string `yaml:"dossier_status_on_approval"`
}

// Step is a catalog step definition. Immutable once referenced by live
// instances except for label and position edits.
type Step struct {
	Code          string        `yaml:"code"`
	Label         string        `yaml:"label"`
	Type          string        `yaml:"type"`
	Position      int           `yaml:"position"`
	FormationID   string        `yaml:"formation_id"`
	TimerDelay    Duration      `yaml:"timer_delay"`
	DocumentTypes []string      `yaml:"document_types"`
	Fields        []StepField   `yaml:"fields"`
}

// StepField defines one data field a client fills on a CLIENT step.
type StepField struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label"`
	Kind     string `yaml:"kind"`
	Required bool   `yaml:"required"`
}

// DocumentType constrains uploads for a logical document slot.
type DocumentType struct {
	ID                string   `yaml:"id"`
	Label             string   `yaml:"label"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxFileSizeMB     int      `yaml:"max_file_size_mb"`
}
