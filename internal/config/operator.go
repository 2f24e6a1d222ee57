package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/meridianlabs/meridian/internal/model"
)

// OperatorFile is the optional YAML configuration an operator can supply to
// override the milestone ladder and per-kind rank multipliers.
//
//	milestones:
//	  - threshold: "100000"
//	    label: first-hundred-k
//	kind_multipliers:
//	  affiliate: 1.2
//	  research: 0.8
type OperatorFile struct {
	Milestones []operatorMilestone `yaml:"milestones"`
	// KindMultipliers scale the composite rank score per opportunity kind.
	// Kinds not listed default to 1.0.
	KindMultipliers map[string]float64 `yaml:"kind_multipliers"`
}

type operatorMilestone struct {
	Threshold string `yaml:"threshold"` // Dollar amount, e.g. "100000" or "100000.00".
	Label     string `yaml:"label"`
}

// LoadOperatorFile parses the YAML operator file at path. Returns the default
// milestone ladder and empty multipliers when path is empty.
func LoadOperatorFile(path string) ([]model.Milestone, map[model.OpportunityKind]float64, error) {
	if path == "" {
		return model.DefaultMilestones(), nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read operator file: %w", err)
	}
	var f OperatorFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("config: parse operator file: %w", err)
	}

	milestones := model.DefaultMilestones()
	if len(f.Milestones) > 0 {
		milestones = make([]model.Milestone, 0, len(f.Milestones))
		for _, m := range f.Milestones {
			threshold, err := model.ParseAmount(m.Threshold)
			if err != nil {
				return nil, nil, fmt.Errorf("config: milestone %q: %w", m.Label, err)
			}
			if threshold <= 0 {
				return nil, nil, fmt.Errorf("config: milestone %q: threshold must be positive", m.Label)
			}
			if m.Label == "" {
				return nil, nil, fmt.Errorf("config: milestone with threshold %s has no label", threshold)
			}
			milestones = append(milestones, model.Milestone{Threshold: threshold, Label: m.Label})
		}
		sort.Slice(milestones, func(i, j int) bool {
			return milestones[i].Threshold < milestones[j].Threshold
		})
	}

	var multipliers map[model.OpportunityKind]float64
	if len(f.KindMultipliers) > 0 {
		multipliers = make(map[model.OpportunityKind]float64, len(f.KindMultipliers))
		for kind, mult := range f.KindMultipliers {
			if mult <= 0 {
				return nil, nil, fmt.Errorf("config: kind multiplier for %q must be positive", kind)
			}
			multipliers[model.OpportunityKind(kind)] = mult
		}
	}

	return milestones, multipliers, nil
}
