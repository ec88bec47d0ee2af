package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rosterFile struct {
	Agents []rosterEntry `yaml:"agents"`
}

type rosterEntry struct {
	Profile `yaml:",inline"`
	// Activation is either a full 24-hour threshold list or omitted in
	// favor of ActivationLevel.
	Activation []float64 `yaml:"activation"`
	// ActivationLevel applies one threshold to every hour.
	ActivationLevel float64 `yaml:"activation_level"`
}

// LoadProfiles reads an agent roster from a YAML file.
//
// Each entry carries persona fields plus either a 24-entry "activation" list
// (per-hour thresholds) or a scalar "activation_level" applied to all hours.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var roster rosterFile
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(roster.Agents) == 0 {
		return nil, fmt.Errorf("roster %s lists no agents", path)
	}

	seen := make(map[int64]bool, len(roster.Agents))
	profiles := make([]Profile, 0, len(roster.Agents))
	for i, entry := range roster.Agents {
		p := entry.Profile
		if p.UserName == "" {
			return nil, fmt.Errorf("roster agent %d: user_name is required", i)
		}
		if seen[p.AgentID] {
			return nil, fmt.Errorf("roster agent %d: duplicate agent_id %d", i, p.AgentID)
		}
		seen[p.AgentID] = true

		switch {
		case len(entry.Activation) == 24:
			for h, v := range entry.Activation {
				p.ActivationThresholds[h] = v
			}
		case len(entry.Activation) != 0:
			return nil, fmt.Errorf("roster agent %d: activation needs 24 entries, got %d", i, len(entry.Activation))
		default:
			for h := range p.ActivationThresholds {
				p.ActivationThresholds[h] = entry.ActivationLevel
			}
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
