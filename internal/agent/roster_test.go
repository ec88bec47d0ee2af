package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProfiles(t *testing.T) {
	path := writeRoster(t, `
agents:
  - agent_id: 0
    user_name: alice
    name: Alice
    bio: posts about gardens
    activation_level: 0.4
  - agent_id: 1
    user_name: bob
    controllable: true
    activation: [0, 0, 0, 0, 0, 0, 0, 0, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0, 0]
`)

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}

	alice := profiles[0]
	if alice.UserName != "alice" || alice.Bio != "posts about gardens" {
		t.Errorf("alice = %+v", alice)
	}
	for h, v := range alice.ActivationThresholds {
		if v != 0.4 {
			t.Fatalf("alice hour %d threshold = %v, want 0.4 everywhere", h, v)
		}
	}

	bob := profiles[1]
	if !bob.Controllable {
		t.Error("bob not controllable")
	}
	if bob.ActivationThresholds[3] != 0 || bob.ActivationThresholds[12] != 0.9 {
		t.Errorf("bob thresholds = %v", bob.ActivationThresholds)
	}
	if !bob.ActiveAt(12, 0.5) || bob.ActiveAt(3, 0.0) {
		t.Error("ActiveAt does not follow the hourly thresholds")
	}
}

func TestLoadProfilesRejectsBadRosters(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty roster", "agents: []"},
		{"missing user_name", "agents:\n  - agent_id: 0\n"},
		{"duplicate agent_id", "agents:\n  - {agent_id: 0, user_name: a}\n  - {agent_id: 0, user_name: b}\n"},
		{"short activation list", "agents:\n  - {agent_id: 0, user_name: a, activation: [0.5, 0.5]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadProfiles(writeRoster(t, tt.body)); err == nil {
				t.Error("roster accepted")
			}
		})
	}
}
