package relay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/relay/go/internal/models"
)

type rosterFile struct {
	Anchor  time.Time `yaml:"anchor"`
	Runners []struct {
		ID   int           `yaml:"id"`
		Name string        `yaml:"name"`
		Pace time.Duration `yaml:"pace"`
		Van  int           `yaml:"van"`
	} `yaml:"runners"`
	Legs []struct {
		ID           int            `yaml:"id"`
		RunnerID     int            `yaml:"runner_id"`
		Distance     float64        `yaml:"distance"`
		PaceOverride *time.Duration `yaml:"pace_override"`
	} `yaml:"legs"`
}

// LoadSeed reads a roster file: the race anchor, runners with their pace per
// distance unit, and the legs in running order.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to read roster: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (Seed, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Seed{}, fmt.Errorf("failed to parse roster: %w", err)
	}

	seed := Seed{Anchor: f.Anchor.UTC()}
	for _, r := range f.Runners {
		runner := models.Runner{ID: r.ID, Name: r.Name, Pace: r.Pace, Van: r.Van}
		if err := runner.Validate(); err != nil {
			return Seed{}, err
		}
		seed.Runners = append(seed.Runners, runner)
	}
	for _, l := range f.Legs {
		leg := models.Leg{ID: l.ID, RunnerID: l.RunnerID, Distance: l.Distance, PaceOverride: l.PaceOverride}
		if err := leg.Validate(); err != nil {
			return Seed{}, err
		}
		seed.Legs = append(seed.Legs, leg)
	}
	return seed, nil
}
