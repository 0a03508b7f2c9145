package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UAVSeed describes one fleet vehicle to bootstrap the registry with
// at startup.
type UAVSeed struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	AgentMode string  `yaml:"agent_mode"` // "simulated" or "mavlink"
	HomeLat   float64 `yaml:"home_lat"`
	HomeLon   float64 `yaml:"home_lon"`
	HomeAlt   float64 `yaml:"home_alt"`

	// Connection is only read when AgentMode is "mavlink".
	Connection MAVLinkConnection `yaml:"connection"`
}

// MAVLinkConnection holds the serial link parameters for a real vehicle.
type MAVLinkConnection struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// NoFlyZoneSeed is a circular exclusion area transit routes avoid.
type NoFlyZoneSeed struct {
	Lat          float64 `yaml:"lat"`
	Lon          float64 `yaml:"lon"`
	RadiusMeters float64 `yaml:"radius_m"`
}

// Fleet is the parsed contents of the fleet seed file.
type Fleet struct {
	UAVs       []UAVSeed       `yaml:"uavs"`
	NoFlyZones []NoFlyZoneSeed `yaml:"no_fly_zones"`
}

// LoadFleet reads and parses the fleet seed YAML at path. A missing
// file is not an error: the registry simply starts empty and UAVs can
// be registered later by an operator call, so callers should treat a
// file-not-found os.IsNotExist the same as an empty Fleet.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Fleet{}, nil
		}
		return nil, fmt.Errorf("read fleet seed: %w", err)
	}

	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("parse fleet seed: %w", err)
	}
	for _, u := range fleet.UAVs {
		if u.ID == "" {
			return nil, fmt.Errorf("fleet seed entry missing id")
		}
	}
	return &fleet, nil
}
