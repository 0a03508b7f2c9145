package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFleetMissingFileReturnsEmptyFleet(t *testing.T) {
	fleet, err := LoadFleet(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Empty(t, fleet.UAVs)
}

func TestLoadFleetParsesSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	contents := `
uavs:
  - id: uav-1
    name: Scout One
    agent_mode: simulated
    home_lat: 37.77
    home_lon: -122.41
    home_alt: 50
  - id: uav-2
    name: Scout Two
    agent_mode: mavlink
    home_lat: 37.78
    home_lon: -122.42
    home_alt: 60
    connection:
      port: /dev/ttyUSB0
      baud_rate: 57600
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	fleet, err := LoadFleet(path)
	require.NoError(t, err)
	require.Len(t, fleet.UAVs, 2)
	require.Equal(t, "simulated", fleet.UAVs[0].AgentMode)
	require.Equal(t, "mavlink", fleet.UAVs[1].AgentMode)
	require.Equal(t, "/dev/ttyUSB0", fleet.UAVs[1].Connection.Port)
	require.Equal(t, 57600, fleet.UAVs[1].Connection.BaudRate)
}

func TestLoadFleetRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("uavs:\n  - name: no id\n"), 0o644))

	_, err := LoadFleet(path)
	require.Error(t, err)
}
