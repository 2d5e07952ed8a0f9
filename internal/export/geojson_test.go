package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier_grid/internal/domain"
	"courier_grid/internal/sim"
)

func sampleSnapshot() sim.Snapshot {
	return sim.Snapshot{
		Tick:  3,
		RunID: "run-1",
		Size:  5,
		Sites: []domain.Site{
			{Label: "H1", Kind: domain.SiteHospital, Cell: domain.Cell{X: 0, Y: 0}},
			{Label: "R1", Kind: domain.SiteRemote, Cell: domain.Cell{X: 4, Y: 4}},
		},
		Structures: []domain.Cell{{X: 2, Y: 0}, {X: 2, Y: 1}},
		Obstacles:  []domain.Obstacle{{ID: 1, Cell: domain.Cell{X: 3, Y: 3}, Dir: domain.DirLeft}},
		Agents: []domain.AgentView{{
			TaskID:      "T0001",
			Origin:      "H1",
			Destination: "R1",
			Cell:        domain.Cell{X: 1, Y: 0},
			Path:        []domain.Cell{{X: 1, Y: 1}, {X: 1, Y: 2}},
		}},
	}
}

func kinds(fc *geojson.FeatureCollection) map[string]int {
	out := map[string]int{}
	for _, f := range fc.Features {
		out[f.Properties["kind"].(string)]++
	}
	return out
}

func TestFeatureCollection(t *testing.T) {
	fc := FeatureCollection(sampleSnapshot())
	assert.Equal(t, map[string]int{
		"grid": 1, "structures": 1, "site": 2, "obstacle": 1, "agent": 1, "path": 1,
	}, kinds(fc))

	for _, f := range fc.Features {
		if f.Properties["kind"] == "path" {
			line, ok := f.Geometry.(orb.LineString)
			require.True(t, ok)
			assert.Equal(t, orb.LineString{{1, 0}, {1, 1}, {1, 2}}, line)
		}
	}
}

func TestWriteFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.geojson")
	require.NoError(t, WriteFile(path, sampleSnapshot()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Equal(t, 7, len(fc.Features))
	assert.Equal(t, map[string]int{
		"grid": 1, "structures": 1, "site": 2, "obstacle": 1, "agent": 1, "path": 1,
	}, kinds(fc))
}
