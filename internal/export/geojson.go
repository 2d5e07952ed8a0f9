// Package export renders simulation snapshots as GeoJSON in grid coordinates
// (x to the right, y down, one unit per cell).
package export

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"courier_grid/internal/domain"
	"courier_grid/internal/sim"
)

func point(c domain.Cell) orb.Point {
	return orb.Point{float64(c.X), float64(c.Y)}
}

func FeatureCollection(s sim.Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	n := float64(s.Size)

	bounds := geojson.NewFeature(orb.Polygon{orb.Ring{{0, 0}, {n, 0}, {n, n}, {0, n}, {0, 0}}})
	bounds.Properties["kind"] = "grid"
	bounds.Properties["size"] = s.Size
	bounds.Properties["tick"] = s.Tick
	bounds.Properties["run_id"] = s.RunID
	fc.Append(bounds)

	if len(s.Structures) > 0 {
		mp := make(orb.MultiPoint, 0, len(s.Structures))
		for _, c := range s.Structures {
			mp = append(mp, point(c))
		}
		f := geojson.NewFeature(mp)
		f.Properties["kind"] = "structures"
		fc.Append(f)
	}

	for _, site := range s.Sites {
		f := geojson.NewFeature(point(site.Cell))
		f.Properties["kind"] = "site"
		f.Properties["label"] = site.Label
		f.Properties["site_kind"] = string(site.Kind)
		fc.Append(f)
	}

	for _, o := range s.Obstacles {
		f := geojson.NewFeature(point(o.Cell))
		f.Properties["kind"] = "obstacle"
		f.Properties["id"] = o.ID
		f.Properties["over_site"] = o.OverSite
		f.Properties["heading"] = []int{o.Dir.DX, o.Dir.DY}
		fc.Append(f)
	}

	for _, a := range s.Agents {
		f := geojson.NewFeature(point(a.Cell))
		f.Properties["kind"] = "agent"
		f.Properties["task_id"] = a.TaskID
		f.Properties["origin"] = a.Origin
		f.Properties["destination"] = a.Destination
		f.Properties["cargo"] = a.Cargo
		f.Properties["interval"] = a.Interval
		f.Properties["replans"] = a.Replans
		fc.Append(f)

		if len(a.Path) == 0 {
			continue
		}
		line := make(orb.LineString, 0, len(a.Path)+1)
		line = append(line, point(a.Cell))
		for _, c := range a.Path {
			line = append(line, point(c))
		}
		pf := geojson.NewFeature(line)
		pf.Properties["kind"] = "path"
		pf.Properties["task_id"] = a.TaskID
		fc.Append(pf)
	}
	return fc
}

func Marshal(s sim.Snapshot) ([]byte, error) {
	data, err := FeatureCollection(s).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal geojson: %w", err)
	}
	return data, nil
}

func WriteFile(path string, s sim.Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson %s: %w", path, err)
	}
	return nil
}
