package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/simonwaldherr/openmapd/internal/osm"
)

func TestShapefileWriter_WritePointsAndLines(t *testing.T) {
	w := NewShapefileWriter()

	w.Add(osm.Element{Kind: osm.KindNode, NodeVal: &osm.Node{ID: 1, Lat: 10.0, Lon: 20.0}})
	w.Add(osm.Element{Kind: osm.KindNode, NodeVal: &osm.Node{ID: 2, Lat: 10.5, Lon: 20.5}})
	w.Add(osm.Element{Kind: osm.KindNode, NodeVal: &osm.Node{ID: 3, Lat: 11.0, Lon: 21.0}})
	w.Add(osm.Element{Kind: osm.KindWay, WayVal: &osm.Way{ID: 100, NodeIDs: []int64{1, 2, 3}}})
	// A relation carries no direct geometry and must be silently ignored.
	w.Add(osm.Element{Kind: osm.KindRelation, RelVal: &osm.Relation{ID: 7}})

	dir := t.TempDir()
	pointsPath := filepath.Join(dir, "nodes.shp")
	linesPath := filepath.Join(dir, "ways.shp")

	if err := w.WritePoints(pointsPath); err != nil {
		t.Fatalf("WritePoints: %v", err)
	}
	if err := w.WriteLines(linesPath); err != nil {
		t.Fatalf("WriteLines: %v", err)
	}

	for _, base := range []string{"nodes", "ways"} {
		for _, ext := range []string{".shp", ".shx", ".dbf"} {
			p := filepath.Join(dir, base+ext)
			if _, err := os.Stat(p); err != nil {
				t.Fatalf("expected %s to exist: %v", p, err)
			}
		}
	}
}

func TestShapefileWriter_WayWithMissingNodeRefsIsDropped(t *testing.T) {
	w := NewShapefileWriter()
	w.Add(osm.Element{Kind: osm.KindNode, NodeVal: &osm.Node{ID: 1, Lat: 1, Lon: 1}})
	// Way references node 2, which was never added (e.g. SkipNodes was set).
	w.Add(osm.Element{Kind: osm.KindWay, WayVal: &osm.Way{ID: 5, NodeIDs: []int64{1, 2}}})

	dir := t.TempDir()
	path := filepath.Join(dir, "ways.shp")
	if err := w.WriteLines(path); err != nil {
		t.Fatalf("WriteLines: %v", err)
	}
	// A single resolvable point is not enough to form a line; the way is
	// skipped but WriteLines must still succeed.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist even with zero lines written: %v", path, err)
	}
}

func TestShapefileWriter_NodeOverwriteKeepsLatestByID(t *testing.T) {
	w := NewShapefileWriter()
	w.Add(osm.Element{Kind: osm.KindNode, NodeVal: &osm.Node{ID: 1, Lat: 1, Lon: 1}})
	w.Add(osm.Element{Kind: osm.KindNode, NodeVal: &osm.Node{ID: 1, Lat: 2, Lon: 2}})

	if len(w.nodeIDs) != 1 {
		t.Fatalf("nodeIDs = %v, want a single deduplicated id", w.nodeIDs)
	}
	if got := w.nodes[1]; got.Lat != 2 || got.Lon != 2 {
		t.Fatalf("node 1 = %+v, want the later write to win", got)
	}
}
