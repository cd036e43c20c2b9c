// Package export turns decoded osm.Element values into a standard GIS
// interchange format using github.com/jonas-p/go-shp, the teacher's own
// geospatial dependency (internal/importer/shapefile.go).
package export

import (
	"fmt"
	"sort"

	shp "github.com/jonas-p/go-shp"

	"github.com/simonwaldherr/openmapd/internal/osm"
)

// ShapefileWriter accumulates decoded nodes and ways and flushes them as a
// point shapefile and a polyline shapefile. It is not safe for concurrent
// use; callers feeding it from an osm.Reader callback must serialize calls
// (the reader already invokes OnOSMElement from a single worker at a time
// per queue, so a mutex at the call site is the caller's responsibility).
type ShapefileWriter struct {
	nodeIDs []int64
	nodes   map[int64]osm.Node
	ways    []osm.Way
}

// NewShapefileWriter returns an empty writer.
func NewShapefileWriter() *ShapefileWriter {
	return &ShapefileWriter{nodes: make(map[int64]osm.Node)}
}

// Add consumes one decoded element, recording it as a point (Node) or
// polyline (Way) candidate. FileHeader and Relation elements have no direct
// shapefile geometry and are ignored, matching the teacher's shape-switch
// default case in ImportShapefile.
func (w *ShapefileWriter) Add(e osm.Element) {
	switch e.Kind {
	case osm.KindNode:
		n := *e.NodeVal
		if _, seen := w.nodes[n.ID]; !seen {
			w.nodeIDs = append(w.nodeIDs, n.ID)
		}
		w.nodes[n.ID] = n
	case osm.KindWay:
		w.ways = append(w.ways, *e.WayVal)
	}
}

// WritePoints writes every recorded node as a *shp.Point with a single
// numeric attribute column "id", sorted by node id for deterministic output.
func (w *ShapefileWriter) WritePoints(path string) error {
	sw, err := shp.Create(path, shp.POINT)
	if err != nil {
		return fmt.Errorf("export: create point shapefile %s: %w", path, err)
	}
	defer sw.Close()

	sw.SetFields([]shp.Field{shp.NumberField("id", 19)})

	ids := append([]int64(nil), w.nodeIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n := w.nodes[id]
		idx := sw.Write(&shp.Point{X: n.Lon, Y: n.Lat})
		sw.WriteAttribute(idx, 0, n.ID)
	}
	return nil
}

// lineBox computes the minimum bounding box of points, as go-shp requires
// each shape to carry its own Box rather than deriving it on write.
func lineBox(points []shp.Point) shp.Box {
	box := shp.Box{MinX: points[0].X, MaxX: points[0].X, MinY: points[0].Y, MaxY: points[0].Y}
	for _, p := range points[1:] {
		if p.X < box.MinX {
			box.MinX = p.X
		}
		if p.X > box.MaxX {
			box.MaxX = p.X
		}
		if p.Y < box.MinY {
			box.MinY = p.Y
		}
		if p.Y > box.MaxY {
			box.MaxY = p.Y
		}
	}
	return box
}

// WriteLines writes every recorded way as a *shp.PolyLine. Node refs that
// were never seen as a decoded Node (e.g. because SkipNodes was set) are
// dropped from the line rather than failing the whole way, since a partial
// pipeline run is still useful GIS output.
func (w *ShapefileWriter) WriteLines(path string) error {
	sw, err := shp.Create(path, shp.POLYLINE)
	if err != nil {
		return fmt.Errorf("export: create polyline shapefile %s: %w", path, err)
	}
	defer sw.Close()

	sw.SetFields([]shp.Field{shp.NumberField("id", 19)})

	for _, wy := range w.ways {
		points := make([]shp.Point, 0, len(wy.NodeIDs))
		for _, ref := range wy.NodeIDs {
			n, ok := w.nodes[ref]
			if !ok {
				continue
			}
			points = append(points, shp.Point{X: n.Lon, Y: n.Lat})
		}
		if len(points) < 2 {
			continue
		}
		line := &shp.PolyLine{
			Box:       lineBox(points),
			NumParts:  1,
			NumPoints: int32(len(points)),
			Parts:     []int32{0},
			Points:    points,
		}
		idx := sw.Write(line)
		sw.WriteAttribute(idx, 0, wy.ID)
	}
	return nil
}
