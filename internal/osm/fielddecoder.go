package osm

import "github.com/simonwaldherr/openmapd/internal/osmpb"

// FieldDecoder closes over a PrimitiveBlock's string table and scaling
// parameters, translating its raw indices and deltas into the values an
// Element carries.
type FieldDecoder struct {
	st              osmpb.StringTable
	granularity     int32
	dateGranularity int32
	latOffset       int64
	lonOffset       int64
}

// NewFieldDecoder builds a FieldDecoder for block.
func NewFieldDecoder(block osmpb.PrimitiveBlock) FieldDecoder {
	return FieldDecoder{
		st:              block.StringTable,
		granularity:     block.Granularity,
		dateGranularity: block.DateGranularity,
		latOffset:       block.LatOffset,
		lonOffset:       block.LonOffset,
	}
}

// String returns string-table entry i, or "" if out of range.
func (d FieldDecoder) String(i int32) string { return d.st.At(i) }

// Lat converts a raw (already delta-summed) latitude into degrees.
func (d FieldDecoder) Lat(raw int64) float64 {
	return osmpb.ToDegrees(d.latOffset, d.granularity, raw)
}

// Lon converts a raw (already delta-summed) longitude into degrees.
func (d FieldDecoder) Lon(raw int64) float64 {
	return osmpb.ToDegrees(d.lonOffset, d.granularity, raw)
}

// Timestamp converts a raw timestamp into milliseconds since the Unix
// epoch.
func (d FieldDecoder) Timestamp(raw int64) int64 {
	return int64(d.dateGranularity) * raw
}

// Tags zips parallel key/value string-table index slices into a map,
// skipping (not failing) on a length mismatch per spec.
func (d FieldDecoder) Tags(keys, vals []int32) map[string]string {
	if len(keys) != len(vals) {
		return nil
	}
	if len(keys) == 0 {
		return nil
	}
	tags := make(map[string]string, len(keys))
	for i := range keys {
		tags[d.String(keys[i])] = d.String(vals[i])
	}
	return tags
}
