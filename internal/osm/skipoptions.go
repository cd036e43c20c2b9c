package osm

// SkipOptions is a bitmask of OSM primitive classes the decoder should
// omit from its output, per spec's skip_options config.
type SkipOptions uint8

const (
	SkipNone      SkipOptions = 0
	SkipNodes     SkipOptions = 1 << 0
	SkipWays      SkipOptions = 1 << 1
	SkipRelations SkipOptions = 1 << 2
)

func (s SkipOptions) has(bit SkipOptions) bool { return s&bit != 0 }
