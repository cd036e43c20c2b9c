package osm

import (
	"fmt"
	"time"

	"github.com/simonwaldherr/openmapd/internal/osmpb"
	"github.com/simonwaldherr/openmapd/internal/pbf"
)

var supportedRequiredFeatures = map[string]bool{
	"OsmSchema-V0.6":      true,
	"DenseNodes":          true,
	"HistoricalInformation": true,
}

// ErrUnsupportedRequiredFeature reports a HeaderBlock naming a
// required_feature this decoder does not implement.
type ErrUnsupportedRequiredFeature struct {
	Feature string
}

func (e ErrUnsupportedRequiredFeature) Error() string {
	return fmt.Sprintf("osm: required feature %q is not supported", e.Feature)
}

// DecoderOptions configures Decode's behavior.
type DecoderOptions struct {
	Skip SkipOptions
	// StrictRequiredFeatures, when true (the default), fails decoding a
	// HeaderBlock naming an unrecognized required_feature instead of
	// merely proceeding. See DESIGN.md's Open Question #1 resolution.
	StrictRequiredFeatures bool
}

// DefaultDecoderOptions is StrictRequiredFeatures=true, no primitives
// skipped.
var DefaultDecoderOptions = DecoderOptions{StrictRequiredFeatures: true}

// Decode decompresses rec's payload and dispatches on rec.Header.Type,
// passing every Element it produces to emit. rec.Payload is
// released before Decode returns, win or lose.
func Decode(rec pbf.BlobRecord, opts DecoderOptions, emit func(Element)) error {
	defer rec.Payload.Release()

	data, ok := rec.Payload.Data()
	if !ok {
		return fmt.Errorf("osm: blob payload already released")
	}
	raw, err := pbf.Uncompress(blobWithPayload(rec.Blob, data))
	if err != nil {
		return fmt.Errorf("osm: decompressing %s blob: %w", rec.Header.Type, err)
	}

	switch rec.Header.Type {
	case "OSMHeader":
		return decodeHeader(raw, opts, emit)
	case "OSMData":
		return decodeData(raw, opts, emit)
	default:
		return fmt.Errorf("osm: unrecognized blob type %q", rec.Header.Type)
	}
}

// blobWithPayload rebuilds a Blob struct carrying data in whichever
// discriminant the original blob used, so pbf.Uncompress's dispatch (which
// inspects Raw/ZlibData/LzmaData) still works after the tokenizer has
// already copied the relevant bytes into an owned buffer.
func blobWithPayload(b osmpb.Blob, payload []byte) osmpb.Blob {
	out := b
	switch {
	case b.Raw != nil:
		out.Raw = payload
	case b.ZlibData != nil:
		out.ZlibData = payload
	case b.LzmaData != nil:
		out.LzmaData = payload
	}
	return out
}

func decodeHeader(data []byte, opts DecoderOptions, emit func(Element)) error {
	hb, err := osmpb.ParseHeaderBlock(data)
	if err != nil {
		return fmt.Errorf("osm: parsing HeaderBlock: %w", err)
	}
	for _, feature := range hb.RequiredFeatures {
		if !supportedRequiredFeatures[feature] {
			if opts.StrictRequiredFeatures {
				return ErrUnsupportedRequiredFeature{Feature: feature}
			}
		}
	}

	tags := map[string]string{
		"writingprogram": hb.Writingprogram,
		"source":         hb.Source,
		"timestamp":      time.Unix(hb.ReplicationTimestamp, 0).UTC().Format(time.RFC3339),
	}
	if hb.BBox != nil {
		tags["bbox_left"] = degreesString(hb.BBox.Left)
		tags["bbox_right"] = degreesString(hb.BBox.Right)
		tags["bbox_top"] = degreesString(hb.BBox.Top)
		tags["bbox_bottom"] = degreesString(hb.BBox.Bottom)
	}
	emit(Element{Kind: KindFileHeader, Header: &FileHeader{Tags: tags}})
	return nil
}

func degreesString(nanodeg int64) string {
	return fmt.Sprintf("%.7f", osmpb.ToDegrees(0, 1, nanodeg))
}

func decodeData(data []byte, opts DecoderOptions, emit func(Element)) error {
	block, err := osmpb.ParsePrimitiveBlock(data)
	if err != nil {
		return fmt.Errorf("osm: parsing PrimitiveBlock: %w", err)
	}
	fd := NewFieldDecoder(block)

	for _, group := range block.Groups {
		if group.Dense != nil && !opts.Skip.has(SkipNodes) {
			if err := decodeDenseNodes(*group.Dense, fd, emit); err != nil {
				return err
			}
		}
		if len(group.Nodes) > 0 && !opts.Skip.has(SkipNodes) {
			decodeSparseNodes(group.Nodes, fd, emit)
		}
		if len(group.Ways) > 0 && !opts.Skip.has(SkipWays) {
			decodeWays(group.Ways, fd, emit)
		}
		if len(group.Relations) > 0 && !opts.Skip.has(SkipRelations) {
			decodeRelations(group.Relations, fd, emit)
		}
	}
	return nil
}

func decodeSparseNodes(nodes []osmpb.Node, fd FieldDecoder, emit func(Element)) {
	for _, n := range nodes {
		tags := fd.Tags(n.Keys, n.Vals)
		if len(n.Keys) != len(n.Vals) {
			continue
		}
		emit(Element{Kind: KindNode, NodeVal: &Node{
			ID:   n.ID,
			Lat:  fd.Lat(n.Lat),
			Lon:  fd.Lon(n.Lon),
			Tags: tags,
		}})
	}
}

func decodeDenseNodes(dn osmpb.DenseNodes, fd FieldDecoder, emit func(Element)) error {
	if len(dn.ID) != len(dn.Lat) || len(dn.ID) != len(dn.Lon) {
		return fmt.Errorf("osm: DenseNodes id/lat/lon length mismatch (%d/%d/%d)", len(dn.ID), len(dn.Lat), len(dn.Lon))
	}
	for i := range dn.ID {
		emit(Element{Kind: KindNode, NodeVal: &Node{
			ID:   dn.ID[i],
			Lat:  fd.Lat(dn.Lat[i]),
			Lon:  fd.Lon(dn.Lon[i]),
			Tags: dn.Tags(fd.st, i),
		}})
	}
	return nil
}

func decodeWays(ways []osmpb.Way, fd FieldDecoder, emit func(Element)) {
	for _, w := range ways {
		tags := fd.Tags(w.Keys, w.Vals)
		refs := make([]int64, len(w.Refs))
		copy(refs, w.Refs)
		emit(Element{Kind: KindWay, WayVal: &Way{ID: w.ID, NodeIDs: refs, Tags: tags}})
	}
}

func decodeRelations(rels []osmpb.Relation, fd FieldDecoder, emit func(Element)) {
	for _, r := range rels {
		if len(r.MemIDs) != len(r.Types) || len(r.MemIDs) != len(r.RolesSID) {
			continue
		}
		tags := fd.Tags(r.Keys, r.Vals)
		members := make([]Member, len(r.MemIDs))
		for i := range r.MemIDs {
			members[i] = Member{
				Type:  MemberType(r.Types[i]),
				RefID: r.MemIDs[i],
				Role:  fd.String(r.RolesSID[i]),
			}
		}
		emit(Element{Kind: KindRelation, RelVal: &Relation{ID: r.ID, Members: members, Tags: tags}})
	}
}
