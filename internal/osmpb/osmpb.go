// Package osmpb decodes the OSM-PBF message set (fileformat.proto and
// osmformat.proto) directly off the wire, field by field, via internal/wire.
// It has no generated-code dependency: every message type below parses
// itself with wire.ForEachField against the field numbers fixed by the
// OSM-PBF schema.
package osmpb

import (
	"fmt"

	"github.com/simonwaldherr/openmapd/internal/wire"
)

// BlobHeader is fileformat.proto's BlobHeader message.
type BlobHeader struct {
	Type     string
	IndexData []byte
	DataSize int32
}

// ParseBlobHeader decodes a BlobHeader from its raw bytes.
func ParseBlobHeader(data []byte) (BlobHeader, error) {
	var h BlobHeader
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			h.Type = string(f.Data())
		case 2:
			h.IndexData = f.Data()
		case 3:
			h.DataSize = int32(f.Int64())
		}
		return nil
	})
	if err != nil {
		return BlobHeader{}, fmt.Errorf("osmpb: BlobHeader: %w", err)
	}
	if h.Type == "" {
		return BlobHeader{}, fmt.Errorf("osmpb: BlobHeader missing required field type")
	}
	return h, nil
}

// Blob is fileformat.proto's Blob message: the payload is in exactly one of
// Raw, ZlibData, or LzmaData (Bzip2Data is obsolete and never populated by
// any real producer).
type Blob struct {
	Raw      []byte
	RawSize  int32
	ZlibData []byte
	LzmaData []byte
}

// ParseBlob decodes a Blob from its raw bytes.
func ParseBlob(data []byte) (Blob, error) {
	var b Blob
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			b.Raw = f.Data()
		case 2:
			b.RawSize = int32(f.Int64())
		case 3:
			b.ZlibData = f.Data()
		case 4:
			b.LzmaData = f.Data()
		}
		return nil
	})
	if err != nil {
		return Blob{}, fmt.Errorf("osmpb: Blob: %w", err)
	}
	return b, nil
}

// HeaderBBox is osmformat.proto's HeaderBBox message, in nanodegrees.
type HeaderBBox struct {
	Left, Right, Top, Bottom int64
}

func parseHeaderBBox(data []byte) (HeaderBBox, error) {
	var bb HeaderBBox
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			bb.Left = f.Int64()
		case 2:
			bb.Right = f.Int64()
		case 3:
			bb.Top = f.Int64()
		case 4:
			bb.Bottom = f.Int64()
		}
		return nil
	})
	return bb, err
}

// HeaderBlock is osmformat.proto's HeaderBlock message, the payload of the
// file's first ("OSMHeader") blob.
type HeaderBlock struct {
	BBox             *HeaderBBox
	RequiredFeatures []string
	OptionalFeatures []string
	Writingprogram   string
	Source           string
	// ReplicationTimestamp is osmosis_replication_timestamp (field 32):
	// seconds since the Unix epoch the source data was current as of. Zero
	// when the header carries no replication metadata.
	ReplicationTimestamp int64
}

// ParseHeaderBlock decodes a HeaderBlock from its (already decompressed)
// bytes.
func ParseHeaderBlock(data []byte) (HeaderBlock, error) {
	var h HeaderBlock
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			bb, err := parseHeaderBBox(f.Data())
			if err != nil {
				return fmt.Errorf("bbox: %w", err)
			}
			h.BBox = &bb
		case 4:
			h.RequiredFeatures = append(h.RequiredFeatures, string(f.Data()))
		case 5:
			h.OptionalFeatures = append(h.OptionalFeatures, string(f.Data()))
		case 16:
			h.Writingprogram = string(f.Data())
		case 17:
			h.Source = string(f.Data())
		case 32:
			h.ReplicationTimestamp = f.Int64()
		}
		return nil
	})
	if err != nil {
		return HeaderBlock{}, fmt.Errorf("osmpb: HeaderBlock: %w", err)
	}
	return h, nil
}

// Info is osmformat.proto's Info message: per-entity metadata, all optional.
type Info struct {
	Version   int32
	Timestamp int64 // milliseconds-since-epoch granularity applied by caller
	Changeset int64
	UID       int32
	UserSID   int32
	Visible   bool
}

func parseInfo(data []byte) (Info, error) {
	info := Info{Visible: true}
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			info.Version = int32(f.Int64())
		case 2:
			info.Timestamp = f.Int64()
		case 3:
			info.Changeset = f.Int64()
		case 4:
			info.UID = int32(f.Int64())
		case 5:
			info.UserSID = int32(f.Int64())
		case 6:
			info.Visible = f.Uint64() != 0
		}
		return nil
	})
	return info, err
}

// StringTable is osmformat.proto's StringTable message: PrimitiveBlock's
// strings are indices into this table.
type StringTable struct {
	S [][]byte
}

func parseStringTable(data []byte) (StringTable, error) {
	var st StringTable
	err := wire.ForEachField(data, func(f wire.Field) error {
		if f.Num == 1 {
			st.S = append(st.S, f.Data())
		}
		return nil
	})
	return st, err
}

// At returns table entry idx as a string, or "" if out of range (index 0 is
// always the empty string by convention, per the OSM-PBF schema).
func (st StringTable) At(idx int32) string {
	if idx < 0 || int(idx) >= len(st.S) {
		return ""
	}
	return string(st.S[idx])
}

// DenseNodes is osmformat.proto's DenseNodes message: node fields packed as
// parallel delta-encoded arrays instead of repeated submessages. ID, Lat and
// Lon hold the delta-decoded (absolute) values.
type DenseNodes struct {
	ID        []int64
	Lat, Lon  []int64
	KeysVals  []int32 // flattened per node, 0-terminated run; see Tags()
	Info      []Info  // parallel to ID when DenseInfo was present, else empty
	HasInfo   bool
}

func parseDenseNodes(data []byte) (DenseNodes, error) {
	var dn DenseNodes
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			ids, err := decodeSInt64Packed(f)
			if err != nil {
				return err
			}
			dn.ID = ids
		case 8:
			lat, err := decodeSInt64Packed(f)
			if err != nil {
				return err
			}
			dn.Lat = lat
		case 9:
			lon, err := decodeSInt64Packed(f)
			if err != nil {
				return err
			}
			dn.Lon = lon
		case 10:
			vals, err := decodeVarintPacked(f)
			if err != nil {
				return err
			}
			for _, v := range vals {
				dn.KeysVals = append(dn.KeysVals, int32(v))
			}
		case 5:
			infos, err := parseDenseInfo(f.Data())
			if err != nil {
				return err
			}
			dn.Info = infos
			dn.HasInfo = true
		}
		return nil
	})
	var id, lat, lon int64
	for i, d := range dn.ID {
		id += d
		dn.ID[i] = id
	}
	for i, d := range dn.Lat {
		lat += d
		dn.Lat[i] = lat
	}
	for i, d := range dn.Lon {
		lon += d
		dn.Lon[i] = lon
	}
	return dn, err
}

func parseDenseInfo(data []byte) ([]Info, error) {
	var version, uid, userSid, visible []int64
	var timestamp, changeset []int64
	err := wire.ForEachField(data, func(f wire.Field) error {
		var err error
		switch f.Num {
		case 1:
			version, err = decodeVarintPackedSigned(f)
		case 2:
			timestamp, err = decodeSInt64Packed(f)
		case 3:
			changeset, err = decodeSInt64Packed(f)
		case 4:
			uid, err = decodeSInt64Packed(f)
		case 5:
			userSid, err = decodeSInt64Packed(f)
		case 6:
			visible, err = decodeVarintPackedSigned(f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	n := len(version)
	out := make([]Info, n)
	var ts, cs, uidDelta, usidDelta int64
	for i := 0; i < n; i++ {
		out[i].Version = int32(version[i])
		if i < len(timestamp) {
			ts += timestamp[i]
		}
		if i < len(changeset) {
			cs += changeset[i]
		}
		if i < len(uid) {
			uidDelta += uid[i]
		}
		if i < len(userSid) {
			usidDelta += userSid[i]
		}
		out[i].Timestamp = ts
		out[i].Changeset = cs
		out[i].UID = int32(uidDelta)
		out[i].UserSID = int32(usidDelta)
		out[i].Visible = true
		if i < len(visible) {
			out[i].Visible = visible[i] != 0
		}
	}
	return out, nil
}

// Tags decodes KeysVals for node index i (0-based) against st, returning a
// fresh map. KeysVals is a flat, 0-terminated-per-node run of
// (key-index,val-index) pairs; this walks the whole run counting
// terminators to find node i's slice.
func (dn DenseNodes) Tags(st StringTable, i int) map[string]string {
	node := 0
	j := 0
	for j < len(dn.KeysVals) && node < i {
		if dn.KeysVals[j] == 0 {
			node++
		}
		j++
	}
	tags := make(map[string]string)
	for j < len(dn.KeysVals) && dn.KeysVals[j] != 0 {
		k := dn.KeysVals[j]
		v := dn.KeysVals[j+1]
		tags[st.At(k)] = st.At(v)
		j += 2
	}
	return tags
}

// Way is osmformat.proto's Way message.
type Way struct {
	ID      int64
	Keys    []int32
	Vals    []int32
	Info    *Info
	Refs    []int64 // delta-decoded node ids
}

func parseWay(data []byte) (Way, error) {
	var w Way
	var deltaRefs []int64
	err := wire.ForEachField(data, func(f wire.Field) error {
		var err error
		switch f.Num {
		case 1:
			w.ID = f.Int64()
		case 2:
			vals, e := decodeVarintPacked(f)
			err = e
			for _, v := range vals {
				w.Keys = append(w.Keys, int32(v))
			}
		case 3:
			vals, e := decodeVarintPacked(f)
			err = e
			for _, v := range vals {
				w.Vals = append(w.Vals, int32(v))
			}
		case 4:
			info, e := parseInfo(f.Data())
			err = e
			w.Info = &info
		case 8:
			deltaRefs, err = decodeSInt64Packed(f)
		}
		return err
	})
	if err != nil {
		return Way{}, err
	}
	var acc int64
	w.Refs = make([]int64, len(deltaRefs))
	for i, d := range deltaRefs {
		acc += d
		w.Refs[i] = acc
	}
	return w, nil
}

// MemberType is osmformat.proto's Relation.MemberType enum.
type MemberType int32

const (
	MemberNode MemberType = 0
	MemberWay  MemberType = 1
	MemberRel  MemberType = 2
)

// Relation is osmformat.proto's Relation message.
type Relation struct {
	ID       int64
	Keys     []int32
	Vals     []int32
	Info     *Info
	RolesSID []int32
	MemIDs   []int64 // delta-decoded
	Types    []MemberType
}

func parseRelation(data []byte) (Relation, error) {
	var r Relation
	var deltaMemIDs []int64
	var types []int64
	err := wire.ForEachField(data, func(f wire.Field) error {
		var err error
		switch f.Num {
		case 1:
			r.ID = f.Int64()
		case 2:
			vals, e := decodeVarintPacked(f)
			err = e
			for _, v := range vals {
				r.Keys = append(r.Keys, int32(v))
			}
		case 3:
			vals, e := decodeVarintPacked(f)
			err = e
			for _, v := range vals {
				r.Vals = append(r.Vals, int32(v))
			}
		case 4:
			info, e := parseInfo(f.Data())
			err = e
			r.Info = &info
		case 8:
			vals, e := decodeVarintPacked(f)
			err = e
			for _, v := range vals {
				r.RolesSID = append(r.RolesSID, int32(v))
			}
		case 9:
			deltaMemIDs, err = decodeSInt64Packed(f)
		case 10:
			types, err = decodeVarintPacked(f)
		}
		return err
	})
	if err != nil {
		return Relation{}, err
	}
	var acc int64
	r.MemIDs = make([]int64, len(deltaMemIDs))
	for i, d := range deltaMemIDs {
		acc += d
		r.MemIDs[i] = acc
	}
	r.Types = make([]MemberType, len(types))
	for i, tv := range types {
		r.Types[i] = MemberType(tv)
	}
	return r, nil
}

// Node is osmformat.proto's (non-dense) Node message.
type Node struct {
	ID       int64
	Keys     []int32
	Vals     []int32
	Info     *Info
	Lat, Lon int64
}

func parseNode(data []byte) (Node, error) {
	var n Node
	err := wire.ForEachField(data, func(f wire.Field) error {
		var err error
		switch f.Num {
		case 1:
			n.ID = f.Int64()
		case 2:
			vals, e := decodeVarintPacked(f)
			err = e
			for _, v := range vals {
				n.Keys = append(n.Keys, int32(v))
			}
		case 3:
			vals, e := decodeVarintPacked(f)
			err = e
			for _, v := range vals {
				n.Vals = append(n.Vals, int32(v))
			}
		case 4:
			info, e := parseInfo(f.Data())
			err = e
			n.Info = &info
		case 8:
			n.Lat = f.SInt64()
		case 9:
			n.Lon = f.SInt64()
		}
		return err
	})
	return n, err
}

// PrimitiveGroup is osmformat.proto's PrimitiveGroup message: exactly one of
// its repeated fields is populated per group, per the schema's convention.
type PrimitiveGroup struct {
	Nodes      []Node
	Dense      *DenseNodes
	Ways       []Way
	Relations  []Relation
}

func parsePrimitiveGroup(data []byte) (PrimitiveGroup, error) {
	var g PrimitiveGroup
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			n, err := parseNode(f.Data())
			if err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case 2:
			dn, err := parseDenseNodes(f.Data())
			if err != nil {
				return err
			}
			g.Dense = &dn
		case 3:
			w, err := parseWay(f.Data())
			if err != nil {
				return err
			}
			g.Ways = append(g.Ways, w)
		case 4:
			r, err := parseRelation(f.Data())
			if err != nil {
				return err
			}
			g.Relations = append(g.Relations, r)
		}
		return nil
	})
	return g, err
}

// PrimitiveBlock is osmformat.proto's PrimitiveBlock message, the payload of
// every "OSMData" blob.
type PrimitiveBlock struct {
	StringTable    StringTable
	Groups         []PrimitiveGroup
	Granularity    int32
	LatOffset      int64
	LonOffset      int64
	DateGranularity int32
}

// ParsePrimitiveBlock decodes a PrimitiveBlock from its (already
// decompressed) bytes.
func ParsePrimitiveBlock(data []byte) (PrimitiveBlock, error) {
	pb := PrimitiveBlock{Granularity: 100, DateGranularity: 1000}
	err := wire.ForEachField(data, func(f wire.Field) error {
		switch f.Num {
		case 1:
			st, err := parseStringTable(f.Data())
			if err != nil {
				return err
			}
			pb.StringTable = st
		case 2:
			g, err := parsePrimitiveGroup(f.Data())
			if err != nil {
				return err
			}
			pb.Groups = append(pb.Groups, g)
		case 17:
			pb.Granularity = int32(f.Int64())
		case 18:
			pb.DateGranularity = int32(f.Int64())
		case 19:
			pb.LatOffset = f.Int64()
		case 20:
			pb.LonOffset = f.Int64()
		}
		return nil
	})
	if err != nil {
		return PrimitiveBlock{}, fmt.Errorf("osmpb: PrimitiveBlock: %w", err)
	}
	return pb, nil
}

// ToDegrees converts a raw coordinate into a float64 degree value, applying
// offset and granularity per osmformat.proto's documented formula:
// .000000001 * (offset + (granularity * coordinate)).
func ToDegrees(offset int64, granularity int32, coordinate int64) float64 {
	return 1e-9 * float64(offset+int64(granularity)*coordinate)
}

// --- packed-repeated-varint helpers ----------------------------------------

// decodeVarintPacked decodes a packed-repeated varint field (plain, not
// zigzag) such as Way.keys/vals or Relation.types.
func decodeVarintPacked(f wire.Field) ([]int64, error) {
	var out []int64
	err := wire.ForEachField(packedAsMessage(f.Data()), func(g wire.Field) error {
		out = append(out, g.Int64())
		return nil
	})
	return out, err
}

// decodeVarintPackedSigned is decodeVarintPacked under a different name used
// where the field happens to carry signed semantics (DenseInfo.version,
// .visible) but is still plain-varint, not zigzag, encoded.
func decodeVarintPackedSigned(f wire.Field) ([]int64, error) {
	return decodeVarintPacked(f)
}

// decodeSInt64Packed decodes a packed-repeated sint64 (zigzag) field such as
// DenseNodes.id/lat/lon or Way.refs.
func decodeSInt64Packed(f wire.Field) ([]int64, error) {
	var out []int64
	err := wire.ForEachField(packedAsMessage(f.Data()), func(g wire.Field) error {
		out = append(out, g.SInt64())
		return nil
	})
	return out, err
}

// packedAsMessage reinterprets a packed field's raw payload as a sequence of
// field-1 varints (prefixing each varint run with a field-1 tag byte), so
// wire.ForEachField's own varint reader does the real decoding work instead
// of duplicating it here.
func packedAsMessage(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/10+1)
	pos := 0
	for pos < len(payload) {
		start := pos
		for pos < len(payload) && payload[pos]&0x80 != 0 {
			pos++
		}
		pos++ // final byte of this varint
		out = wire.AppendTag(out, 1, wire.WireVarint)
		out = append(out, payload[start:pos]...)
	}
	return out
}
