package index

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/ltfscore/ltfscore/internal/dentry"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
	"github.com/ltfscore/ltfscore/internal/pathname"
)

// ConflictInfo records a dentry where both a symlink target and an extent
// list were present (spec.md §4.7, "Symlink vs extent conflict").
type ConflictInfo struct {
	Name string
	UID  uint64
}

// ParseResult is everything ParseIndex recovers from one document.
type ParseResult struct {
	Meta        Meta
	Conflicts   []ConflictInfo
	SawFilemark bool

	// HasPrevious, PrevPartition, and PrevBlock carry the back-pointer to
	// the generation this one superseded, if any (spec.md §4.8 (e)).
	HasPrevious  bool
	PrevPartition byte
	PrevBlock    uint64
}

// requiredSet tracks which of a fixed list of child tag names have been
// seen for the element currently open, mirroring xml_reader_libltfs.c's
// per-depth required-tag bitmap (spec.md §4.7) with a set instead of a
// literal bitmask — equivalent behavior, idiomatic Go.
type requiredSet struct {
	need map[string]bool
	seen map[string]bool
}

func newRequiredSet(required ...string) *requiredSet {
	r := &requiredSet{need: map[string]bool{}, seen: map[string]bool{}}
	for _, tag := range required {
		r.need[tag] = true
	}
	return r
}

func (r *requiredSet) mark(tag string) { r.seen[tag] = true }

func (r *requiredSet) check(elementName string) error {
	for tag := range r.need {
		if !r.seen[tag] {
			return ltfserr.New(ltfserr.IndexInvalid, fmt.Sprintf("%s is missing required tag %s", elementName, tag))
		}
	}
	return nil
}

// ParseLabel decodes one ltfslabel document (spec.md §4.7 applied to the
// label schema).
func ParseLabel(r io.Reader) (label.XMLLabel, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	tok, err := nextStart(dec)
	if err != nil {
		return label.XMLLabel{}, err
	}
	if tok.Name.Local != "ltfslabel" {
		return label.XMLLabel{}, ltfserr.New(ltfserr.LabelInvalid, "expected ltfslabel root element")
	}
	versionAttr, err := attrValue(tok, "version")
	if err != nil {
		return label.XMLLabel{}, err
	}
	version, err := ParseVersion(versionAttr)
	if err != nil {
		return label.XMLLabel{}, err
	}
	if err := CheckSupported(version); err != nil {
		return label.XMLLabel{}, err
	}

	var lbl label.XMLLabel
	lbl.Version = versionAttr
	req := newRequiredSet("creator", "formattime", "volumeuuid", "location", "partitions", "blocksize")

	for {
		t, err := dec.Token()
		if err != nil {
			return label.XMLLabel{}, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "creator":
				lbl.Creator, err = scanText(dec)
				req.mark("creator")
			case "formattime":
				var s string
				s, err = scanText(dec)
				if err == nil {
					lbl.FormatTime, err = parseTimestamp(s)
				}
				req.mark("formattime")
			case "volumeuuid":
				lbl.VolumeUUID, err = scanText(dec)
				req.mark("volumeuuid")
			case "location":
				lbl.ThisPartition, err = parseLocation(dec)
				req.mark("location")
			case "partitions":
				lbl.IndexPartition, lbl.DataPartition, err = parsePartitions(dec)
				req.mark("partitions")
			case "blocksize":
				var s string
				s, err = scanText(dec)
				if err == nil {
					_, err = fmt.Sscanf(s, "%d", &lbl.BlockSize)
				}
				req.mark("blocksize")
			case "compression":
				var s string
				s, err = scanText(dec)
				lbl.Compression = s == "true" || s == "1"
			default:
				err = dec.Skip()
			}
			if err != nil {
				return label.XMLLabel{}, err
			}
		case xml.EndElement:
			if el.Name.Local == "ltfslabel" {
				return lbl, req.check("ltfslabel")
			}
		}
	}
}

// ParseIndex decodes one ltfsindex document into tree (which must already
// exist, typically via dentry.NewTree) and returns the index-wide Meta plus
// any symlink/extent conflicts found.
func ParseIndex(r io.Reader, tree *dentry.Tree) (ParseResult, error) {
	tr, isTapeReader := r.(*tapeReader)

	dec := xml.NewDecoder(r)
	dec.Strict = true

	tok, err := nextStart(dec)
	if err != nil {
		return ParseResult{}, err
	}
	if tok.Name.Local != "ltfsindex" {
		return ParseResult{}, ltfserr.New(ltfserr.IndexInvalid, "expected ltfsindex root element")
	}
	versionAttr, err := attrValue(tok, "version")
	if err != nil {
		return ParseResult{}, err
	}
	version, err := ParseVersion(versionAttr)
	if err != nil {
		return ParseResult{}, err
	}
	if err := CheckSupported(version); err != nil {
		return ParseResult{}, err
	}

	result := ParseResult{Meta: Meta{Version: version}}
	req := newRequiredSet("creator", "volumeuuid", "generationnumber", "updatetime", "location", "allowpolicyupdate", "directory")
	if hasUIDTag(version) {
		req.need["nextuid"] = true
	}
	nextUID := uint64(2)

	for {
		t, err := dec.Token()
		if err != nil {
			return ParseResult{}, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "creator":
				_, err = scanText(dec)
				req.mark("creator")
			case "volumeuuid":
				result.Meta.VolumeUUID, err = scanText(dec)
				req.mark("volumeuuid")
			case "generationnumber":
				var s string
				s, err = scanText(dec)
				req.mark("generationnumber")
				_ = s
			case "updatetime":
				var s string
				s, err = scanText(dec)
				if err == nil {
					result.Meta.UpdateTime, err = parseTimestamp(s)
				}
				req.mark("updatetime")
			case "location":
				_, err = parseLocation(dec)
				req.mark("location")
			case "previousgenerationlocation":
				result.PrevPartition, result.PrevBlock, err = parsePreviousLocation(dec)
				result.HasPrevious = err == nil
			case "allowpolicyupdate":
				var s string
				s, err = scanText(dec)
				result.Meta.AllowPolicyUpdate = s == "true" || s == "1"
				req.mark("allowpolicyupdate")
			case "dataplacementpolicy":
				result.Meta.Criteria, err = parseDataPlacementPolicy(dec)
			case "comment":
				result.Meta.Comment, err = scanText(dec)
				if err == nil && len(result.Meta.Comment) > maxCommentLen {
					err = ltfserr.New(ltfserr.IndexInvalid, "comment exceeds maximum length")
				}
			case "volumelockstate":
				var s string
				s, err = scanText(dec)
				result.Meta.VolumeLockState = parseVolumeLockState(s)
			case "nextuid":
				var s string
				s, err = scanText(dec)
				if err == nil {
					_, err = fmt.Sscanf(s, "%d", &result.Meta.NextUID)
				}
				req.mark("nextuid")
			case "directory":
				var loaded *loadedDentry
				loaded, err = parseDentryElement(dec, el, version, &nextUID, &result.Conflicts)
				if err == nil {
					if !hasUIDTag(version) {
						loaded.d.UID = 1
					}
					if serr := tree.SetRootMetadata(loaded.d); serr != nil {
						err = serr
					} else {
						err = attachChildren(tree, tree.RootID(), loaded)
					}
				}
				req.mark("directory")
			default:
				err = dec.Skip()
			}
			if err != nil {
				return ParseResult{}, err
			}
		case xml.EndElement:
			if el.Name.Local == "ltfsindex" {
				if err := req.check("ltfsindex"); err != nil {
					return ParseResult{}, err
				}
				tree.ObserveUID(nextUID - 1)
				if isTapeReader {
					tr.ConsumeTrailer()
					result.SawFilemark = tr.SawFilemark
				}
				return result, nil
			}
		}
	}
}

// loadedDentry is the parser's staging area for one dentry before it is
// attached to the tree (children are parsed fully before the parent is
// inserted, so recursion is natural here).
type loadedDentry struct {
	d        dentry.Dentry
	children []*loadedDentry
}

func parseDentryElement(dec *xml.Decoder, start xml.StartElement, version Version, nextUID *uint64, conflicts *[]ConflictInfo) (*loadedDentry, error) {
	isDir := start.Name.Local == "directory"
	ld := &loadedDentry{d: dentry.Dentry{IsDirectory: isDir, LinkCount: 1}}

	req := newRequiredSet("name", "creationtime", "changetime", "modifytime", "accesstime")
	if hasUIDTag(version) {
		req.need["uid"] = true
	}

	hasSymlink := false
	hasExtent := false

	for {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "name":
				var s string
				s, err = scanText(dec)
				if err == nil {
					if encoded, aerr := attrValue(el, "percentencoded"); aerr == nil && encoded == "true" {
						s, err = percentDecode(s)
					}
				}
				if err == nil {
					ld.d.Name, err = pathname.Format(s, true, false)
				}
				req.mark("name")
			case "uid":
				var s string
				s, err = scanText(dec)
				if err == nil {
					var uid uint64
					_, err = fmt.Sscanf(s, "%d", &uid)
					if err == nil {
						ld.d.UID = uid
						if uid >= *nextUID {
							*nextUID = uid + 1
						}
					}
				}
				req.mark("uid")
			case "creationtime":
				ld.d.CreateTime, err = parseDentryTime(dec)
				req.mark("creationtime")
			case "changetime":
				ld.d.ChangeTime, err = parseDentryTime(dec)
				req.mark("changetime")
			case "modifytime":
				ld.d.ModifyTime, err = parseDentryTime(dec)
				req.mark("modifytime")
			case "accesstime":
				ld.d.AccessTime, err = parseDentryTime(dec)
				req.mark("accesstime")
			case "backuptime":
				ld.d.BackupTime, err = parseDentryTime(dec)
			case "readonly":
				var s string
				s, err = scanText(dec)
				ld.d.ReadOnly = s == "true" || s == "1"
			case "symlink":
				hasSymlink = true
				ld.d.IsSymlink = true
				ld.d.SymlinkTarget, err = scanText(dec)
			case "length":
				var s string
				s, err = scanText(dec)
				if err == nil {
					_, err = fmt.Sscanf(s, "%d", &ld.d.Size)
				}
			case "extentinfo":
				var extents []dentry.Extent
				extents, err = parseExtentInfo(dec, version)
				if len(extents) > 0 {
					hasExtent = true
				}
				ld.d.Extents = extents
			case "xattrinfo":
				ld.d.Xattrs, err = parseXattrInfo(dec)
			case "contents":
				ld.children, err = parseContents(dec, version, nextUID, conflicts)
			default:
				var raw []byte
				raw, err = captureRaw(dec, el)
				if err == nil {
					ld.d.Unknown = append(ld.d.Unknown, dentry.UnknownTag{Raw: raw})
				}
			}
			if err != nil {
				return nil, err
			}
		case xml.EndElement:
			if err := req.check(start.Name.Local); err != nil {
				return nil, err
			}
			if !hasUIDTag(version) {
				ld.d.UID = *nextUID
				*nextUID++
			}
			if ld.d.BackupTime == (dentry.Timestamp{}) {
				ld.d.BackupTime = ld.d.CreateTime
			}
			if hasSymlink && hasExtent {
				*conflicts = append(*conflicts, ConflictInfo{Name: ld.d.Name, UID: ld.d.UID})
			}
			if !hasSymlink {
				if n := len(ld.d.Extents); n > 0 && ld.d.Extents[n-1].End() > ld.d.Size {
					return nil, ltfserr.New(ltfserr.IndexInvalid, fmt.Sprintf("%s: extent end %d exceeds declared length %d", ld.d.Name, ld.d.Extents[n-1].End(), ld.d.Size))
				}
			}
			return ld, nil
		}
	}
}

func parseContents(dec *xml.Decoder, version Version, nextUID *uint64, conflicts *[]ConflictInfo) ([]*loadedDentry, error) {
	var children []*loadedDentry
	for {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			if el.Name.Local == "file" || el.Name.Local == "directory" {
				child, err := parseDentryElement(dec, el, version, nextUID, conflicts)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			} else if err := dec.Skip(); err != nil {
				return nil, err
			}
		case xml.EndElement:
			if el.Name.Local == "contents" {
				return children, nil
			}
		}
	}
}

func attachChildren(tree *dentry.Tree, parent dentry.ID, ld *loadedDentry) error {
	for _, child := range ld.children {
		id := tree.AllocateLoaded(child.d)
		if err := tree.InsertChild(parent, id); err != nil {
			return err
		}
		if err := attachChildren(tree, id, child); err != nil {
			return err
		}
	}
	return nil
}

func parseDentryTime(dec *xml.Decoder) (dentry.Timestamp, error) {
	s, err := scanText(dec)
	if err != nil {
		return dentry.Timestamp{}, err
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return dentry.Timestamp{}, err
	}
	return timeToDentryTime(t), nil
}

// parseExtentInfo reads an on-tape <extentinfo> list, rejecting overlapping
// or out-of-order extents the same way dentry.Tree.AddExtent does for
// in-process writes (spec.md §8: a corrupted or adversarial on-tape index
// with overlapping extents is rejected, not silently mounted).
func parseExtentInfo(dec *xml.Decoder, version Version) ([]dentry.Extent, error) {
	var extents []dentry.Extent
	for {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			if el.Name.Local == "extent" {
				e, err := parseExtent(dec, version)
				if err != nil {
					return nil, err
				}
				if !hasSparseOffset(version) && len(extents) > 0 {
					e.FileOffset = extents[len(extents)-1].End()
				}
				if err := checkExtentOrder(extents, e); err != nil {
					return nil, err
				}
				extents = append(extents, e)
			} else if err := dec.Skip(); err != nil {
				return nil, err
			}
		case xml.EndElement:
			if el.Name.Local == "extentinfo" {
				return extents, nil
			}
		}
	}
}

// checkExtentOrder requires extents to appear in non-decreasing fileoffset
// order with no overlap between consecutive entries, mirroring
// dentry.Tree.AddExtent's insertion-point check.
func checkExtentOrder(extents []dentry.Extent, next dentry.Extent) error {
	if len(extents) == 0 {
		return nil
	}
	last := extents[len(extents)-1]
	if next.FileOffset < last.FileOffset {
		return ltfserr.New(ltfserr.IndexInvalid, "extent list is out of fileoffset order")
	}
	if last.End() > next.FileOffset {
		return ltfserr.New(ltfserr.IndexInvalid, "extent overlaps the previous extent")
	}
	return nil
}

func parseExtent(dec *xml.Decoder, version Version) (dentry.Extent, error) {
	var e dentry.Extent
	for {
		t, err := dec.Token()
		if err != nil {
			return e, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			var s string
			s, err = scanText(dec)
			if err != nil {
				return e, err
			}
			switch el.Name.Local {
			case "partition":
				if len(s) == 1 {
					e.StartPartition = s[0]
				}
			case "startblock":
				_, err = fmt.Sscanf(s, "%d", &e.StartBlock)
			case "byteoffset":
				_, err = fmt.Sscanf(s, "%d", &e.ByteOffset)
			case "bytecount":
				_, err = fmt.Sscanf(s, "%d", &e.ByteCount)
			case "fileoffset":
				if hasSparseOffset(version) {
					_, err = fmt.Sscanf(s, "%d", &e.FileOffset)
				}
			}
			if err != nil {
				return e, err
			}
		case xml.EndElement:
			if el.Name.Local == "extent" {
				return e, nil
			}
		}
	}
}

func parseXattrInfo(dec *xml.Decoder) ([]dentry.Xattr, error) {
	var xattrs []dentry.Xattr
	for {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			if el.Name.Local == "xattr" {
				x, err := parseXattr(dec)
				if err != nil {
					return nil, err
				}
				xattrs = append(xattrs, x)
			} else if err := dec.Skip(); err != nil {
				return nil, err
			}
		case xml.EndElement:
			if el.Name.Local == "xattrinfo" {
				return xattrs, nil
			}
		}
	}
}

func parseXattr(dec *xml.Decoder) (dentry.Xattr, error) {
	var x dentry.Xattr
	for {
		t, err := dec.Token()
		if err != nil {
			return x, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "key":
				x.Key, err = scanText(dec)
			case "value":
				var s string
				s, err = scanText(dec)
				if err == nil {
					if isBase64, aerr := attrValue(el, "base64"); aerr == nil && isBase64 == "true" {
						x.Value, err = base64.StdEncoding.DecodeString(s)
					} else {
						x.Value = []byte(s)
					}
				}
			default:
				err = dec.Skip()
			}
			if err != nil {
				return x, err
			}
		case xml.EndElement:
			if el.Name.Local == "xattr" {
				return x, nil
			}
		}
	}
}

// parseDataPlacementPolicy reads <dataplacementpolicy>, whose only
// recognized child is <indexpartitioncriteria>, carrying the criteria rule
// string in force for this generation (spec.md §3, "optional policy";
// original_source's _xml_parse_policy/_xml_parse_ip_criteria). The
// original/active split spec.md describes is a mount-time concern, not an
// on-tape one: there is exactly one criteria string on tape, and
// internal/volume.Mount is the one that decides whether to keep it as-is
// or apply an override (criteria.Dup, spec.md §4.3 Duplicate).
func parseDataPlacementPolicy(dec *xml.Decoder) (string, error) {
	var rule string
	for {
		t, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch el := t.(type) {
		case xml.StartElement:
			if el.Name.Local == "indexpartitioncriteria" {
				rule, err = scanText(dec)
				if err != nil {
					return "", err
				}
			} else if err := dec.Skip(); err != nil {
				return "", err
			}
		case xml.EndElement:
			if el.Name.Local == "dataplacementpolicy" {
				return rule, nil
			}
		}
	}
}

func parseLocation(dec *xml.Decoder) (byte, error) {
	var partition byte
	for {
		t, err := dec.Token()
		if err != nil {
			return 0, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			s, err := scanText(dec)
			if err != nil {
				return 0, err
			}
			if el.Name.Local == "partition" && len(s) == 1 {
				partition = s[0]
			}
		case xml.EndElement:
			if el.Name.Local == "location" {
				return partition, nil
			}
		}
	}
}

// parsePreviousLocation reads the <previousgenerationlocation> element,
// which shares <location>'s partition/startblock shape.
func parsePreviousLocation(dec *xml.Decoder) (partition byte, block uint64, err error) {
	for {
		t, err := dec.Token()
		if err != nil {
			return 0, 0, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			s, err := scanText(dec)
			if err != nil {
				return 0, 0, err
			}
			switch el.Name.Local {
			case "partition":
				if len(s) == 1 {
					partition = s[0]
				}
			case "startblock":
				if _, err := fmt.Sscanf(s, "%d", &block); err != nil {
					return 0, 0, err
				}
			}
		case xml.EndElement:
			if el.Name.Local == "previousgenerationlocation" {
				return partition, block, nil
			}
		}
	}
}

func parsePartitions(dec *xml.Decoder) (idx byte, data byte, err error) {
	for {
		t, err := dec.Token()
		if err != nil {
			return 0, 0, err
		}
		switch el := t.(type) {
		case xml.StartElement:
			s, err := scanText(dec)
			if err != nil {
				return 0, 0, err
			}
			if len(s) == 1 {
				switch el.Name.Local {
				case "index":
					idx = s[0]
				case "data":
					data = s[0]
				}
			}
		case xml.EndElement:
			if el.Name.Local == "partitions" {
				return idx, data, nil
			}
		}
	}
}

// scanText reads character data up to the matching end element for the
// start element already consumed by the caller (spec.md §4.7, "scan_text").
func scanText(dec *xml.Decoder) (string, error) {
	var buf bytes.Buffer
	for {
		t, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch el := t.(type) {
		case xml.CharData:
			buf.Write(el)
		case xml.EndElement:
			return buf.String(), nil
		case xml.StartElement:
			if err := dec.Skip(); err != nil {
				return "", err
			}
		}
	}
}

// captureRaw re-serializes an unknown element verbatim via CopyToken, so it
// can be replayed into a rewritten document unchanged (spec.md §4.7,
// "save_tag").
func captureRaw(dec *xml.Decoder, start xml.StartElement) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.EncodeToken(start); err != nil {
		return nil, err
	}
	depth := 1
	for depth > 0 {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		if err := enc.EncodeToken(xml.CopyToken(t)); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		t, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := t.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func attrValue(el xml.StartElement, name string) (string, error) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, nil
		}
	}
	return "", fmt.Errorf("index: missing %s attribute", name)
}
