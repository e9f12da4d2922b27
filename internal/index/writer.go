package index

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/ltfscore/ltfscore/internal/dentry"
	"github.com/ltfscore/ltfscore/internal/label"
	"github.com/ltfscore/ltfscore/internal/ltfserr"
	"github.com/ltfscore/ltfscore/internal/pathname"
)

// placeholderWidth is the fixed field width used for the three fields the
// commit coordinator stamps after the document is otherwise complete
// (spec.md §4.8(e)): generation number, self-pointer start block, and
// back-pointer start block. A zero-padded decimal field of this width can
// represent any 64-bit value without changing the document's length, which
// is what lets Stamp overwrite the bytes in place.
const placeholderWidth = 20

func zeroPadded(n uint64) string {
	return fmt.Sprintf("%0*d", placeholderWidth, n)
}

// VolumeLockState is the on-tape <volumelockstate> value (spec.md §3,
// "volume-lock state"). Grounded on original_source's
// VOLUME_UNLOCKED/VOLUME_LOCKED/VOLUME_PERM_LOCKED: unlocked permits
// writes, locked blocks them but can be relaxed again, permlocked (WORM)
// never can.
type VolumeLockState int

const (
	VolumeUnlocked VolumeLockState = iota
	VolumeLocked
	VolumePermLocked
)

func (s VolumeLockState) String() string {
	switch s {
	case VolumeLocked:
		return "locked"
	case VolumePermLocked:
		return "permlocked"
	default:
		return "unlocked"
	}
}

func parseVolumeLockState(s string) VolumeLockState {
	switch s {
	case "locked":
		return VolumeLocked
	case "permlocked":
		return VolumePermLocked
	default:
		return VolumeUnlocked
	}
}

// maxCommentLen bounds the optional <comment> tag (spec.md §3, "optional
// commit message ... (≤ fixed bound)"; original_source rejects a comment
// longer than INDEX_MAX_COMMENT_LEN with 17094E).
const maxCommentLen = 1024

// Meta carries the index-wide fields that sit outside any one dentry
// (spec.md §3 Index).
type Meta struct {
	Version           Version
	VolumeUUID        string
	UpdateTime        time.Time
	AllowPolicyUpdate bool
	Criteria          string // the index-partition criteria rule string in force, if any
	Comment           string
	VolumeLockState   VolumeLockState
	NextUID           uint64 // v2.0+: the index's recorded next-free-UID high-water mark
}

// Document is a built (but not yet stamped) index XML document: the byte
// buffer plus the byte ranges of the three fields the commit coordinator
// fills in once the index's own on-tape position is known.
type Document struct {
	Buf []byte

	genStart, genEnd   int
	selfStart, selfEnd int
	prevStart, prevEnd int
	hasPrev            bool
}

// Stamp rewrites the generation number, self-pointer, and (if a previous
// generation exists) back-pointer fields in place, per spec.md §4.8(e).
func (d *Document) Stamp(generation uint64, selfBlock uint64, prevBlock uint64) {
	copy(d.Buf[d.genStart:d.genEnd], zeroPadded(generation))
	copy(d.Buf[d.selfStart:d.selfEnd], zeroPadded(selfBlock))
	if d.hasPrev {
		copy(d.Buf[d.prevStart:d.prevEnd], zeroPadded(prevBlock))
	}
}

type xmlBuilder struct {
	buf bytes.Buffer
}

func (b *xmlBuilder) raw(s string) { b.buf.WriteString(s) }

func (b *xmlBuilder) text(s string) {
	xml.EscapeText(&b.buf, []byte(s))
}

func (b *xmlBuilder) elem(tag, value string) {
	b.raw("<" + tag + ">")
	b.text(value)
	b.raw("</" + tag + ">")
}

func (b *xmlBuilder) elemBool(tag string, value bool) {
	if value {
		b.elem(tag, "true")
	} else {
		b.elem(tag, "false")
	}
}

// BuildLabelDocument renders an XMLLabel to its on-tape XML form (spec.md
// §4.8, applied to the ltfslabel schema rather than ltfsindex).
func BuildLabelDocument(lbl label.XMLLabel) []byte {
	var b xmlBuilder
	b.raw(fmt.Sprintf("<ltfslabel version=%q>", lbl.Version))
	b.elem("creator", lbl.Creator)
	b.elem("formattime", formatTimestamp(lbl.FormatTime))
	b.elem("volumeuuid", lbl.VolumeUUID)
	b.raw("<location>")
	b.elem("partition", string(lbl.ThisPartition))
	b.raw("</location>")
	b.raw("<partitions>")
	b.elem("index", string(lbl.IndexPartition))
	b.elem("data", string(lbl.DataPartition))
	b.raw("</partitions>")
	b.elem("blocksize", fmt.Sprintf("%d", lbl.BlockSize))
	b.elemBool("compression", lbl.Compression)
	b.raw("</ltfslabel>")
	return b.buf.Bytes()
}

// BuildIndexDocument serializes tree and meta into a Document ready to be
// stamped and then written to tape. The generation number, the self-pointer
// block and (when hasPrevGeneration) the back-pointer block are placeholders
// at this point; see Document.Stamp. The self-pointer partition is always
// the index partition.
func BuildIndexDocument(tree *dentry.Tree, meta Meta, hasPrevGeneration bool, prevPartition byte) (*Document, error) {
	if len(meta.Comment) > maxCommentLen {
		return nil, ltfserr.New(ltfserr.IndexInvalid, "comment exceeds maximum length")
	}

	var b xmlBuilder
	doc := &Document{hasPrev: hasPrevGeneration}

	b.raw(fmt.Sprintf("<ltfsindex version=%q>", meta.Version.String()))
	b.elem("creator", "ltfscore")
	b.elem("volumeuuid", meta.VolumeUUID)

	b.raw("<generationnumber>")
	doc.genStart = b.buf.Len()
	b.raw(zeroPadded(0))
	doc.genEnd = b.buf.Len()
	b.raw("</generationnumber>")

	b.elem("updatetime", formatTimestamp(meta.UpdateTime))

	b.raw("<location><partition>")
	b.text(string(label.IndexPartition))
	b.raw("</partition><startblock>")
	doc.selfStart = b.buf.Len()
	b.raw(zeroPadded(0))
	doc.selfEnd = b.buf.Len()
	b.raw("</startblock></location>")

	if hasPrevGeneration {
		b.raw("<previousgenerationlocation><partition>")
		b.text(string(prevPartition))
		b.raw("</partition><startblock>")
		doc.prevStart = b.buf.Len()
		b.raw(zeroPadded(0))
		doc.prevEnd = b.buf.Len()
		b.raw("</startblock></previousgenerationlocation>")
	}

	b.elemBool("allowpolicyupdate", meta.AllowPolicyUpdate)
	if meta.Criteria != "" {
		b.raw("<dataplacementpolicy><indexpartitioncriteria>")
		b.text(meta.Criteria)
		b.raw("</indexpartitioncriteria></dataplacementpolicy>")
	}
	if meta.Comment != "" {
		b.elem("comment", meta.Comment)
	}
	if meta.VolumeLockState != VolumeUnlocked {
		b.elem("volumelockstate", meta.VolumeLockState.String())
	}
	if hasUIDTag(meta.Version) {
		b.elem("nextuid", fmt.Sprintf("%d", meta.NextUID))
	}

	root, ok := tree.Get(tree.RootID())
	if !ok {
		return nil, fmt.Errorf("index: root dentry missing")
	}
	if err := writeDentry(&b, tree, root, true); err != nil {
		return nil, err
	}

	b.raw("</ltfsindex>")
	doc.Buf = b.buf.Bytes()
	return doc, nil
}

func writeDentry(b *xmlBuilder, tree *dentry.Tree, d *dentry.Dentry, isRoot bool) error {
	tag := "file"
	if d.IsDirectory {
		tag = "directory"
	}
	b.raw("<" + tag + ">")

	name := d.Name
	if isRoot {
		name = ""
	}
	if needsPercentEncoding(name) {
		b.raw(`<name percentencoded="true">`)
		b.text(percentEncode(name))
		b.raw("</name>")
	} else {
		b.elem("name", name)
	}

	b.elem("uid", fmt.Sprintf("%d", d.UID))
	b.elem("creationtime", formatTimestamp(dentryTimeToTime(d.CreateTime)))
	b.elem("changetime", formatTimestamp(dentryTimeToTime(d.ChangeTime)))
	b.elem("modifytime", formatTimestamp(dentryTimeToTime(d.ModifyTime)))
	b.elem("accesstime", formatTimestamp(dentryTimeToTime(d.AccessTime)))
	b.elem("backuptime", formatTimestamp(dentryTimeToTime(d.BackupTime)))
	b.elemBool("readonly", d.ReadOnly)

	if !d.IsDirectory {
		if d.IsSymlink {
			b.elem("symlink", d.SymlinkTarget)
		} else {
			b.elem("length", fmt.Sprintf("%d", d.Size))
			b.raw("<extentinfo>")
			for _, e := range d.Extents {
				b.raw("<extent>")
				b.elem("partition", string(e.StartPartition))
				b.elem("startblock", fmt.Sprintf("%d", e.StartBlock))
				b.elem("byteoffset", fmt.Sprintf("%d", e.ByteOffset))
				b.elem("bytecount", fmt.Sprintf("%d", e.ByteCount))
				b.elem("fileoffset", fmt.Sprintf("%d", e.FileOffset))
				b.raw("</extent>")
			}
			b.raw("</extentinfo>")
		}
	}

	if len(d.Xattrs) > 0 {
		b.raw("<xattrinfo>")
		for _, x := range d.Xattrs {
			b.raw("<xattr>")
			b.elem("key", x.Key)
			check, err := pathname.ValidateXattrValue(x.Value)
			if err != nil {
				return err
			}
			if check.XMLOK {
				b.elem("value", string(x.Value))
			} else {
				b.raw(`<value base64="true">`)
				b.text(base64.StdEncoding.EncodeToString(x.Value))
				b.raw("</value>")
			}
			b.raw("</xattr>")
		}
		b.raw("</xattrinfo>")
	}

	// Preserved unknown tags are re-emitted here, immediately after the
	// known fields and before any nested <contents>; this is not always
	// byte-identical to their original position in an arbitrarily
	// reordered source document, but it is stable across a parse/write
	// cycle of documents this package itself produced.
	for _, u := range d.Unknown {
		b.raw(string(u.Raw))
	}

	if d.IsDirectory {
		b.raw("<contents>")
		for _, childID := range d.Children {
			child, ok := tree.Get(childID)
			if !ok {
				continue
			}
			if err := writeDentry(b, tree, child, false); err != nil {
				return err
			}
		}
		b.raw("</contents>")
	}

	b.raw("</" + tag + ">")
	return nil
}

func needsPercentEncoding(name string) bool {
	if name == "" {
		return false
	}
	if err := pathname.ValidateFile(name); err != nil {
		return true
	}
	return false
}

func percentEncode(name string) string {
	var out bytes.Buffer
	for _, c := range []byte(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-' || c == '_' || c == '.' || c == '~':
			out.WriteByte(c)
		default:
			fmt.Fprintf(&out, "%%%02X", c)
		}
	}
	return out.String()
}

func percentDecode(s string) (string, error) {
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) {
				return "", fmt.Errorf("index: truncated percent-encoding")
			}
			var b int
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02X", &b); err != nil {
				return "", fmt.Errorf("index: invalid percent-encoding: %w", err)
			}
			out.WriteByte(byte(b))
			i += 2
		} else {
			out.WriteByte(s[i])
		}
	}
	return out.String(), nil
}
