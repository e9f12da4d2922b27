package label

import (
	"encoding/binary"

	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// Coherency is the MAM attribute 0x080A payload: the generation and
// self-pointer of the most recently committed index (spec.md §6).
type Coherency struct {
	Generation uint64
	Partition  byte
	Block      uint64
	VolumeUUID string
}

const coherencyUUIDLen = 36

// Pack serializes c to the big-endian binary layout stored in MAM
// attribute 0x080A: generation (8 bytes), partition (1 byte), block (8
// bytes), UUID (36 ASCII bytes).
func (c Coherency) Pack() []byte {
	buf := make([]byte, 8+1+8+coherencyUUIDLen)
	binary.BigEndian.PutUint64(buf[0:8], c.Generation)
	buf[8] = c.Partition
	binary.BigEndian.PutUint64(buf[9:17], c.Block)
	copy(buf[17:17+coherencyUUIDLen], padRight(c.VolumeUUID, coherencyUUIDLen))
	return buf
}

// UnpackCoherency is the inverse of Pack.
func UnpackCoherency(buf []byte) (Coherency, error) {
	const want = 8 + 1 + 8 + coherencyUUIDLen
	if len(buf) != want {
		return Coherency{}, ltfserr.New(ltfserr.LabelInvalid, "coherency attribute has the wrong length")
	}
	return Coherency{
		Generation: binary.BigEndian.Uint64(buf[0:8]),
		Partition:  buf[8],
		Block:      binary.BigEndian.Uint64(buf[9:17]),
		VolumeUUID: string(bytesTrimRight(buf[17 : 17+coherencyUUIDLen])),
	}, nil
}

func bytesTrimRight(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return b[:i]
}
