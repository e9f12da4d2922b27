package drive

import (
	"context"
	"fmt"
	"sync"

	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// recordKind distinguishes a data record from a filemark in the mock's
// in-memory log (spec.md §9, "tests implement an in-memory tape that
// records writes and plays back reads block-for-block, including
// filemarks and EOD").
type recordKind int

const (
	recData recordKind = iota
	recFilemark
)

type tapeRecord struct {
	kind recordKind
	data []byte
}

type mockPartition struct {
	records  []tapeRecord
	capacity uint64 // MiB
}

// Mock is an in-memory Handle implementation for tests: two partitions (0
// and 1), each a simple append log of records and filemarks, with MAM
// attributes, reservation, compression/LBP mode flags, and a simulated
// early-warning threshold.
type Mock struct {
	mu sync.Mutex

	opened     bool
	devname    string
	reserved   bool
	keyAlias   string
	removalOK  bool
	compressOn bool
	appendOnly bool
	lbp        LBPMethod
	sili       bool

	partitions [2]*mockPartition
	mam        map[byte]map[uint16][]byte

	pos Position

	// EarlyWarningAt is the cumulative byte count, per partition, past
	// which writes begin reporting early warning; HardEndAt is where
	// writes start failing with NoSpace. Tests configure these directly.
	EarlyWarningAt [2]uint64
	HardEndAt      [2]uint64
	written        [2]uint64

	earlyWarningLatched bool

	// WriteProtected and Encrypted let a test pose as a write-protected or
	// encrypted cartridge (spec.md §4.9 step 5); both default to false.
	WriteProtected bool
	Encrypted      bool
}

// NewMock returns a Mock sized with generous defaults; tests that want to
// exercise early-warning/NoSpace paths should override EarlyWarningAt and
// HardEndAt directly.
func NewMock() *Mock {
	m := &Mock{
		partitions: [2]*mockPartition{
			{capacity: 100000},
			{capacity: 100000},
		},
		mam:       make(map[byte]map[uint16][]byte),
		sili:      true,
		removalOK: true,
	}
	m.EarlyWarningAt[0] = 1 << 40
	m.EarlyWarningAt[1] = 1 << 40
	m.HardEndAt[0] = 1 << 41
	m.HardEndAt[1] = 1 << 41
	return m
}

func (m *Mock) partitionIndex(p byte) (int, error) {
	switch p {
	case 'a':
		return 0, nil
	case 'b':
		return 1, nil
	default:
		return 0, ltfserr.New(ltfserr.InvalidPath, "unknown partition letter")
	}
}

func (m *Mock) Open(ctx context.Context, devname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	m.devname = devname
	return nil
}

func (m *Mock) Reopen(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return ltfserr.New(ltfserr.DeviceUnopenable, "reopen before open")
	}
	return nil
}

func (m *Mock) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *Mock) Reserve(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved {
		return ltfserr.New(ltfserr.ReservationConflict, "drive already reserved")
	}
	m.reserved = true
	return nil
}

func (m *Mock) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved = false
	return nil
}

func (m *Mock) PreventRemoval(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removalOK = false
	return nil
}

func (m *Mock) AllowRemoval(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removalOK = true
	return nil
}

func (m *Mock) Load(ctx context.Context, force bool) error {
	return nil
}

func (m *Mock) Unload(ctx context.Context, keepOnDrive bool) error {
	return nil
}

func (m *Mock) TestUnitReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return ltfserr.New(ltfserr.DeviceUnopenable, "drive not open")
	}
	return nil
}

func (m *Mock) ReadPosition(ctx context.Context) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}

func (m *Mock) Locate(ctx context.Context, partition byte, block uint64) error {
	idx, err := m.partitionIndex(partition)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if block > uint64(len(m.partitions[idx].records)) {
		return ltfserr.New(ltfserr.InvalidPath, "locate beyond end of data")
	}
	m.pos = Position{Partition: partition, Block: block}
	if m.written[idx] > m.EarlyWarningAt[idx] {
		m.pos.EarlyWarning = true
	}
	return nil
}

func (m *Mock) Space(ctx context.Context, count int64, kind SpaceKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.partitionIndex(m.pos.Partition)
	if err != nil {
		return err
	}
	records := m.partitions[idx].records

	switch kind {
	case SpaceRecords:
		newBlock := int64(m.pos.Block) + count
		if newBlock < 0 || newBlock > int64(len(records)) {
			return ltfserr.New(ltfserr.InvalidPath, "space beyond end of data")
		}
		m.pos.Block = uint64(newBlock)
	case SpaceFilemarks:
		remaining := count
		block := int64(m.pos.Block)
		step := int64(1)
		if remaining < 0 {
			step = -1
			remaining = -remaining
		}
		for remaining > 0 {
			block += step
			if block < 0 || block > int64(len(records)) {
				return ltfserr.New(ltfserr.EodDetected, "ran off the end spacing by filemarks")
			}
			if block < int64(len(records)) && records[block].kind == recFilemark {
				remaining--
			}
			if block == int64(len(records)) {
				break
			}
		}
		m.pos.Block = uint64(block)
	case SpaceEOD:
		m.pos.Block = uint64(len(records))
	}
	return nil
}

func (m *Mock) SeekEOD(ctx context.Context, partition byte) error {
	idx, err := m.partitionIndex(partition)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = Position{Partition: partition, Block: uint64(len(m.partitions[idx].records))}
	return nil
}

func (m *Mock) Read(ctx context.Context, buf []byte) (int, ReadOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.partitionIndex(m.pos.Partition)
	if err != nil {
		return 0, ReadEOD, err
	}
	records := m.partitions[idx].records
	if m.pos.Block >= uint64(len(records)) {
		return 0, ReadEOD, nil
	}

	rec := records[m.pos.Block]
	if rec.kind == recFilemark {
		m.pos.Block++
		m.pos.Filemarks++
		return 0, ReadFilemark, nil
	}

	data, ok := verifyAndStripLBP(m.lbp, rec.data)
	if !ok {
		return 0, ReadData, ltfserr.New(ltfserr.LbpReadError, "logical block protection checksum mismatch")
	}

	if len(data) > len(buf) {
		return 0, ReadData, ltfserr.New(ltfserr.Overrun, "record longer than read buffer")
	}
	n := copy(buf, data)
	m.pos.Block++
	return n, ReadData, nil
}

func (m *Mock) Write(ctx context.Context, buf []byte, ignoreLess, ignoreNospc bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.partitionIndex(m.pos.Partition)
	if err != nil {
		return 0, err
	}

	if m.written[idx]+uint64(len(buf)) > m.HardEndAt[idx] {
		if ignoreNospc {
			return 0, nil
		}
		return 0, ltfserr.New(ltfserr.NoSpace, "end of medium reached")
	}

	stored := appendLBP(m.lbp, buf)
	p := m.partitions[idx]
	if m.pos.Block < uint64(len(p.records)) {
		p.records = p.records[:m.pos.Block]
	}
	p.records = append(p.records, tapeRecord{kind: recData, data: stored})
	m.pos.Block++
	m.written[idx] += uint64(len(buf))

	if m.written[idx] > m.EarlyWarningAt[idx] {
		if !m.earlyWarningLatched {
			m.earlyWarningLatched = true
			m.pos.EarlyWarning = true
		} else {
			m.pos.ProgrammableEarlyWarning = true
		}
	}

	return len(buf), nil
}

func (m *Mock) WriteFilemarks(ctx context.Context, count int, immed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.partitionIndex(m.pos.Partition)
	if err != nil {
		return err
	}
	p := m.partitions[idx]
	if m.pos.Block < uint64(len(p.records)) {
		p.records = p.records[:m.pos.Block]
	}
	for i := 0; i < count; i++ {
		p.records = append(p.records, tapeRecord{kind: recFilemark})
		m.pos.Block++
		m.pos.Filemarks++
	}
	return nil
}

func (m *Mock) Format(ctx context.Context, indexPartitionMiB uint64, density int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[0] = &mockPartition{capacity: indexPartitionMiB}
	total := m.partitions[1].capacity
	if total == 0 {
		total = 100000
	}
	remainder := total
	if remainder > indexPartitionMiB {
		remainder -= indexPartitionMiB
	}
	m.partitions[1] = &mockPartition{capacity: remainder}
	m.pos = Position{}
	m.written = [2]uint64{}
	m.earlyWarningLatched = false
	m.mam = make(map[byte]map[uint16][]byte)
	return nil
}

func (m *Mock) Unformat(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[0] = &mockPartition{capacity: m.partitions[0].capacity + m.partitions[1].capacity}
	m.partitions[1] = &mockPartition{}
	m.pos = Position{}
	m.mam = make(map[byte]map[uint16][]byte)
	return nil
}

func (m *Mock) ResetCapacity(ctx context.Context) error {
	return nil
}

func (m *Mock) SetCompression(ctx context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compressOn = on
	return nil
}

func (m *Mock) SetAppendOnly(ctx context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendOnly = on
	return nil
}

func (m *Mock) SetLBP(ctx context.Context, method LBPMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lbp = method
	return nil
}

func (m *Mock) RemainingCapacity(ctx context.Context) (Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	toMiB := func(written, cap uint64) uint64 {
		usedMiB := written / (1 << 20)
		if usedMiB > cap {
			return 0
		}
		return cap - usedMiB
	}
	return Capacity{
		MaxP0:    m.partitions[0].capacity,
		MaxP1:    m.partitions[1].capacity,
		RemainP0: toMiB(m.written[0], m.partitions[0].capacity),
		RemainP1: toMiB(m.written[1], m.partitions[1].capacity),
	}, nil
}

func (m *Mock) ReadAttribute(ctx context.Context, partition byte, id uint16) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.mam[partition]
	if !ok {
		return nil, ltfserr.New(ltfserr.InvalidPath, "no MAM attributes recorded for partition")
	}
	v, ok := part[id]
	if !ok {
		return nil, ltfserr.New(ltfserr.InvalidPath, "MAM attribute not set")
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Mock) WriteAttribute(ctx context.Context, partition byte, id uint16, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.mam[partition]
	if !ok {
		part = make(map[uint16][]byte)
		m.mam[partition] = part
	}
	if value == nil {
		delete(part, id)
		return nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	part[id] = stored
	return nil
}

// SetKey installs a data key, recording a synthetic alias for it; GetKeyAlias
// returns "" until this has been called (or after ClearKey), which is how a
// mount detects an encrypted cartridge with no key loaded yet.
func (m *Mock) SetKey(ctx context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(key) == 0 {
		return ltfserr.New(ltfserr.NullArg, "empty key")
	}
	m.keyAlias = fmt.Sprintf("mock-key-%x", key)
	return nil
}

func (m *Mock) ClearKey(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyAlias = ""
	return nil
}

func (m *Mock) GetKeyAlias(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyAlias, nil
}

// MediumStatus reports the test-configured WriteProtected/Encrypted flags.
func (m *Mock) MediumStatus(ctx context.Context) (MediumStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MediumStatus{WriteProtected: m.WriteProtected, Encrypted: m.Encrypted}, nil
}

func (m *Mock) SupportsSILI(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sili, nil
}

// SetSILISupported lets a test force the SILI-unsupported fallback path.
func (m *Mock) SetSILISupported(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sili = v
}

var _ Handle = (*Mock)(nil)
