// Package drive defines the tape-drive contract (spec.md §4.4): the single
// capability set the rest of the core engine depends on, described as an
// interface rather than a specific SCSI dialect (spec.md §9, "Polymorphism
// over the drive"). Vendor backends implement Handle directly; tests and
// this package's own Mock implement it as an in-memory tape that records
// writes and plays back reads block-for-block, including filemarks and
// EOD.
package drive

import "context"

// SpaceKind selects what unit Space moves by.
type SpaceKind int

const (
	SpaceRecords SpaceKind = iota
	SpaceFilemarks
	SpaceEOD
)

// LBPMethod selects the logical block protection checksum algorithm
// (spec.md §4.4).
type LBPMethod int

const (
	LBPNone LBPMethod = iota
	LBPReedSolomon
	LBPCRC32C
)

// Position is the drive head's current location (spec.md §3, Position).
type Position struct {
	Partition                byte
	Block                    uint64
	Filemarks                uint64
	EarlyWarning             bool
	ProgrammableEarlyWarning bool
}

// Capacity reports remaining and maximum space per partition, in MiB
// (spec.md §4.4, remaining_capacity).
type Capacity struct {
	MaxP0, MaxP1       uint64
	RemainP0, RemainP1 uint64
}

// ReadOutcome distinguishes the three things a Read call can report
// (spec.md §4.4, Filemark semantics).
type ReadOutcome int

const (
	ReadData ReadOutcome = iota
	ReadFilemark
	ReadEOD
)

// ReservationHolder describes who holds a conflicting persistent
// reservation, surfaced via the full-info query (spec.md §4.4, Reservation).
type ReservationHolder struct {
	WWID string
}

// MediumStatus reports static properties of the loaded medium that bear on
// whether a mount may write to it (spec.md §4.9 step 5), grounded on
// original_source's device_data.write_protected/is_encrypted fields.
type MediumStatus struct {
	WriteProtected bool
	Encrypted      bool
}

// Handle is the tape-drive contract. All operations are blocking and are
// serialized by the caller's drive mutex (spec.md §5): only one positioning
// or data-transfer command is ever in flight on a given Handle.
type Handle interface {
	Open(ctx context.Context, devname string) error
	Reopen(ctx context.Context) error
	Close(ctx context.Context) error
	Reserve(ctx context.Context) error
	Release(ctx context.Context) error
	PreventRemoval(ctx context.Context) error
	AllowRemoval(ctx context.Context) error

	Load(ctx context.Context, force bool) error
	Unload(ctx context.Context, keepOnDrive bool) error
	TestUnitReady(ctx context.Context) error

	ReadPosition(ctx context.Context) (Position, error)
	Locate(ctx context.Context, partition byte, block uint64) error
	Space(ctx context.Context, count int64, kind SpaceKind) error
	SeekEOD(ctx context.Context, partition byte) error

	// Read fills buf and reports how many bytes were read and which
	// outcome occurred. A record longer than len(buf) is an Overrun
	// error; a record shorter than buf but non-zero is an underrun,
	// returned as (n, ReadData, nil) with n < len(buf).
	Read(ctx context.Context, buf []byte) (n int, outcome ReadOutcome, err error)
	// Write appends buf as one record. ignoreLess suppresses LessSpace
	// on the final, undersized append a caller knows about in advance;
	// ignoreNospc suppresses a hard NoSpace once, converting it into a
	// best-effort partial write.
	Write(ctx context.Context, buf []byte, ignoreLess, ignoreNospc bool) (n int, err error)
	WriteFilemarks(ctx context.Context, count int, immed bool) error

	Format(ctx context.Context, indexPartitionMiB uint64, density int) error
	Unformat(ctx context.Context) error
	ResetCapacity(ctx context.Context) error

	SetCompression(ctx context.Context, on bool) error
	SetAppendOnly(ctx context.Context, on bool) error
	SetLBP(ctx context.Context, method LBPMethod) error

	RemainingCapacity(ctx context.Context) (Capacity, error)
	MediumStatus(ctx context.Context) (MediumStatus, error)

	ReadAttribute(ctx context.Context, partition byte, id uint16) ([]byte, error)
	// WriteAttribute sets a MAM attribute; a nil value clears it.
	WriteAttribute(ctx context.Context, partition byte, id uint16, value []byte) error

	SetKey(ctx context.Context, key []byte) error
	ClearKey(ctx context.Context) error
	GetKeyAlias(ctx context.Context) (string, error)

	// SupportsSILI reports whether the drive honors "suppress incorrect
	// length indication" reads. No layer above the drive calls it; reads
	// are issued the same way whatever it reports.
	SupportsSILI(ctx context.Context) (bool, error)
}
