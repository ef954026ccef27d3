package ext4

import (
	"bytes"

	"github.com/lunixbochs/struc"
	uuid "github.com/satori/go.uuid"
)

const superblockOffset = 1024
const superblockSize = 1024
const superblockMagic = 0xEF53

// fsStateClean is the only accepted s_state value: the filesystem was
// unmounted cleanly and has no recorded errors.
const fsStateClean = 0x0001

const creatorOSLinux = 0

// rawSuperblock is the on-disk layout, offset for offset, decoded as a
// single struc record since every field lives at a fixed position
// regardless of which feature flags are set.
type rawSuperblock struct {
	InodesCount         uint32   `struc:"uint32,little"`
	BlocksCountLo       uint32   `struc:"uint32,little"`
	RBlocksCountLo      uint32   `struc:"uint32,little"`
	FreeBlocksCountLo   uint32   `struc:"uint32,little"`
	FreeInodesCount     uint32   `struc:"uint32,little"`
	FirstDataBlock      uint32   `struc:"uint32,little"`
	LogBlockSize        uint32   `struc:"uint32,little"`
	LogClusterSize      uint32   `struc:"uint32,little"`
	BlocksPerGroup      uint32   `struc:"uint32,little"`
	ClustersPerGroup    uint32   `struc:"uint32,little"`
	InodesPerGroup      uint32   `struc:"uint32,little"`
	Mtime               uint32   `struc:"uint32,little"`
	Wtime               uint32   `struc:"uint32,little"`
	MntCount            uint16   `struc:"uint16,little"`
	MaxMntCount         uint16   `struc:"uint16,little"`
	Magic               uint16   `struc:"uint16,little"`
	State               uint16   `struc:"uint16,little"`
	Errors              uint16   `struc:"uint16,little"`
	MinorRevLevel       uint16   `struc:"uint16,little"`
	LastCheck           uint32   `struc:"uint32,little"`
	CheckInterval       uint32   `struc:"uint32,little"`
	CreatorOS           uint32   `struc:"uint32,little"`
	RevLevel            uint32   `struc:"uint32,little"`
	DefResuid           uint16   `struc:"uint16,little"`
	DefResgid           uint16   `struc:"uint16,little"`
	FirstIno            uint32   `struc:"uint32,little"`
	InodeSize           uint16   `struc:"uint16,little"`
	BlockGroupNr        uint16   `struc:"uint16,little"`
	FeatureCompat       uint32   `struc:"uint32,little"`
	FeatureIncompat     uint32   `struc:"uint32,little"`
	FeatureROCompat     uint32   `struc:"uint32,little"`
	UUID                [16]byte `struc:"[16]byte"`
	VolumeName          [16]byte `struc:"[16]byte"`
	LastMounted         [64]byte `struc:"[64]byte"`
	AlgorithmUsageBmp   uint32   `struc:"uint32,little"`
	PreallocBlocks      uint8    `struc:"uint8"`
	PreallocDirBlocks   uint8    `struc:"uint8"`
	ReservedGdtBlocks   uint16   `struc:"uint16,little"`
	JournalUUID         [16]byte `struc:"[16]byte"`
	JournalInum         uint32   `struc:"uint32,little"`
	JournalDev          uint32   `struc:"uint32,little"`
	LastOrphan          uint32   `struc:"uint32,little"`
	HashSeed            [4]uint32 `struc:"[4]uint32,little"`
	DefHashVersion      uint8    `struc:"uint8"`
	JnlBackupType       uint8    `struc:"uint8"`
	DescSize            uint16   `struc:"uint16,little"`
	DefaultMountOpts    uint32   `struc:"uint32,little"`
	FirstMetaBg         uint32   `struc:"uint32,little"`
	MkfsTime            uint32   `struc:"uint32,little"`
	JnlBlocks           [17]uint32 `struc:"[17]uint32,little"`
	BlocksCountHi       uint32   `struc:"uint32,little"`
	RBlocksCountHi      uint32   `struc:"uint32,little"`
	FreeBlocksCountHi   uint32   `struc:"uint32,little"`
	MinExtraIsize       uint16   `struc:"uint16,little"`
	WantExtraIsize      uint16   `struc:"uint16,little"`
	Flags               uint32   `struc:"uint32,little"`
	RaidStride          uint16   `struc:"uint16,little"`
	MmpInterval         uint16   `struc:"uint16,little"`
	MmpBlock            uint64   `struc:"uint64,little"`
	RaidStripeWidth     uint32   `struc:"uint32,little"`
	LogGroupsPerFlex    uint8    `struc:"uint8"`
	ChecksumType        uint8    `struc:"uint8"`
	ReservedPad         uint16   `struc:"uint16,little"`
	KbytesWritten       uint64   `struc:"uint64,little"`
	SnapshotInum        uint32   `struc:"uint32,little"`
	SnapshotID          uint32   `struc:"uint32,little"`
	SnapshotRBlocks     uint64   `struc:"uint64,little"`
	SnapshotList        uint32   `struc:"uint32,little"`
	ErrorCount          uint32   `struc:"uint32,little"`
	FirstErrorTime      uint32   `struc:"uint32,little"`
	FirstErrorIno       uint32   `struc:"uint32,little"`
	FirstErrorBlock     uint64   `struc:"uint64,little"`
	FirstErrorFunc      [32]byte `struc:"[32]byte"`
	FirstErrorLine      uint32   `struc:"uint32,little"`
	LastErrorTime       uint32   `struc:"uint32,little"`
	LastErrorIno        uint32   `struc:"uint32,little"`
	LastErrorLine       uint32   `struc:"uint32,little"`
	LastErrorBlock      uint64   `struc:"uint64,little"`
	LastErrorFunc       [32]byte `struc:"[32]byte"`
	MountOpts           [64]byte `struc:"[64]byte"`
	UsrQuotaInum        uint32   `struc:"uint32,little"`
	GrpQuotaInum        uint32   `struc:"uint32,little"`
	OverheadClusters    uint32   `struc:"uint32,little"`
	BackupBgs           [2]uint32 `struc:"[2]uint32,little"`
	EncryptAlgos        [4]uint8 `struc:"[4]uint8"`
	EncryptPwSalt       [16]byte `struc:"[16]byte"`
	LpfIno              uint32   `struc:"uint32,little"`
	PrjQuotaInum        uint32   `struc:"uint32,little"`
	ChecksumSeed        uint32   `struc:"uint32,little"`
	Reserved            [98]uint32 `struc:"[98]uint32,little"`
	Checksum            uint32   `struc:"uint32,little"`
}

// Superblock is the validated, public view of a mounted image's
// superblock.
type Superblock struct {
	BlockSize       uint32
	InodeSize       uint16
	InodesPerGroup  uint32
	BlocksPerGroup  uint32
	InodesCount     uint32
	BlocksCount     uint64
	FirstDataBlock  uint32
	DescSize        uint16
	UUID            uuid.UUID
	VolumeName      string
	ChecksumSeed    uint32
	Features        featureFlags

	groupDescTableOffset int64
	groupCount           uint32
}

func (s *Superblock) GroupCount() uint32            { return s.groupCount }
func (s *Superblock) GroupDescTableOffset() int64   { return s.groupDescTableOffset }

// parseSuperblock decodes and validates the 1024-byte superblock that sits
// at absolute offset 1024 in the image. buf must already be sliced by the
// caller to begin at that offset and hold at least 1024 bytes.
func parseSuperblock(buf []byte) (*Superblock, error) {
	const op = "parseSuperblock"
	if len(buf) < superblockSize {
		return nil, errf(op, KindIo, "short superblock read: %d bytes", len(buf))
	}

	var raw rawSuperblock
	if err := struc.Unpack(bytes.NewReader(buf[:superblockSize]), &raw); err != nil {
		return nil, wrapErr(op, KindIo, err)
	}

	if raw.Magic != superblockMagic {
		return nil, errf(op, KindBadMagic, "magic %#04x != %#04x", raw.Magic, superblockMagic)
	}
	if raw.State != fsStateClean {
		return nil, errf(op, KindUnclesnState, "state %#04x", raw.State)
	}
	if raw.CreatorOS != creatorOSLinux {
		return nil, errf(op, KindNonLinuxCreator, "creator_os %d", raw.CreatorOS)
	}
	if raw.RevLevel != 1 {
		return nil, errf(op, KindUnsupportedLayout, "rev_level %d", raw.RevLevel)
	}
	if raw.InodesPerGroup == 0 {
		return nil, errf(op, KindUnsupportedLayout, "inodes_per_group is zero")
	}

	features := featureFlags{compat: raw.FeatureCompat, incompat: raw.FeatureIncompat, roCompat: raw.FeatureROCompat}
	if bad := features.unsupportedIncompat(); bad != 0 {
		return nil, errf(op, KindUnsupportedFeature, "unsupported incompat bits %#x", bad)
	}

	var blockSize uint32
	switch raw.LogBlockSize {
	case 0:
		blockSize = 1024
	case 1:
		blockSize = 2048
	case 2:
		blockSize = 4096
	case 6:
		blockSize = 65536
	default:
		return nil, errf(op, KindUnsupportedLayout, "log_block_size %d", raw.LogBlockSize)
	}

	if raw.DescSize != 0 && !(features.has64Bit() && raw.DescSize == 64) {
		return nil, errf(op, KindUnsupportedLayout, "desc_size %d with 64bit=%v", raw.DescSize, features.has64Bit())
	}
	descSize := raw.DescSize
	if descSize == 0 {
		descSize = 32
	}

	blocksCount := uint64(raw.BlocksCountLo)
	if features.has64Bit() {
		blocksCount |= uint64(raw.BlocksCountHi) << 32
	}

	groupDescTableOffset := int64(blockSize)
	if blockSize == 1024 {
		groupDescTableOffset = 2048
	}

	groupCount := uint32((blocksCount - uint64(raw.FirstDataBlock) + uint64(raw.BlocksPerGroup) - 1) / uint64(raw.BlocksPerGroup))

	sb := &Superblock{
		BlockSize:            blockSize,
		InodeSize:            raw.InodeSize,
		InodesPerGroup:       raw.InodesPerGroup,
		BlocksPerGroup:       raw.BlocksPerGroup,
		InodesCount:          raw.InodesCount,
		BlocksCount:          blocksCount,
		FirstDataBlock:       raw.FirstDataBlock,
		DescSize:             descSize,
		UUID:                 uuid.UUID(raw.UUID),
		VolumeName:           cString(raw.VolumeName[:]),
		ChecksumSeed:         raw.ChecksumSeed,
		Features:             features,
		groupDescTableOffset: groupDescTableOffset,
		groupCount:           groupCount,
	}

	log.WithFields(logrusFields{
		"block_size":  sb.BlockSize,
		"groups":      sb.groupCount,
		"volume_name": sb.VolumeName,
	}).Debug("ext4: superblock parsed")

	return sb, nil
}

// cString trims an ASCII field at its first NUL, matching how ext4 stores
// fixed-width text fields like s_volume_name.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
