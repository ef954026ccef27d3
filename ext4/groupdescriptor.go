package ext4

import (
	"bytes"

	"github.com/lunixbochs/struc"
)

const groupDescBlocksUnusedFlag = 0x0001
const groupDescInodesUnusedFlag = 0x0002

// rawGroupDescriptor32 is the 32-byte descriptor form, present regardless
// of the 64bit feature.
type rawGroupDescriptor32 struct {
	BlockBitmapLo     uint32 `struc:"uint32,little"`
	InodeBitmapLo     uint32 `struc:"uint32,little"`
	InodeTableLo      uint32 `struc:"uint32,little"`
	FreeBlocksCountLo uint16 `struc:"uint16,little"`
	FreeInodesCountLo uint16 `struc:"uint16,little"`
	UsedDirsCountLo   uint16 `struc:"uint16,little"`
	Flags             uint16 `struc:"uint16,little"`
	ExcludeBitmapLo   uint32 `struc:"uint32,little"`
	BlockBitmapCsumLo uint16 `struc:"uint16,little"`
	InodeBitmapCsumLo uint16 `struc:"uint16,little"`
	ItableUnusedLo    uint16 `struc:"uint16,little"`
	Checksum          uint16 `struc:"uint16,little"`
}

// rawGroupDescriptor64Tail is the extra 32 bytes appended when desc_size==64.
type rawGroupDescriptor64Tail struct {
	BlockBitmapHi     uint32 `struc:"uint32,little"`
	InodeBitmapHi     uint32 `struc:"uint32,little"`
	InodeTableHi      uint32 `struc:"uint32,little"`
	FreeBlocksCountHi uint16 `struc:"uint16,little"`
	FreeInodesCountHi uint16 `struc:"uint16,little"`
	UsedDirsCountHi   uint16 `struc:"uint16,little"`
	ItableUnusedHi    uint16 `struc:"uint16,little"`
	ExcludeBitmapHi   uint32 `struc:"uint32,little"`
	BlockBitmapCsumHi uint16 `struc:"uint16,little"`
	InodeBitmapCsumHi uint16 `struc:"uint16,little"`
	Reserved          uint32 `struc:"uint32,little"`
}

// GroupDescriptor is the validated, public view of one block-group
// descriptor.
type GroupDescriptor struct {
	InodeTableBlock     uint64
	UsedInodes          uint32
	FreeBlocksCount     uint64
	BlockBitmapChecksum uint32
	InodeBitmapChecksum uint32
}

// parseGroupDescriptors decodes the group descriptor table, one 32- or
// 64-byte record per group, starting at buf[0].
func parseGroupDescriptors(buf []byte, sb *Superblock) ([]GroupDescriptor, error) {
	const op = "parseGroupDescriptors"
	descs := make([]GroupDescriptor, sb.groupCount)
	stride := int(sb.DescSize)

	for i := uint32(0); i < sb.groupCount; i++ {
		start := int(i) * stride
		if start+stride > len(buf) {
			return nil, errf(op, KindIo, "short group descriptor table: group %d", i)
		}
		chunk := buf[start : start+stride]

		var core rawGroupDescriptor32
		if err := struc.Unpack(bytes.NewReader(chunk[:32]), &core); err != nil {
			return nil, wrapErr(op, KindIo, err)
		}

		inodeTable := uint64(core.InodeTableLo)
		freeInodes := uint32(core.FreeInodesCountLo)
		freeBlocks := uint64(core.FreeBlocksCountLo)
		var blockCsum, inodeCsum uint32 = uint32(core.BlockBitmapCsumLo), uint32(core.InodeBitmapCsumLo)

		if sb.Features.has64Bit() && stride == 64 {
			var tail rawGroupDescriptor64Tail
			if err := struc.Unpack(bytes.NewReader(chunk[32:64]), &tail); err != nil {
				return nil, wrapErr(op, KindIo, err)
			}
			inodeTable |= uint64(tail.InodeTableHi) << 32
			freeInodes |= uint32(tail.FreeInodesCountHi) << 16
			freeBlocks |= uint64(tail.FreeBlocksCountHi) << 32
			blockCsum |= uint32(tail.BlockBitmapCsumHi) << 16
			inodeCsum |= uint32(tail.InodeBitmapCsumHi) << 16
		}

		var usedInodes uint32
		if core.Flags&groupDescInodesUnusedFlag != 0 || core.Flags&groupDescBlocksUnusedFlag != 0 {
			usedInodes = 0
		} else {
			if freeInodes > sb.InodesPerGroup {
				return nil, errf(op, KindCorruptGroup, "group %d: free_inodes %d > inodes_per_group %d", i, freeInodes, sb.InodesPerGroup)
			}
			usedInodes = sb.InodesPerGroup - freeInodes
		}

		descs[i] = GroupDescriptor{
			InodeTableBlock:     inodeTable,
			UsedInodes:          usedInodes,
			FreeBlocksCount:     freeBlocks,
			BlockBitmapChecksum: blockCsum,
			InodeBitmapChecksum: inodeCsum,
		}
	}

	return descs, nil
}
