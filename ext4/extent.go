package ext4

import (
	"bytes"
	"sort"

	"github.com/lunixbochs/struc"
)

const extentHeaderMagic = 0x0AF3
const extentHeaderSize = 12
const extentEntrySize = 12
const extentMaxDepth = 5

// rawExtentHeader is the 12-byte header present at the start of every
// extent tree node, inline root included.
type rawExtentHeader struct {
	Magic      uint16 `struc:"uint16,little"`
	Entries    uint16 `struc:"uint16,little"`
	Max        uint16 `struc:"uint16,little"`
	Depth      uint16 `struc:"uint16,little"`
	Generation uint32 `struc:"uint32,little"`
}

// rawExtentLeaf is a depth-0 (leaf) 12-byte entry.
type rawExtentLeaf struct {
	Block   uint32 `struc:"uint32,little"`
	Len     uint16 `struc:"uint16,little"`
	StartHi uint16 `struc:"uint16,little"`
	StartLo uint32 `struc:"uint32,little"`
}

// rawExtentIndex is a depth>0 12-byte index entry.
type rawExtentIndex struct {
	Block    uint32 `struc:"uint32,little"`
	LeafLo   uint32 `struc:"uint32,little"`
	LeafHi   uint16 `struc:"uint16,little"`
	Unused   uint16 `struc:"uint16,little"`
}

// Extent is one materialised leaf of the extent tree: a run of Length
// contiguous physical blocks mapped starting at logical block Logical.
type Extent struct {
	Logical uint32
	Phys    uint64
	Length  uint16
}

// loadBlockFunc reads one block_size-sized, metadata-decrypted block from
// the image given its physical block number.
type loadBlockFunc func(blockNo uint64) ([]byte, error)

// loadExtentTree parses the inline root header+entries in core (the
// inode's 60-byte block payload) and, recursively, any index nodes it
// references, producing a flat list of leaf extents sorted by logical
// block. checksumSeed is the file's CRC32C seed; when present, every
// non-root node's trailing 4 bytes are verified against it. verify selects
// whether a mismatch is a hard failure or a logged warning.
func loadExtentTree(core []byte, checksumSeed uint32, haveSeed bool, verify bool, load loadBlockFunc) ([]Extent, error) {
	const op = "loadExtentTree"

	hdr, err := parseExtentHeader(core)
	if err != nil {
		return nil, err
	}
	if hdr.Depth > extentMaxDepth {
		return nil, errf(op, KindExtentTooDeep, "depth %d > %d", hdr.Depth, extentMaxDepth)
	}

	var extents []Extent
	if err := walkExtentNode(core, hdr.Depth, true, checksumSeed, haveSeed, verify, &extents, load); err != nil {
		return nil, err
	}

	sort.Slice(extents, func(i, j int) bool { return extents[i].Logical < extents[j].Logical })
	log.WithFields(logrusFields{"leaves": len(extents), "depth": hdr.Depth}).Debug("ext4: extent tree loaded")
	return extents, nil
}

func parseExtentHeader(data []byte) (*rawExtentHeader, error) {
	const op = "parseExtentHeader"
	if len(data) < extentHeaderSize {
		return nil, errf(op, KindIo, "short extent node: %d bytes", len(data))
	}
	var hdr rawExtentHeader
	if err := struc.Unpack(bytes.NewReader(data[:extentHeaderSize]), &hdr); err != nil {
		return nil, wrapErr(op, KindIo, err)
	}
	if hdr.Magic != extentHeaderMagic {
		return nil, errf(op, KindBadExtentMagic, "magic %#04x != %#04x", hdr.Magic, extentHeaderMagic)
	}
	return &hdr, nil
}

func walkExtentNode(data []byte, expectedDepth uint16, isRoot bool, seed uint32, haveSeed bool, verify bool, out *[]Extent, load loadBlockFunc) error {
	const op = "walkExtentNode"

	hdr, err := parseExtentHeader(data)
	if err != nil {
		return err
	}
	if hdr.Depth != expectedDepth {
		return errf(op, KindDepthMismatch, "depth %d != expected %d", hdr.Depth, expectedDepth)
	}

	if !isRoot && haveSeed {
		end := len(data) - 4
		if end < extentHeaderSize {
			return errf(op, KindIo, "extent node too short for checksum: %d bytes", len(data))
		}
		onDisk := readLE32(data[end:])
		computed := extCrc32c(seed, data[:end])
		if computed != onDisk {
			if verify {
				return errf(op, KindChecksumMismatch, "extent node checksum %#08x != %#08x", computed, onDisk)
			}
			log.WithFields(logrusFields{"computed": computed, "on_disk": onDisk}).Warn("ext4: extent node checksum mismatch, continuing")
		}
	}

	entries := int(hdr.Entries)

	if hdr.Depth == 0 {
		for n := 0; n < entries; n++ {
			start := extentHeaderSize + n*extentEntrySize
			if start+extentEntrySize > len(data) {
				return errf(op, KindIo, "extent leaf entry %d out of range", n)
			}
			var leaf rawExtentLeaf
			if err := struc.Unpack(bytes.NewReader(data[start:start+extentEntrySize]), &leaf); err != nil {
				return wrapErr(op, KindIo, err)
			}
			phys := uint64(leaf.StartLo) | uint64(leaf.StartHi)<<32
			*out = append(*out, Extent{Logical: leaf.Block, Phys: phys, Length: leaf.Len})
		}
		return nil
	}

	for n := 0; n < entries; n++ {
		start := extentHeaderSize + n*extentEntrySize
		if start+extentEntrySize > len(data) {
			return errf(op, KindIo, "extent index entry %d out of range", n)
		}
		var idx rawExtentIndex
		if err := struc.Unpack(bytes.NewReader(data[start:start+extentEntrySize]), &idx); err != nil {
			return wrapErr(op, KindIo, err)
		}
		child := uint64(idx.LeafLo) | uint64(idx.LeafHi)<<32

		block, err := load(child)
		if err != nil {
			return wrapErr(op, KindIo, err)
		}
		if err := walkExtentNode(block, hdr.Depth-1, false, seed, haveSeed, verify, out, load); err != nil {
			return err
		}
	}

	return nil
}
