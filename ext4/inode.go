package ext4

import (
	"bytes"
	"time"

	"github.com/lunixbochs/struc"
	times "gopkg.in/djherbis/times.v1"
)

const inodeFixedSize = 128
const inodeBlockPayloadSize = 60

// Inode flag bits relevant to the read path.
const (
	inodeFlagIndex   = 0x00001000
	inodeFlagExtents = 0x00080000
)

// FileType is the type nibble derived from an inode's mode field.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeFifo
	FileTypeCharDevice
	FileTypeDirectory
	FileTypeBlockDevice
	FileTypeRegular
	FileTypeSymlink
	FileTypeSocket
)

// rawInode is the fixed 128-byte prefix, identical on every inode
// regardless of inode_size.
type rawInode struct {
	Mode           uint16                  `struc:"uint16,little"`
	UIDLo          uint16                  `struc:"uint16,little"`
	SizeLo         uint32                  `struc:"uint32,little"`
	Atime          uint32                  `struc:"uint32,little"`
	Ctime          uint32                  `struc:"uint32,little"`
	Mtime          uint32                  `struc:"uint32,little"`
	Dtime          uint32                  `struc:"uint32,little"`
	GIDLo          uint16                  `struc:"uint16,little"`
	LinksCount     uint16                  `struc:"uint16,little"`
	BlocksLo       uint32                  `struc:"uint32,little"`
	Flags          uint32                  `struc:"uint32,little"`
	Osd1           uint32                  `struc:"uint32,little"`
	Block          [inodeBlockPayloadSize]byte `struc:"[60]byte"`
	Generation     uint32                  `struc:"uint32,little"`
	FileACLLo      uint32                  `struc:"uint32,little"`
	SizeHigh       uint32                  `struc:"uint32,little"`
	ObsoFaddr      uint32                  `struc:"uint32,little"`
	BlocksHigh     uint16                  `struc:"uint16,little"`
	FileACLHigh    uint16                  `struc:"uint16,little"`
	UIDHigh        uint16                  `struc:"uint16,little"`
	GIDHigh        uint16                  `struc:"uint16,little"`
	ChecksumLo     uint16                  `struc:"uint16,little"`
	Reserved       uint16                  `struc:"uint16,little"`
}

// Inode is the validated, public view of an on-disk inode.
type Inode struct {
	Number     uint32
	Type       FileType
	Mode       uint16
	UID        uint32
	GID        uint32
	Size       uint64
	LinksCount uint16
	Flags      uint32
	Block      [inodeBlockPayloadSize]byte
	Generation uint32
	Checksum   uint32

	atime, ctime, mtime, crtime     uint32
	atimeNsec, ctimeNsec, mtimeNsec, crtimeNsec uint32
	hasCrtime bool
}

func (i *Inode) UsesExtents() bool { return i.Flags&inodeFlagExtents != 0 }
func (i *Inode) UsesHashIndex() bool { return i.Flags&inodeFlagIndex != 0 }
func (i *Inode) IsDir() bool       { return i.Type == FileTypeDirectory }
func (i *Inode) IsRegular() bool   { return i.Type == FileTypeRegular }
func (i *Inode) IsSymlink() bool   { return i.Type == FileTypeSymlink }

// Times returns the inode's timestamps through the djherbis/times.v1
// cross-platform Timespec view, for callers already written against that
// interface instead of this package's own field names.
func (i *Inode) Times() times.Timespec {
	return inodeTimespec{inode: i}
}

type inodeTimespec struct{ inode *Inode }

func (t inodeTimespec) ModTime() time.Time {
	return time.Unix(int64(t.inode.mtime), int64(t.inode.mtimeNsec))
}
func (t inodeTimespec) AccessTime() time.Time {
	return time.Unix(int64(t.inode.atime), int64(t.inode.atimeNsec))
}
func (t inodeTimespec) ChangeTime() time.Time {
	return time.Unix(int64(t.inode.ctime), int64(t.inode.ctimeNsec))
}
func (t inodeTimespec) HasChangeTime() bool { return true }
func (t inodeTimespec) BirthTime() time.Time {
	return time.Unix(int64(t.inode.crtime), int64(t.inode.crtimeNsec))
}
func (t inodeTimespec) HasBirthTime() bool { return t.inode.hasCrtime }

func fileTypeFromMode(mode uint16) (FileType, error) {
	switch mode >> 12 {
	case 0x1:
		return FileTypeFifo, nil
	case 0x2:
		return FileTypeCharDevice, nil
	case 0x4:
		return FileTypeDirectory, nil
	case 0x6:
		return FileTypeBlockDevice, nil
	case 0x8:
		return FileTypeRegular, nil
	case 0xA:
		return FileTypeSymlink, nil
	case 0xC:
		return FileTypeSocket, nil
	default:
		return FileTypeUnknown, errf("fileTypeFromMode", KindBadMode, "mode %#o", mode)
	}
}

// parseInode decodes the inode_size-byte record at buf[0] into a public
// Inode, applying the i_extra_isize-gated extended fields when present.
func parseInode(number uint32, buf []byte) (*Inode, error) {
	const op = "parseInode"
	if len(buf) < inodeFixedSize {
		return nil, errf(op, KindIo, "short inode read: %d bytes", len(buf))
	}

	var raw rawInode
	if err := struc.Unpack(bytes.NewReader(buf[:inodeFixedSize]), &raw); err != nil {
		return nil, wrapErr(op, KindIo, err)
	}

	ft, err := fileTypeFromMode(raw.Mode)
	if err != nil {
		return nil, err
	}

	inode := &Inode{
		Number:     number,
		Type:       ft,
		Mode:       raw.Mode & 0xFFF,
		UID:        uint32(raw.UIDLo) | uint32(raw.UIDHigh)<<16,
		GID:        uint32(raw.GIDLo) | uint32(raw.GIDHigh)<<16,
		Size:       uint64(raw.SizeLo) | uint64(raw.SizeHigh)<<32,
		LinksCount: raw.LinksCount,
		Flags:      raw.Flags,
		Block:      raw.Block,
		Generation: raw.Generation,
		Checksum:   uint32(raw.ChecksumLo),
		atime:      raw.Atime,
		ctime:      raw.Ctime,
		mtime:      raw.Mtime,
	}

	if len(buf) > inodeFixedSize+2 {
		extraIsize := readLE16(buf[inodeFixedSize:])
		tail := buf[inodeFixedSize+2:]

		has := func(relEnd int) bool { return int(extraIsize) >= relEnd }

		if has(4) && len(tail) >= 2 {
			inode.Checksum |= uint32(readLE16(tail[0:2])) << 16
		}
		if has(8) && len(tail) >= 6 {
			inode.ctimeNsec = readLE32(tail[2:6]) >> 2
		}
		if has(12) && len(tail) >= 10 {
			inode.mtimeNsec = readLE32(tail[6:10]) >> 2
		}
		if has(16) && len(tail) >= 14 {
			inode.atimeNsec = readLE32(tail[10:14]) >> 2
		}
		if has(20) && len(tail) >= 18 {
			inode.crtime = readLE32(tail[14:18])
			inode.hasCrtime = true
		}
		if has(24) && len(tail) >= 22 {
			inode.crtimeNsec = readLE32(tail[18:22]) >> 2
		}
	}

	return inode, nil
}
