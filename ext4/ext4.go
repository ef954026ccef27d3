// Package ext4 implements a read-only reader for ext4-compatible
// filesystem images: mounting, inode lookup, directory listing, and
// byte-accurate file content reads including sparse holes and optional
// per-page decryption.
package ext4

import (
	"path"
	"strings"

	"github.com/ext4fs/ext4reader/backend"
)

const rootInodeNumber = 2

// FileSystem is a mounted, read-only view of one ext4 image. A FileSystem
// is safe to share read-only across goroutines once Mount returns;
// individual Streams obtained from it are not.
type FileSystem struct {
	img backend.File
	sb  *Superblock
	gds []GroupDescriptor
	cfg Config

	inodes inodeCache[uint32, *Inode]
}

// Mount parses img's superblock and group descriptor table and returns a
// ready-to-use FileSystem. img is retained for the FileSystem's lifetime;
// the caller remains responsible for eventually closing it.
func Mount(img backend.File, cfg Config) (*FileSystem, error) {
	const op = "Mount"

	fs := &FileSystem{
		img:    img,
		cfg:    cfg,
		inodes: newMapCache[uint32, *Inode](),
	}

	sbBuf := make([]byte, superblockSize)
	if _, err := fs.readMetadataAt(sbBuf, superblockOffset); err != nil {
		return nil, errf(op, KindIo, "reading superblock: %w", err)
	}
	sb, err := parseSuperblock(sbBuf)
	if err != nil {
		return nil, err
	}
	fs.sb = sb

	descStride := int(sb.DescSize)
	gdtBuf := make([]byte, descStride*int(sb.GroupCount()))
	if _, err := fs.readMetadataAt(gdtBuf, sb.GroupDescTableOffset()); err != nil {
		return nil, errf(op, KindIo, "reading group descriptor table: %w", err)
	}
	gds, err := parseGroupDescriptors(gdtBuf, sb)
	if err != nil {
		return nil, err
	}
	fs.gds = gds

	log.WithFields(logrusFields{"groups": len(gds), "block_size": sb.BlockSize}).Debug("ext4: mounted")

	return fs, nil
}

// readMetadataAt reads len(buf) bytes from the underlying image at off,
// applying the configured MetadataCrypto hook. Use this for every
// structural region: superblock, group descriptors, inodes, extent tree
// nodes, directory blocks.
func (fs *FileSystem) readMetadataAt(buf []byte, off int64) (int, error) {
	n, err := fs.img.ReadAt(buf, off)
	if n > 0 {
		if decErr := fs.cfg.metadataCrypto().DecryptMetadata(buf[:n], uint64(off)); decErr != nil {
			return n, decErr
		}
	}
	return n, err
}

// readDataAt reads len(buf) bytes of raw file content from the underlying
// image at off. File content is never subject to MetadataCrypto; its own
// decryption, if any, is the ContentCrypto hook applied in Stream.Read.
func (fs *FileSystem) readDataAt(buf []byte, off int64) (int, error) {
	return fs.img.ReadAt(buf, off)
}

// Superblock returns the mounted image's parsed superblock.
func (fs *FileSystem) Superblock() *Superblock { return fs.sb }

// SetInodeCache installs a custom inode cache, replacing the default
// unbounded map. Pass noCache[uint32, *Inode]{} to disable caching.
func (fs *FileSystem) SetInodeCache(c inodeCache[uint32, *Inode]) { fs.inodes = c }

// Inode loads and returns the inode numbered n (n >= 1; 2 is the root
// directory).
func (fs *FileSystem) Inode(n uint32) (*Inode, error) {
	const op = "FileSystem.Inode"

	if cached, ok := fs.inodes.Get(n); ok {
		return cached, nil
	}
	if n < 1 {
		return nil, errf(op, KindInodeOutOfRange, "inode number %d < 1", n)
	}

	groupIdx := (n - 1) / fs.sb.InodesPerGroup
	index := (n - 1) % fs.sb.InodesPerGroup
	if int(groupIdx) >= len(fs.gds) {
		return nil, errf(op, KindInodeOutOfRange, "group %d out of range", groupIdx)
	}
	group := fs.gds[groupIdx]
	if uint32(index) >= group.UsedInodes {
		return nil, errf(op, KindInodeOutOfRange, "inode %d: index %d >= used_inodes %d", n, index, group.UsedInodes)
	}

	pos := int64(group.InodeTableBlock)*int64(fs.sb.BlockSize) + int64(index)*int64(fs.sb.InodeSize)
	buf := make([]byte, fs.sb.InodeSize)
	if _, err := fs.readMetadataAt(buf, pos); err != nil {
		return nil, errf(op, KindIo, "reading inode %d: %w", n, err)
	}

	inode, err := parseInode(n, buf)
	if err != nil {
		return nil, err
	}

	fs.inodes.Add(n, inode)
	return inode, nil
}

// checksumSeedFor derives the per-file CRC32C seed from the filesystem
// UUID and the inode's identity, per spec: uuid ++ inode_number ++
// generation, each field's bytes folded in turn. When the superblock
// stores a nonzero checksum seed, that value is used in place of the
// UUID hash.
func (fs *FileSystem) checksumSeedFor(inode *Inode) (uint32, bool) {
	if !fs.sb.Features.hasMetadataCsum() {
		return 0, false
	}
	seed := fs.sb.ChecksumSeed
	if seed == 0 {
		seed = crc32cUpdate(^uint32(0), fs.sb.UUID.Bytes())
	}
	var numBuf [4]byte
	putLE32(numBuf[:], inode.Number)
	seed = crc32cUpdate(seed, numBuf[:])
	putLE32(numBuf[:], inode.Generation)
	seed = crc32cUpdate(seed, numBuf[:])
	return seed, true
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// OpenStream builds the sparse-aware byte stream for inode's file content.
// inode must use extents (UsesExtents()); any other block-mapping scheme
// is unsupported. encCtx is the per-file encryption context passed through
// to Config.ContentCrypto's DecryptPage on every page read; it is normally
// sourced by the caller from an xattr this reader does not itself parse.
// Pass nil when the file is not encrypted or no ContentCrypto is configured.
func (fs *FileSystem) OpenStream(inode *Inode, encCtx []byte) (*Stream, error) {
	const op = "FileSystem.OpenStream"

	if !inode.UsesExtents() {
		return nil, errf(op, KindUnsupportedFeature, "inode %d does not use extents", inode.Number)
	}

	seed, haveSeed := fs.checksumSeedFor(inode)
	extents, err := loadExtentTree(inode.Block[:], seed, haveSeed, fs.cfg.VerifyChecksums, fs.loadBlock)
	if err != nil {
		return nil, err
	}

	return newStream(fs, inode.Number, inode.Size, extents, inode.IsDir(), encCtx), nil
}

func (fs *FileSystem) loadBlock(blockNo uint64) ([]byte, error) {
	buf := make([]byte, fs.sb.BlockSize)
	off := int64(blockNo) * int64(fs.sb.BlockSize)
	if _, err := fs.readMetadataAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadDir returns the decoded directory entries of inode, which must be a
// directory.
func (fs *FileSystem) ReadDir(inode *Inode) ([]DirEntry, error) {
	const op = "FileSystem.ReadDir"

	if !inode.IsDir() {
		return nil, errf(op, KindBadMode, "inode %d is not a directory", inode.Number)
	}

	stream, err := fs.OpenStream(inode, nil)
	if err != nil {
		return nil, err
	}

	blockSize := int(fs.sb.BlockSize)
	var entries []DirEntry
	block := make([]byte, blockSize)
	for {
		n, err := stream.Read(block)
		if n > 0 {
			es, derr := readDirEntries(block[:n])
			if derr != nil {
				return entries, derr
			}
			entries = append(entries, es...)
		}
		if err != nil {
			break
		}
	}

	return entries, nil
}

// Lookup resolves a '/'-separated path starting from the root directory
// (inode 2) and returns the resolved inode.
func (fs *FileSystem) Lookup(p string) (*Inode, error) {
	const op = "FileSystem.Lookup"

	current, err := fs.Inode(rootInodeNumber)
	if err != nil {
		return nil, err
	}

	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return current, nil
	}

	for _, segment := range strings.Split(p, "/") {
		entries, err := fs.ReadDir(current)
		if err != nil {
			return nil, err
		}
		var next uint32
		found := false
		for _, e := range entries {
			if e.Name == segment {
				next = e.Inode
				found = true
				break
			}
		}
		if !found {
			return nil, errf(op, KindInodeOutOfRange, "path segment %q not found", segment)
		}
		current, err = fs.Inode(next)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// Open resolves p and, if it names a regular file, returns a Stream over
// its content. encCtx is forwarded to OpenStream; pass nil unless the file
// is known to be content-encrypted and Config.ContentCrypto is set.
func (fs *FileSystem) Open(p string, encCtx []byte) (*Stream, error) {
	const op = "FileSystem.Open"

	inode, err := fs.Lookup(p)
	if err != nil {
		return nil, err
	}
	if !inode.IsRegular() {
		return nil, errf(op, KindBadMode, "%q is not a regular file", p)
	}
	return fs.OpenStream(inode, encCtx)
}
