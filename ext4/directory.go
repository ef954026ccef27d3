package ext4

import "unicode/utf8"

const dirEntryFixedSize = 8

// DirFileType is the on-disk file-type hint carried in a directory entry,
// a distinct (but consistently derived) table from the inode's FileType.
type DirFileType uint8

const (
	DirFileTypeUnknown DirFileType = iota
	DirFileTypeRegular
	DirFileTypeDirectory
	DirFileTypeCharDevice
	DirFileTypeBlockDevice
	DirFileTypeFifo
	DirFileTypeSocket
	DirFileTypeSymlink
)

// DirEntry is one decoded directory record.
type DirEntry struct {
	Inode uint32
	Name  string
	Type  DirFileType
}

// readDirEntries decodes every record in a single directory block, in
// order, skipping inode==0 tombstones. It does not stop at the first
// tombstone: rec_len-driven advancement continues to the end of block.
func readDirEntries(block []byte) ([]DirEntry, error) {
	const op = "readDirEntries"

	var entries []DirEntry
	off := 0
	for off+dirEntryFixedSize <= len(block) {
		inode := readLE32(block[off:])
		recLen := readLE16(block[off+4:])
		nameLen := int(block[off+6])
		fileType := DirFileType(block[off+7])

		if recLen < dirEntryFixedSize || off+int(recLen) > len(block) {
			return entries, errf(op, KindIo, "bad rec_len %d at offset %d", recLen, off)
		}

		if inode != 0 {
			nameStart := off + dirEntryFixedSize
			nameEnd := nameStart + nameLen
			if nameEnd > off+int(recLen) {
				return entries, errf(op, KindIo, "name_len %d exceeds rec_len %d", nameLen, recLen)
			}
			name := block[nameStart:nameEnd]
			if !utf8.Valid(name) {
				return entries, errf(op, KindBadUtf8, "directory entry name is not valid utf-8")
			}
			entries = append(entries, DirEntry{
				Inode: inode,
				Name:  string(name),
				Type:  fileType,
			})
		}

		off += int(recLen)
	}

	return entries, nil
}
