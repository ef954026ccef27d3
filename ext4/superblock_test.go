package ext4

import "testing"

// buildSuperblock returns a 1024-byte buffer with a valid, minimal ext4
// superblock, with individual fields overridable via opts.
func buildSuperblock(opts func(b []byte)) []byte {
	b := make([]byte, superblockSize)
	putLE32(b[0:], 100)        // inodes_count
	putLE32(b[4:], 65537)      // blocks_count_lo
	putLE32(b[20:], 1)         // first_data_block
	putLE32(b[24:], 2)         // log_block_size -> 4096
	putLE32(b[32:], 32768)     // blocks_per_group
	putLE32(b[40:], 50)        // inodes_per_group
	putLE16(b[56:], superblockMagic)
	putLE16(b[58:], fsStateClean)
	putLE32(b[72:], creatorOSLinux)
	putLE32(b[76:], 1) // rev_level
	putLE16(b[88:], 256) // inode_size
	putLE32(b[96:], incompatFiletype|incompatExtents) // feature_incompat
	putLE16(b[254:], 0) // desc_size (32-byte form)

	if opts != nil {
		opts(b)
	}
	return b
}

func TestParseSuperblockValid(t *testing.T) {
	buf := buildSuperblock(nil)
	sb, err := parseSuperblock(buf)
	if err != nil {
		t.Fatalf("parseSuperblock: %v", err)
	}
	if sb.BlockSize != 4096 {
		t.Errorf("BlockSize = %d, want 4096", sb.BlockSize)
	}
	if sb.GroupCount() != 2 {
		t.Errorf("GroupCount = %d, want 2", sb.GroupCount())
	}
	if sb.GroupDescTableOffset() != 4096 {
		t.Errorf("GroupDescTableOffset = %d, want 4096", sb.GroupDescTableOffset())
	}
}

func TestParseSuperblockBadMagic(t *testing.T) {
	buf := buildSuperblock(func(b []byte) { putLE16(b[56:], 0x1234) })
	if _, err := parseSuperblock(buf); err == nil {
		t.Fatal("expected BadMagic error")
	} else if e, ok := err.(*Error); !ok || e.Kind != KindBadMagic {
		t.Errorf("got %v, want KindBadMagic", err)
	}
}

func TestParseSuperblockUncleanState(t *testing.T) {
	buf := buildSuperblock(func(b []byte) { putLE16(b[58:], 0) })
	if _, err := parseSuperblock(buf); err == nil {
		t.Fatal("expected UnclesnState error")
	} else if e, ok := err.(*Error); !ok || e.Kind != KindUnclesnState {
		t.Errorf("got %v, want KindUnclesnState", err)
	}
}

func TestParseSuperblockUnsupportedIncompat(t *testing.T) {
	buf := buildSuperblock(func(b []byte) {
		putLE32(b[96:], incompatFiletype|incompatExtents|incompatEncrypt)
	})
	if _, err := parseSuperblock(buf); err == nil {
		t.Fatal("expected UnsupportedFeature error")
	} else if e, ok := err.(*Error); !ok || e.Kind != KindUnsupportedFeature {
		t.Errorf("got %v, want KindUnsupportedFeature", err)
	}
}

func TestParseSuperblockBadLogBlockSize(t *testing.T) {
	buf := buildSuperblock(func(b []byte) { putLE32(b[24:], 3) })
	if _, err := parseSuperblock(buf); err == nil {
		t.Fatal("expected UnsupportedLayout error")
	} else if e, ok := err.(*Error); !ok || e.Kind != KindUnsupportedLayout {
		t.Errorf("got %v, want KindUnsupportedLayout", err)
	}
}
