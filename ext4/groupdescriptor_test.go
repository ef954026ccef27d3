package ext4

import "testing"

func TestParseGroupDescriptors32Bit(t *testing.T) {
	sb := &Superblock{DescSize: 32, InodesPerGroup: 100, groupCount: 2, Features: featureFlags{}}

	buf := make([]byte, 64)
	// group 0: inode_table_lo=5, free_inodes_count_lo=10
	putLE32(buf[8:], 5)
	putLE16(buf[14:], 10)
	// group 1: inode_table_lo=9, free_inodes_count_lo=100 (all free)
	putLE32(buf[32+8:], 9)
	putLE16(buf[32+14:], 100)

	gds, err := parseGroupDescriptors(buf, sb)
	if err != nil {
		t.Fatalf("parseGroupDescriptors: %v", err)
	}
	if len(gds) != 2 {
		t.Fatalf("len(gds) = %d, want 2", len(gds))
	}
	if gds[0].InodeTableBlock != 5 || gds[0].UsedInodes != 90 {
		t.Errorf("group 0 = %+v", gds[0])
	}
	if gds[1].InodeTableBlock != 9 || gds[1].UsedInodes != 0 {
		t.Errorf("group 1 = %+v", gds[1])
	}
}

func TestParseGroupDescriptorsCorruptGroup(t *testing.T) {
	sb := &Superblock{DescSize: 32, InodesPerGroup: 10, groupCount: 1}

	buf := make([]byte, 32)
	putLE16(buf[14:], 20) // free_inodes_count_lo > inodes_per_group

	if _, err := parseGroupDescriptors(buf, sb); err == nil {
		t.Fatal("expected CorruptGroup error")
	} else if e, ok := err.(*Error); !ok || e.Kind != KindCorruptGroup {
		t.Errorf("got %v, want KindCorruptGroup", err)
	}
}

func TestParseGroupDescriptorsUnusedFlag(t *testing.T) {
	sb := &Superblock{DescSize: 32, InodesPerGroup: 10, groupCount: 1}

	buf := make([]byte, 32)
	putLE16(buf[14:], 20)                       // would be corrupt if checked
	putLE16(buf[18:], groupDescInodesUnusedFlag) // flags

	gds, err := parseGroupDescriptors(buf, sb)
	if err != nil {
		t.Fatalf("parseGroupDescriptors: %v", err)
	}
	if gds[0].UsedInodes != 0 {
		t.Errorf("UsedInodes = %d, want 0", gds[0].UsedInodes)
	}
}
