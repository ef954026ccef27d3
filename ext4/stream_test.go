package ext4

import (
	"bytes"
	"io"
	"testing"

	"github.com/ext4fs/ext4reader/backend"
)

func newTestFS(t *testing.T, blockSize uint32, imageSize int) (*FileSystem, []byte) {
	t.Helper()
	img := make([]byte, imageSize)
	for i := range img {
		img[i] = byte(i)
	}
	fs := &FileSystem{
		img: backend.NewMemory(img),
		sb:  &Superblock{BlockSize: blockSize},
		cfg: Config{},
	}
	return fs, img
}

func TestStreamSimpleContiguousRead(t *testing.T) {
	fs, _ := newTestFS(t, 4, 256)
	extents := []Extent{{Logical: 0, Phys: 10, Length: 1}, {Logical: 1, Phys: 20, Length: 2}}
	s := newStream(fs, 1, 12, extents, false, nil)

	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{40, 41, 42, 43, 80, 81, 82, 83, 84, 85, 86, 87}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStreamSparseGap(t *testing.T) {
	fs, _ := newTestFS(t, 4, 256)
	extents := []Extent{{Logical: 0, Phys: 10, Length: 1}, {Logical: 2, Phys: 20, Length: 1}}
	s := newStream(fs, 1, 16, extents, false, nil)

	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{40, 41, 42, 43, 0, 0, 0, 0, 80, 81, 82, 83, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStreamPartialFinalBlock(t *testing.T) {
	fs, _ := newTestFS(t, 4, 256)
	extents := []Extent{{Logical: 0, Phys: 10, Length: 1}}
	s := newStream(fs, 1, 3, extents, false, nil)

	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{40, 41, 42}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStreamSeekAndRead(t *testing.T) {
	fs, _ := newTestFS(t, 4, 256)
	extents := []Extent{{Logical: 0, Phys: 10, Length: 1}, {Logical: 1, Phys: 20, Length: 2}}
	s := newStream(fs, 1, 12, extents, false, nil)

	if _, err := s.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{81, 82, 83, 84, 85, 86, 87}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestStreamSeekEndConvention exercises the documented non-POSIX End
// convention: pos = size - offset, not size + offset.
func TestStreamSeekEndConvention(t *testing.T) {
	fs, _ := newTestFS(t, 4, 256)
	extents := []Extent{{Logical: 0, Phys: 10, Length: 3}}
	s := newStream(fs, 1, 12, extents, false, nil)

	pos, err := s.Seek(4, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 8 {
		t.Errorf("pos = %d, want 8 (size 12 - offset 4)", pos)
	}

	if _, err := s.Seek(-1, io.SeekEnd); err == nil {
		t.Error("expected error for negative End offset")
	}
}

type xorCrypto struct{}

func (xorCrypto) DecryptPage(ctx []byte, page []byte, logicalOffset, physOffset uint64, ino uint32) error {
	key := byte(physOffset)
	for i := range page {
		page[i] ^= key
	}
	return nil
}

func TestStreamEncryptedPage(t *testing.T) {
	fs, img := newTestFS(t, 16, 4096)
	fs.cfg.ContentCrypto = xorCrypto{}

	extents := []Extent{{Logical: 0, Phys: 100, Length: 1}}
	s := newStream(fs, 7, 16, extents, false, []byte{0x01})

	got := make([]byte, 16)
	n, err := s.Read(got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 16 {
		t.Fatalf("n = %d, want 16", n)
	}

	physOff := int64(100 * 16)
	want := make([]byte, 16)
	copy(want, img[physOff:physOff+16])
	key := byte(physOff)
	for i := range want {
		want[i] ^= key
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
