package ext4

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/chacha20"
)

func TestNoneCryptoIsIdentity(t *testing.T) {
	page := []byte("unchanged")
	orig := append([]byte(nil), page...)

	if err := (NoneCrypto{}).DecryptPage(nil, page, 0, 0, 0); err != nil {
		t.Fatalf("DecryptPage: %v", err)
	}
	if !bytes.Equal(page, orig) {
		t.Errorf("NoneCrypto mutated the page: got %q, want %q", page, orig)
	}
}

func TestChaCha20PageCryptoRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, chacha20.KeySize)
	nonce := make([]byte, chacha20.NonceSize)
	nonce[0] = 0x01

	plaintext := bytes.Repeat([]byte("A"), 64)

	enc, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		t.Fatalf("NewUnauthenticatedCipher: %v", err)
	}
	ciphertext := make([]byte, len(plaintext))
	enc.XORKeyStream(ciphertext, plaintext)

	c := ChaCha20PageCrypto{Key: key}
	page := append([]byte(nil), ciphertext...)
	if err := c.DecryptPage(nonce, page, 0, 0, 7); err != nil {
		t.Fatalf("DecryptPage: %v", err)
	}
	if !bytes.Equal(page, plaintext) {
		t.Errorf("got %q, want %q", page, plaintext)
	}
}
