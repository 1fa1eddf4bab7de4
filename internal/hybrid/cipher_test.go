package hybrid

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	content := []byte("hello, secure world éàü \U0001F512")
	env, err := Seal(content, &priv.PublicKey)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	got, err := Open(env, priv)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("round trip = %q, want %q", got, content)
	}
}

func TestSealEmptyContent(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	env, err := Seal(nil, &priv.PublicKey)
	if err != nil {
		t.Fatalf("Seal(nil) error = %v", err)
	}
	if len(env.EncryptedContent) != 0 {
		t.Errorf("EncryptedContent length = %d, want 0 for empty input", len(env.EncryptedContent))
	}
	if len(env.EncryptedKey) == 0 {
		t.Error("EncryptedKey is empty; session key must still be wrapped")
	}
	if len(env.IV) != IVLen {
		t.Errorf("IV length = %d, want %d", len(env.IV), IVLen)
	}

	got, err := Open(env, priv)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Open() = %v, want empty content", got)
	}
}

func TestSealLargeContent(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	content := make([]byte, 1<<20) // 1 MiB
	if _, err := rand.Read(content); err != nil {
		t.Fatal(err)
	}

	env, err := Seal(content, &priv.PublicKey)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	got, err := Open(env, priv)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("1 MiB content did not round trip")
	}
}

func TestSealFreshness(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("same plaintext")
	a, err := Seal(content, &priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Seal(content, &priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a.IV, b.IV) {
		t.Error("two seals produced the same IV")
	}
	if bytes.Equal(a.EncryptedKey, b.EncryptedKey) {
		t.Error("two seals produced the same wrapped session key")
	}
	if bytes.Equal(a.EncryptedContent, b.EncryptedContent) {
		t.Error("two seals produced the same ciphertext")
	}
}

func TestOpenTamperedCiphertext(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	env, err := Seal([]byte("original"), &priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	env.EncryptedContent[0] ^= 0xff

	if _, err := Open(env, priv); err == nil {
		t.Error("Open() succeeded on tampered ciphertext")
	}
}

func TestOpenWrongKey(t *testing.T) {
	alice, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	mallory, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	env, err := Seal([]byte("for alice"), &alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(env, mallory); err == nil {
		t.Error("Open() succeeded with the wrong private key")
	}
}

func TestOpenBadIVLength(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	env, err := Seal([]byte("x"), &priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	env.IV = env.IV[:8]

	// Must return an error, not panic inside GCM.
	if _, err := Open(env, priv); err == nil {
		t.Error("Open() succeeded with truncated IV")
	}
}

func TestExportImportPublicKey(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	encoded, err := ExportPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("ExportPublicKey() error = %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Fatalf("export is not valid base64: %v", err)
	}

	pub, err := ImportPublicKey(encoded)
	if err != nil {
		t.Fatalf("ImportPublicKey() error = %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 || pub.E != priv.PublicKey.E {
		t.Error("imported key does not match exported key")
	}

	// Imported key must be usable for sealing.
	env, err := Seal([]byte("via imported key"), pub)
	if err != nil {
		t.Fatalf("Seal() with imported key error = %v", err)
	}
	if _, err := Open(env, priv); err != nil {
		t.Errorf("Open() error = %v", err)
	}
}

func TestImportPublicKeyInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"base64 garbage", base64.StdEncoding.EncodeToString([]byte("garbage"))},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ImportPublicKey(tt.input); err == nil {
				t.Errorf("ImportPublicKey(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestImportPublicKeyWrongAlgorithm(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(der)

	if _, err := ImportPublicKey(encoded); err == nil {
		t.Error("ImportPublicKey() accepted an Ed25519 key")
	}
}

func TestSealRandomFailure(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	prev := randSource
	randSource = failingReader{}
	defer func() { randSource = prev }()

	if _, err := Seal([]byte("x"), &priv.PublicKey); err == nil {
		t.Error("Seal() succeeded with a broken randomness source")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}
