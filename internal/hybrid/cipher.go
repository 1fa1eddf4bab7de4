package hybrid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// RSAKeyBits is the modulus size for generated key pairs.
	RSAKeyBits = 2048
	// SessionKeyLen is the AES-256 session key length in bytes.
	SessionKeyLen = 32
	// IVLen is the GCM nonce length in bytes.
	IVLen = 12
)

// randSource is swapped by tests to exercise failure paths.
var randSource io.Reader = rand.Reader

// GenerateKey creates a new 2048-bit RSA key pair.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(randSource, RSAKeyBits)
}

// ExportPublicKey serializes a public key to base64-encoded SPKI DER,
// the format exchanged between conversation participants.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ImportPublicKey parses a base64-encoded SPKI DER public key.
func ImportPublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse SPKI: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key: %T", key)
	}
	return pub, nil
}

// Seal encrypts content for the recipient. Every call draws a fresh
// session key and a fresh IV; sealing the same content twice yields
// distinct envelopes. Empty content produces an envelope with an empty
// encryptedContent field rather than a bare GCM tag, so the empty
// message round-trips exactly.
func Seal(content []byte, recipient *rsa.PublicKey) (*Envelope, error) {
	sessionKey := make([]byte, SessionKeyLen)
	if _, err := io.ReadFull(randSource, sessionKey); err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	iv := make([]byte, IVLen)
	if _, err := io.ReadFull(randSource, iv); err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), randSource, recipient, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}

	env := &Envelope{
		EncryptedContent: ByteArray{},
		EncryptedKey:     wrapped,
		IV:               iv,
	}
	if len(content) > 0 {
		block, err := aes.NewCipher(sessionKey)
		if err != nil {
			return nil, err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		env.EncryptedContent = gcm.Seal(nil, iv, content, nil)
	}
	return env, nil
}

// Open decrypts an envelope with the recipient's private key. The
// returned content is empty when the envelope carries no ciphertext.
func Open(env *Envelope, priv *rsa.PrivateKey) ([]byte, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	if len(env.IV) != IVLen {
		return nil, fmt.Errorf("iv length %d, want %d", len(env.IV), IVLen)
	}
	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.EncryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", err)
	}
	if len(sessionKey) != SessionKeyLen {
		return nil, fmt.Errorf("session key length %d, want %d", len(sessionKey), SessionKeyLen)
	}
	if len(env.EncryptedContent) == 0 {
		return []byte{}, nil
	}
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	content, err := gcm.Open(nil, env.IV, env.EncryptedContent, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt content: %w", err)
	}
	return content, nil
}
