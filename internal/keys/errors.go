package keys

import "errors"

// Sentinel errors surfaced to callers. Each operation wraps the
// underlying cause; match with errors.Is.
var (
	ErrKeyGeneration     = errors.New("keys: key generation failed")
	ErrPublicKeyImport   = errors.New("keys: public key import failed")
	ErrMessageEncryption = errors.New("keys: message encryption failed")
	ErrMessageDecryption = errors.New("keys: message decryption failed")
	ErrKeyBackup         = errors.New("keys: key backup failed")
)
