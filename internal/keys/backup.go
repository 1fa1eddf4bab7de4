package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/couriermsg/courier/internal/hybrid"
	"github.com/couriermsg/courier/internal/store"
)

const (
	backupIterations = 100_000
	backupSaltLen    = 16
	backupKeyLen     = 32
)

// backupEnvelope is the outer backup format: base64(JSON) with the
// same numeric byte-array serialization as message envelopes.
type backupEnvelope struct {
	EncryptedData hybrid.ByteArray `json:"encryptedData"`
	Salt          hybrid.ByteArray `json:"salt"`
	IV            hybrid.ByteArray `json:"iv"`
}

// backupRecord is the plaintext inside a backup.
type backupRecord struct {
	UserID     string           `json:"userId"`
	PublicKey  hybrid.ByteArray `json:"publicKey"`
	PrivateKey hybrid.ByteArray `json:"privateKey"`
	CreatedAt  int64            `json:"createdAt"`
}

func deriveBackupKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, backupIterations, backupKeyLen, sha256.New)
}

// BackupKeys exports the user's active pair encrypted under a key
// derived from the passphrase. The passphrase itself is never stored;
// losing it makes the backup unreadable.
func (m *Manager) BackupKeys(userID, passphrase string) (string, error) {
	rec, err := m.db.ActiveKeyPair(userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyBackup, err)
	}
	if rec == nil {
		return "", fmt.Errorf("%w: no key pair for user %q", ErrKeyBackup, userID)
	}

	plaintext, err := json.Marshal(backupRecord{
		UserID:     rec.UserID,
		PublicKey:  rec.PublicKey,
		PrivateKey: rec.PrivateKey,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyBackup, err)
	}

	salt := make([]byte, backupSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: salt: %v", ErrKeyBackup, err)
	}
	iv := make([]byte, hybrid.IVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrKeyBackup, err)
	}

	block, err := aes.NewCipher(deriveBackupKey(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyBackup, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyBackup, err)
	}

	envelope, err := json.Marshal(backupEnvelope{
		EncryptedData: gcm.Seal(nil, iv, plaintext, nil),
		Salt:          salt,
		IV:            iv,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyBackup, err)
	}

	m.logger.Info("keys backed up", zap.String("user_id", userID))
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// RestoreKeys decrypts a backup and installs the contained pair.
// Returns false on any failure: wrong passphrase, corrupt data,
// storage trouble. The cause is logged, never raised.
func (m *Manager) RestoreKeys(data, passphrase string) bool {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		m.logger.Warn("restore failed: not base64", zap.Error(err))
		return false
	}
	var envelope backupEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		m.logger.Warn("restore failed: malformed envelope", zap.Error(err))
		return false
	}
	if len(envelope.IV) != hybrid.IVLen {
		m.logger.Warn("restore failed: bad iv length", zap.Int("len", len(envelope.IV)))
		return false
	}

	block, err := aes.NewCipher(deriveBackupKey(passphrase, envelope.Salt))
	if err != nil {
		m.logger.Warn("restore failed", zap.Error(err))
		return false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		m.logger.Warn("restore failed", zap.Error(err))
		return false
	}
	plaintext, err := gcm.Open(nil, envelope.IV, envelope.EncryptedData, nil)
	if err != nil {
		// Wrong passphrase and tampered data both land here; GCM
		// cannot tell them apart.
		m.logger.Warn("restore failed: decrypt", zap.Error(err))
		return false
	}

	var record backupRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		m.logger.Warn("restore failed: malformed record", zap.Error(err))
		return false
	}
	if record.UserID == "" {
		m.logger.Warn("restore failed: record has no user id")
		return false
	}
	parsed, err := x509.ParsePKCS8PrivateKey(record.PrivateKey)
	if err != nil {
		m.logger.Warn("restore failed: private key unparseable", zap.Error(err))
		return false
	}
	if _, ok := parsed.(*rsa.PrivateKey); !ok {
		m.logger.Warn("restore failed: not an RSA key")
		return false
	}

	m.mu.Lock()
	err = m.db.InsertKeyPair(&store.KeyPairRecord{
		UserID:     record.UserID,
		PublicKey:  record.PublicKey,
		PrivateKey: record.PrivateKey,
		CreatedAt:  record.CreatedAt,
	})
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("restore failed: persist", zap.Error(err))
		return false
	}

	m.logger.Info("keys restored", zap.String("user_id", record.UserID))
	return true
}
