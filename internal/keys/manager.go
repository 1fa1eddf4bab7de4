// Package keys manages per-user RSA key pairs and the peer public key
// cache: generation, rotation, export/import, passphrase backup, and
// the encrypt/decrypt entry points built on the hybrid envelope
// scheme.
package keys

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/hybrid"
	"github.com/couriermsg/courier/internal/store"
)

// KeyPair is a parsed asymmetric key pair. One active pair per user;
// rotation supersedes rather than mutates.
type KeyPair struct {
	UserID     string
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
	CreatedAt  time.Time
}

// Info describes the encryption configuration for a conversation.
type Info struct {
	Algorithm string       `json:"algorithm"`
	KeyID     string       `json:"keyId"`
	Version   int          `json:"version"`
	Metadata  InfoMetadata `json:"metadata"`
}

// InfoMetadata carries the primitive sizes alongside Info.
type InfoMetadata struct {
	RSAKeySize int       `json:"rsaKeySize"`
	AESKeySize int       `json:"aesKeySize"`
	IVSize     int       `json:"ivSize"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversationStatus reports whether a conversation has every
// participant's public key available. IsEncrypted mirrors
// ReadyForEncryption; the duplicate field is kept for consumers that
// read either name, with no separate meaning.
type ConversationStatus struct {
	MissingKeys        []string `json:"missingKeys"`
	ReadyForEncryption bool     `json:"readyForEncryption"`
	IsEncrypted        bool     `json:"isEncrypted"`
}

// ExchangeResult is the outcome of a key exchange handshake.
type ExchangeResult struct {
	Success   bool   `json:"success"`
	PublicKey string `json:"publicKey,omitempty"`
}

// Manager owns all key material. One instance per process; the mutex
// serializes writers (generation, rotation, restore) per the
// one-writer-at-a-time model.
type Manager struct {
	db     *store.DB
	logger *zap.Logger

	mu sync.Mutex
}

// NewManager creates a key manager backed by the profile store.
func NewManager(db *store.DB, logger *zap.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// GenerateKeyPair creates and persists a 2048-bit RSA pair for the
// user, superseding any existing pair.
func (m *Manager) GenerateKeyPair(userID string) (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateLocked(userID)
}

// EnsureKeyPair returns the user's active key pair, generating one
// when none exists yet. Unlike GenerateKeyPair it never rotates.
func (m *Manager) EnsureKeyPair(userID string) (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, err := m.activePair(userID)
	if err != nil {
		return nil, err
	}
	if pair != nil {
		return pair, nil
	}
	return m.generateLocked(userID)
}

func (m *Manager) generateLocked(userID string) (*KeyPair, error) {
	priv, err := hybrid.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	now := time.Now()
	rec := &store.KeyPairRecord{
		UserID:     userID,
		PublicKey:  pubDER,
		PrivateKey: privDER,
		CreatedAt:  now.UnixMilli(),
	}
	if err := m.db.InsertKeyPair(rec); err != nil {
		return nil, fmt.Errorf("%w: persist: %v", ErrKeyGeneration, err)
	}

	m.logger.Info("key pair generated", zap.String("user_id", userID))
	return &KeyPair{
		UserID:     userID,
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
		CreatedAt:  now,
	}, nil
}

// activePair loads and parses the newest stored pair for a user.
// Returns nil when the user has no keys.
func (m *Manager) activePair(userID string) (*KeyPair, error) {
	rec, err := m.db.ActiveKeyPair(userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse stored private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("stored key is %T, want RSA", parsed)
	}
	return &KeyPair{
		UserID:     rec.UserID,
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
		CreatedAt:  time.UnixMilli(rec.CreatedAt),
	}, nil
}

// ExportPublicKey returns the user's active public key as base64 SPKI.
func (m *Manager) ExportPublicKey(userID string) (string, error) {
	pair, err := m.activePair(userID)
	if err != nil {
		return "", err
	}
	if pair == nil {
		return "", fmt.Errorf("no key pair for user %q", userID)
	}
	return hybrid.ExportPublicKey(pair.PublicKey)
}

// ImportPublicKey parses a base64 SPKI public key.
func (m *Manager) ImportPublicKey(encoded string) (*rsa.PublicKey, error) {
	pub, err := hybrid.ImportPublicKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublicKeyImport, err)
	}
	return pub, nil
}

// SavePeerKey validates and caches another user's public key.
func (m *Manager) SavePeerKey(userID, encoded string) error {
	pub, err := m.ImportPublicKey(encoded)
	if err != nil {
		return err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublicKeyImport, err)
	}
	if err := m.db.UpsertPeerKey(&store.PeerKeyRecord{
		UserID:    userID,
		PublicKey: der,
		CreatedAt: time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("persist peer key: %w", err)
	}
	m.logger.Info("peer key saved", zap.String("user_id", userID))
	return nil
}

// EncryptMessage seals content for the recipient's public key. A fresh
// session key and IV are drawn per call. Empty content is valid and
// yields an envelope with empty ciphertext.
func (m *Manager) EncryptMessage(content []byte, recipientPublicKey, senderID string) (*hybrid.Envelope, error) {
	pub, err := hybrid.ImportPublicKey(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient key: %v", ErrMessageEncryption, err)
	}
	env, err := hybrid.Seal(content, pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageEncryption, err)
	}
	m.logger.Debug("message encrypted",
		zap.String("sender_id", senderID),
		zap.Int("content_len", len(content)))
	return env, nil
}

// DecryptMessage opens an envelope with the recipient's active private
// key. Envelopes sealed under a superseded pair fail here; rotation is
// forward-only.
func (m *Manager) DecryptMessage(env *hybrid.Envelope, recipientID string) ([]byte, error) {
	pair, err := m.activePair(recipientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageDecryption, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: no key pair for user %q", ErrMessageDecryption, recipientID)
	}
	content, err := hybrid.Open(env, pair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageDecryption, err)
	}
	return content, nil
}

// VerifyMessageIntegrity decrypts the envelope and compares against
// the reference content. Returns false on any failure; never returns
// an error.
func (m *Manager) VerifyMessageIntegrity(original []byte, env *hybrid.Envelope, recipientID string) bool {
	content, err := m.DecryptMessage(env, recipientID)
	if err != nil {
		m.logger.Debug("integrity check failed", zap.Error(err))
		return false
	}
	return bytes.Equal(content, original)
}

// EncryptionInfo describes the scheme for a conversation. The key id
// embeds the generation time, so rotation observably changes it.
func (m *Manager) EncryptionInfo(conversationID string) Info {
	now := time.Now()
	return Info{
		Algorithm: "RSA-OAEP+AES-GCM",
		KeyID:     conversationID + "_" + strconv.FormatInt(now.UnixMilli(), 10),
		Version:   1,
		Metadata: InfoMetadata{
			RSAKeySize: hybrid.RSAKeyBits,
			AESKeySize: hybrid.SessionKeyLen * 8,
			IVSize:     hybrid.IVLen,
			CreatedAt:  now,
		},
	}
}

// ConversationEncryptionStatus reports which participants still lack a
// usable public key. A participant counts as covered by either a
// cached peer key or their own stored pair. Store failures degrade to
// "missing" rather than erroring.
func (m *Manager) ConversationEncryptionStatus(conversationID string, participants []string) ConversationStatus {
	missing := make([]string, 0)
	for _, p := range participants {
		known, err := m.participantHasKey(p)
		if err != nil {
			m.logger.Warn("key lookup failed, treating participant as missing",
				zap.String("conversation_id", conversationID),
				zap.String("user_id", p),
				zap.Error(err))
			known = false
		}
		if !known {
			missing = append(missing, p)
		}
	}
	ready := len(missing) == 0
	return ConversationStatus{
		MissingKeys:        missing,
		ReadyForEncryption: ready,
		IsEncrypted:        ready,
	}
}

func (m *Manager) participantHasKey(userID string) (bool, error) {
	peer, err := m.db.GetPeerKey(userID)
	if err != nil {
		return false, err
	}
	if peer != nil {
		return true, nil
	}
	own, err := m.db.ActiveKeyPair(userID)
	if err != nil {
		return false, err
	}
	return own != nil, nil
}

// RotateKeys installs a new pair for the user. The old pair stays on
// disk but the manager stops using it: envelopes sealed before the
// rotation can only be opened by a caller still holding the old
// private key.
func (m *Manager) RotateKeys(userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.generateLocked(userID); err != nil {
		return false, err
	}
	m.logger.Info("keys rotated", zap.String("user_id", userID))
	return true, nil
}

// ExchangeKeys ensures the caller has a pair and returns its public
// key for delivery to the other party. Failure is reported in the
// result, not raised.
func (m *Manager) ExchangeKeys(selfID, otherID string) ExchangeResult {
	pair, err := m.EnsureKeyPair(selfID)
	if err != nil {
		m.logger.Warn("key exchange failed",
			zap.String("self_id", selfID),
			zap.String("other_id", otherID),
			zap.Error(err))
		return ExchangeResult{Success: false}
	}

	encoded, err := hybrid.ExportPublicKey(pair.PublicKey)
	if err != nil {
		m.logger.Warn("key exchange export failed", zap.Error(err))
		return ExchangeResult{Success: false}
	}
	return ExchangeResult{Success: true, PublicKey: encoded}
}

// ClearAllKeys wipes every stored pair and peer key. Used on logout;
// idempotent.
func (m *Manager) ClearAllKeys() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.DeleteAllKeys(); err != nil {
		return fmt.Errorf("clear keys: %w", err)
	}
	m.logger.Info("all key material cleared")
	return nil
}
