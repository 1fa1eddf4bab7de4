package keys

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	m := testManager(t)

	original, err := m.GenerateKeyPair("alice")
	if err != nil {
		t.Fatal(err)
	}
	pub, err := m.ExportPublicKey("alice")
	if err != nil {
		t.Fatal(err)
	}
	env, err := m.EncryptMessage([]byte("survives the backup"), pub, "bob")
	if err != nil {
		t.Fatal(err)
	}

	backup, err := m.BackupKeys("alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("BackupKeys() error = %v", err)
	}

	if err := m.ClearAllKeys(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.DecryptMessage(env, "alice"); err == nil {
		t.Fatal("decrypt succeeded after ClearAllKeys")
	}

	if !m.RestoreKeys(backup, "correct horse battery staple") {
		t.Fatal("RestoreKeys() = false for valid backup")
	}

	restored, err := m.activePair("alice")
	if err != nil {
		t.Fatal(err)
	}
	if restored == nil {
		t.Fatal("no active pair after restore")
	}
	if restored.PublicKey.N.Cmp(original.PublicKey.N) != 0 {
		t.Error("restored pair differs from the backed up pair")
	}
	if restored.CreatedAt.UnixMilli() != original.CreatedAt.UnixMilli() {
		t.Errorf("restored createdAt = %v, want %v", restored.CreatedAt, original.CreatedAt)
	}

	got, err := m.DecryptMessage(env, "alice")
	if err != nil {
		t.Fatalf("decrypt after restore: %v", err)
	}
	if !bytes.Equal(got, []byte("survives the backup")) {
		t.Errorf("content = %q", got)
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	m := testManager(t)

	if _, err := m.GenerateKeyPair("alice"); err != nil {
		t.Fatal(err)
	}
	backup, err := m.BackupKeys("alice", "right")
	if err != nil {
		t.Fatal(err)
	}

	if m.RestoreKeys(backup, "wrong") {
		t.Error("RestoreKeys() = true with wrong passphrase")
	}
}

func TestRestoreCorruptData(t *testing.T) {
	m := testManager(t)

	if _, err := m.GenerateKeyPair("alice"); err != nil {
		t.Fatal(err)
	}
	backup, err := m.BackupKeys("alice", "pw")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a ciphertext byte inside the envelope.
	raw, err := base64.StdEncoding.DecodeString(backup)
	if err != nil {
		t.Fatal(err)
	}
	var env backupEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	env.EncryptedData[0] ^= 0xff
	tampered, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		data string
	}{
		{"not base64", "%%% not base64 %%%"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("plain text"))},
		{"tampered ciphertext", base64.StdEncoding.EncodeToString(tampered)},
		{"empty", ""},
	}
	for _, tc := range cases {
		if m.RestoreKeys(tc.data, "pw") {
			t.Errorf("%s: RestoreKeys() = true, want false", tc.name)
		}
	}
}

func TestBackupWithoutKeys(t *testing.T) {
	m := testManager(t)

	if _, err := m.BackupKeys("nobody", "pw"); !errors.Is(err, ErrKeyBackup) {
		t.Errorf("error = %v, want ErrKeyBackup", err)
	}
}

// TestBackupFormat pins the external shape: base64 over a JSON object
// whose fields are numeric byte arrays, with nothing of the private
// key readable before decryption.
func TestBackupFormat(t *testing.T) {
	m := testManager(t)

	if _, err := m.GenerateKeyPair("alice"); err != nil {
		t.Fatal(err)
	}
	backup, err := m.BackupKeys("alice", "pw")
	if err != nil {
		t.Fatal(err)
	}

	raw, err := base64.StdEncoding.DecodeString(backup)
	if err != nil {
		t.Fatalf("backup is not base64: %v", err)
	}
	var env backupEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("backup payload is not the envelope JSON: %v", err)
	}
	if len(env.Salt) != backupSaltLen {
		t.Errorf("salt length = %d, want %d", len(env.Salt), backupSaltLen)
	}
	if len(env.IV) != 12 {
		t.Errorf("iv length = %d, want 12", len(env.IV))
	}
	if len(env.EncryptedData) == 0 {
		t.Error("encryptedData is empty")
	}
	if bytes.Contains(raw, []byte("privateKey")) {
		t.Error("backup leaks plaintext record fields")
	}
}
