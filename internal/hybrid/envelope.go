// Package hybrid implements the envelope encryption scheme used for
// message payloads: a fresh AES-256-GCM session key per message,
// wrapped with the recipient's 2048-bit RSA key via OAEP/SHA-256.
package hybrid

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ByteArray is a byte slice whose JSON form is an array of uint8
// numbers ([1,255,0]) rather than base64. The envelope wire format is
// shared with non-Go consumers that serialize raw byte arrays, so the
// numeric form is load-bearing.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, len(b)*4+2)
	buf = append(buf, '[')
	for i, v := range b {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(v), 10)
	}
	return append(buf, ']'), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte value %d out of range at index %d", n, i)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// Envelope is the encrypted form of a single message. Envelopes are
// value objects: once sealed they are never mutated.
type Envelope struct {
	EncryptedContent ByteArray `json:"encryptedContent"`
	EncryptedKey     ByteArray `json:"encryptedKey"`
	IV               ByteArray `json:"iv"`
}

// Encode serializes the envelope to its JSON wire form.
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeEnvelope parses the JSON wire form produced by Encode.
func DecodeEnvelope(data string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
