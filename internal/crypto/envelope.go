package crypto

import (
	"encoding/json"
	"fmt"
)

// Envelope is the self-describing encrypted form of record content.
// Everything needed to attempt decryption, except the key itself,
// travels inside the envelope.
type Envelope struct {
	EncryptedContent string `json:"encryptedContent"`
	IV               string `json:"iv"`
	Salt             string `json:"salt"`
	Tag              string `json:"tag"`
	Algorithm        string `json:"algorithm"`
	KeyDerivation    string `json:"keyDerivation"`
	Iterations       int    `json:"iterations"`
}

// Marshal serializes the envelope for storage as record content.
func (e *Envelope) Marshal() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// ParseEnvelope deserializes record content into an envelope.
func ParseEnvelope(content string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if e.EncryptedContent == "" || e.IV == "" {
		return nil, fmt.Errorf("parse envelope: missing ciphertext or IV")
	}
	return &e, nil
}
