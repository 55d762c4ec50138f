package abe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrPolicyDenied is returned by Decrypt when the caller's attributes do not
// satisfy the record's policy. It must never be conflated with an absent or
// corrupt record: the ciphertext is intact, the caller just isn't allowed to
// see it.
var ErrPolicyDenied = errors.New("abe: attributes do not satisfy policy")

// Algorithm identifies the scheme recorded in encryption metadata.
const Algorithm = "ABE-AES-256-GCM"

// Envelope holds an encrypted payload together with its policy.
//
// The symmetric key is stored hex-encoded in the clear beside the ciphertext.
// A true ABE scheme would wrap the key under the policy; here the policy is
// enforced only by the Decrypt-time attribute check in application code.
// Downstream callers depend on this contract, so it is preserved as-is.
type Envelope struct {
	EncryptedData string `json:"encrypted_data"`
	EncryptedKey  string `json:"encrypted_key"`
	Policy        string `json:"policy"`
}

// Encrypt serializes payload to JSON and encrypts it under a fresh 256-bit
// key with AES-GCM. The policy is the conjunction of all attribute pairs
// present at encryption time.
func Encrypt(payload interface{}, attributes map[string]string) (*Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("abe encrypt: marshal payload: %w", err)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("abe encrypt: generate key: %w", err)
	}

	ciphertext, err := seal(key, plaintext)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedKey:  hex.EncodeToString(key),
		Policy:        GeneratePolicy(attributes),
	}, nil
}

// Decrypt returns the plaintext JSON payload if the caller's attributes
// satisfy the envelope's policy, and ErrPolicyDenied otherwise.
func Decrypt(env *Envelope, callerAttributes map[string]string) ([]byte, error) {
	if !SatisfiesPolicy(ParsePolicy(env.Policy), callerAttributes) {
		return nil, ErrPolicyDenied
	}

	key, err := hex.DecodeString(env.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("abe decrypt: decode key: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("abe decrypt: decode ciphertext: %w", err)
	}

	return open(key, data)
}

// DecryptInto decrypts the envelope and unmarshals the payload into dst.
func DecryptInto(env *Envelope, callerAttributes map[string]string, dst interface{}) error {
	plaintext, err := Decrypt(env, callerAttributes)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, dst); err != nil {
		return fmt.Errorf("abe decrypt: unmarshal payload: %w", err)
	}
	return nil
}

// seal encrypts plaintext with AES-GCM, prepending the nonce.
func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("abe encrypt: generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open extracts the nonce from the front of data and decrypts the remainder.
func open(key, data []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("abe decrypt: ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("abe decrypt: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("abe: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("abe: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("abe: create GCM: %w", err)
	}
	return aead, nil
}
