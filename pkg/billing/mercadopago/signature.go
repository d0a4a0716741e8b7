package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	signatureHeader = "x-signature"
	requestIDHeader = "x-request-id"
	signatureKey    = "v1"
)

// Verifier authenticates webhook notifications with the shared secret.
// A Verifier without a secret accepts everything.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks header against the HMAC of the manifest built from rawBody's data.id and requestID.
func (v *Verifier) Verify(header, requestID string, rawBody []byte) bool {
	if !v.Enabled() {
		return true
	}
	n, err := parseNotification(rawBody)
	if err != nil {
		return false
	}
	return v.verifyID(header, requestID, string(n.Data.ID))
}

func (v *Verifier) verifyID(header, requestID, dataID string) bool {
	if !v.Enabled() {
		return true
	}
	given, ok := signatureValue(header)
	if !ok {
		return false
	}
	want, err := hex.DecodeString(given)
	if err != nil {
		return false
	}
	return hmac.Equal(want, computeMAC(v.secret, dataID, requestID))
}

// VerifySignature verifies one notification against secret. An empty secret bypasses verification.
func VerifySignature(header, requestID string, rawBody []byte, secret string) bool {
	return NewVerifier(secret).Verify(header, requestID, rawBody)
}

// Sign returns the x-signature value for a notification about dataID.
func Sign(dataID, requestID, secret string) string {
	return signatureKey + "=" + hex.EncodeToString(computeMAC([]byte(secret), dataID, requestID))
}

func manifest(dataID, requestID string) string {
	return fmt.Sprintf("id:%s;request-id:%s;", dataID, requestID)
}

func computeMAC(secret []byte, dataID, requestID string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(manifest(dataID, requestID)))
	return mac.Sum(nil)
}

// signatureValue extracts the v1 value from "ts=...,v1=...".
func signatureValue(header string) (string, bool) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.TrimSpace(key) == signatureKey {
			value = strings.TrimSpace(value)
			return value, value != ""
		}
	}
	return "", false
}
