package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// VerifySignature checks a GitHub X-Hub-Signature-256 header against the
// HMAC-SHA256 of body in constant time.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return errors.New("webhook secret is empty")
	}
	if signature == "" {
		return errors.New("signature header is missing")
	}
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return errors.New("signature is not sha256")
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return fmt.Errorf("invalid hex signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), got) != 1 {
		return errors.New("signature mismatch")
	}
	return nil
}
