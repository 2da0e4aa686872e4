package paystack

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// GenerateReference returns "<prefix>_<unix millis>_<random hex>".
func GenerateReference(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ref"
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), randomHex(6))
}

// VerifySignature checks the HMAC-SHA512 of the raw body against the header value.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if c == nil {
		return false
	}
	return verifySignature(c.secretKey, body, signature)
}

// Sign computes the signature the gateway would attach to body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret string, body []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
