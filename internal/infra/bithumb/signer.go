package bithumb

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// Signer handles Bithumb private API authentication signatures
type Signer struct {
	apiKey    string
	apiSecret string
	lastNonce atomic.Int64
	now       func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}
}

// GenerateHeaders creates the necessary headers for a request
// endpoint: /info/balance (no host)
// body: url-encoded form, must already contain endpoint=<endpoint>
func (s *Signer) GenerateHeaders(endpoint, body string) map[string]string {
	nonce := s.nonce()

	// Format: endpoint + NUL + body + NUL + nonce
	payload := endpoint + "\x00" + body + "\x00" + nonce

	return map[string]string{
		"Api-Key":      s.apiKey,
		"Api-Sign":     computeSignature(payload, s.apiSecret),
		"Api-Nonce":    nonce,
		"Content-Type": "application/x-www-form-urlencoded",
	}
}

// nonce is a strictly increasing unix millisecond stamp.
func (s *Signer) nonce() string {
	for {
		last := s.lastNonce.Load()
		next := s.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if s.lastNonce.CompareAndSwap(last, next) {
			return fmt.Sprintf("%d", next)
		}
	}
}

// computeSignature is base64(hex(HMAC-SHA512(message))).
func computeSignature(message, secret string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(h.Sum(nil))))
}
