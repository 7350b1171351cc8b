// Package transport implements the signed-transport layer: credential
// signing, per-endpoint-class rate limiting, per-endpoint circuit breaking,
// and the pooled HTTP client that composes all three.
package transport

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/nonce"
)

// Credentials holds the API key/secret pair. A zero value means signing is
// unavailable; callers must check Configured before issuing private calls.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) Configured() bool { return c.APIKey != "" && c.APISecret != "" }

// Creds exposes the signer's credentials so callers can check Configured
// before attempting a handshake that would otherwise fail.
func (s *Signer) Creds() Credentials { return s.creds }

// Signer produces REST headers and WS auth payloads for the Bitfinex v2
// dialect: HMAC-SHA384 over a prefix+endpoint+nonce+body message for REST,
// and over "AUTH"+nonce_ms for the WS auth frame.
type Signer struct {
	creds Credentials
	nonce *nonce.Source
}

func NewSigner(creds Credentials, nonceSource *nonce.Source) *Signer {
	return &Signer{creds: creds, nonce: nonceSource}
}

// RESTHeaders builds the bfx-apikey/bfx-nonce/bfx-signature headers for a
// signed REST call. endpoint is the path relative to the API root (no
// leading slash), e.g. "auth/w/order/submit". body must be the exact bytes
// that will be sent on the wire; signing happens over those same bytes. v1
// selects the "/api/v1/" signed path prefix instead of "/api/v2/", for the
// handful of endpoints Bitfinex never migrated off v1.
func (s *Signer) RESTHeaders(endpoint string, body []byte, v1 bool) (map[string]string, error) {
	if !s.creds.Configured() {
		return nil, apierr.New(apierr.AuthNotConfigured, "")
	}
	n := s.nonce.Next(s.creds.APIKey)
	nonceStr := strconv.FormatInt(n, 10)

	prefix := "/api/v2/"
	if v1 {
		prefix = "/api/v1/"
	}
	message := prefix + endpoint + nonceStr + string(body)
	sig := s.sign(message)

	return map[string]string{
		"bfx-apikey":    s.creds.APIKey,
		"bfx-nonce":     nonceStr,
		"bfx-signature": sig,
		"Content-Type":  "application/json",
	}, nil
}

// wsAuthFrame is the JSON payload sent to authenticate the private WS
// session. dms arms the dead-man switch: the exchange tears the connection
// down if no traffic is seen for that many seconds.
type wsAuthFrame struct {
	Event       string `json:"event"`
	APIKey      string `json:"apiKey"`
	AuthNonce   string `json:"authNonce"`
	AuthPayload string `json:"authPayload"`
	AuthSig     string `json:"authSig"`
	DMS         int    `json:"dms,omitempty"`
}

// WSAuthFrame builds the marshaled auth frame for the private WS session:
// payload is "AUTH"+nonce_ms, signed the same way as REST requests. dmsSeconds
// arms the dead-man switch; 0 disables it.
func (s *Signer) WSAuthFrame(dmsSeconds int) ([]byte, error) {
	if !s.creds.Configured() {
		return nil, apierr.New(apierr.AuthNotConfigured, "")
	}
	n := s.nonce.Next(s.creds.APIKey)
	nonceMs := n / 1000
	nonceStr := strconv.FormatInt(nonceMs, 10)
	payload := "AUTH" + nonceStr

	frame := wsAuthFrame{
		Event:       "auth",
		APIKey:      s.creds.APIKey,
		AuthNonce:   nonceStr,
		AuthPayload: payload,
		AuthSig:     s.sign(payload),
		DMS:         dmsSeconds,
	}
	return json.Marshal(frame)
}

func (s *Signer) sign(message string) string {
	mac := hmac.New(sha512.New384, []byte(s.creds.APISecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalBody marshals v deterministically: encoding/json already emits
// struct fields in declaration order with no extraneous whitespace, which is
// the stable key order and compact form signing requires; this helper exists
// to make that requirement explicit at call sites rather than relying on
// every caller remembering it.
func CanonicalBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical body: %w", err)
	}
	return b, nil
}
