package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultLookahead is added to the current time to form the expiry timestamp of a signed request.
const DefaultLookahead = time.Second

// Params is the parameter set of a REST call.
type Params map[string]string

// Canonical joins the parameters as key=value pairs in alphabetical key order.
// This exact string is what gets signed.
func (p Params) Canonical() string {
	keys := p.sortedKeys()
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// Query renders the parameters for a URL query string in Canonical order,
// except that sign, when present, is always the final parameter.
func (p Params) Query() string {
	var b strings.Builder
	for _, k := range p.sortedKeys() {
		if k == "sign" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[k]))
	}
	if sig, ok := p["sign"]; ok {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString("sign=")
		b.WriteString(url.QueryEscape(sig))
	}
	return b.String()
}

func (p Params) sortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a copy safe for logging.
func (p Params) Redacted() Params {
	out := make(Params, len(p))
	for k, v := range p {
		if k == "sign" {
			continue
		}
		out[k] = v
	}
	return out
}

// Signer produces HMAC-SHA256 signatures with the account's API secret.
type Signer struct {
	apiKey    string
	secret    []byte
	lookahead time.Duration
	now       func() time.Time
}

func NewSigner(apiKey, apiSecret string, lookahead time.Duration) *Signer {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Signer{
		apiKey:    apiKey,
		secret:    []byte(apiSecret),
		lookahead: lookahead,
		now:       time.Now,
	}
}

func (s *Signer) APIKey() string {
	return s.apiKey
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func (s *Signer) Sign(payload string) string {
	return computeHMAC(payload, s.secret)
}

// Expiry is the millisecond timestamp sent with private calls.
func (s *Signer) Expiry() int64 {
	return s.now().Add(s.lookahead).UnixMilli()
}

// SignParams returns a copy of p carrying api_key, timestamp and the trailing sign parameter.
func (s *Signer) SignParams(p Params) Params {
	signed := make(Params, len(p)+3)
	for k, v := range p {
		signed[k] = v
	}
	signed["api_key"] = s.apiKey
	signed["timestamp"] = strconv.FormatInt(s.Expiry(), 10)
	signed["sign"] = s.Sign(signed.Canonical())
	return signed
}

// RealtimeAuth returns the expiry and signature for the stream auth frame.
func (s *Signer) RealtimeAuth() (int64, string) {
	expires := s.Expiry()
	return expires, s.Sign("GET/realtime" + strconv.FormatInt(expires, 10))
}

func computeHMAC(message string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
