package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Failure reasons returned in Result.Reason
const (
	ReasonSecretMissing       = "secret_missing"
	ReasonSignatureMissing    = "signature_missing"
	ReasonTimestampMissing    = "timestamp_missing"
	ReasonTimestampOutOfRange = "timestamp_out_of_range"
	ReasonSignatureMismatch   = "signature_mismatch"
)

// Secret formats
const (
	SecretFormatAuto = ""
	SecretFormatUTF8 = "utf8"
	SecretFormatHex  = "hex"
)

// Default header candidates, tried in order. First match wins.
var (
	defaultSignatureHeaders = []string{"Authorization", "X-Signature", "X-Webhook-Signature", "X-Mp-Signature"}
	defaultTimestampHeaders = []string{"X-Timestamp", "X-Webhook-Timestamp", "X-Mp-Timestamp"}
	defaultNonceHeaders     = []string{"X-Nonce", "X-Request-Id"}
)

// Payload fallback keys, used when the headers carry nothing.
var (
	payloadSignatureKeys = []string{"signature", "sign", "hmac", "auth_signature"}
	payloadTimestampKeys = []string{"timestamp", "ts", "event_time", "time"}
	payloadNonceKeys     = []string{"nonce", "nonce_str", "request_id"}
)

// prefixes commonly prepended to the transmitted signature value
var signaturePrefixes = []string{"bearer ", "signature:", "hmac-sha256:", "sha256:", "sha256="}

// Config is the verification bundle for one webhook source.
type Config struct {
	Secret       string
	SecretFormat string // utf8, hex, or empty for auto-detection
	PartnerID    string

	SignatureHeaders []string
	TimestampHeaders []string
	NonceHeaders     []string

	Mode         Strategy
	BaseTemplate string
	Encoding     string // hex or base64, output encoding used by Sign

	MaxSkewSec       int64
	RequireTimestamp bool
	AllowUnsigned    bool

	// PathPrefix is a known routing prefix that may not have been part of
	// the path the remote party signed (tried both ways).
	PathPrefix string
}

// Result reports the verification outcome. MatchedStrategy records which
// base/encoding/secret-format candidate matched, so the real convention
// can be narrowed down over time without redeploying.
type Result struct {
	OK              bool
	Reason          string
	TimestampSec    int64
	Nonce           string
	MatchedStrategy string
}

// Verifier validates inbound webhook signatures against a configurable,
// possibly-unknown signing convention.
type Verifier struct {
	cfg Config
	now func() time.Time
}

// NewVerifier builds a Verifier, filling header candidate defaults.
func NewVerifier(cfg Config) *Verifier {
	if len(cfg.SignatureHeaders) == 0 {
		cfg.SignatureHeaders = defaultSignatureHeaders
	}
	if len(cfg.TimestampHeaders) == 0 {
		cfg.TimestampHeaders = defaultTimestampHeaders
	}
	if len(cfg.NonceHeaders) == 0 {
		cfg.NonceHeaders = defaultNonceHeaders
	}
	if cfg.MaxSkewSec <= 0 {
		cfg.MaxSkewSec = 300
	}
	return &Verifier{cfg: cfg, now: time.Now}
}

// Verify checks the request authenticity and freshness. rawBody is the
// body exactly as received on the wire; the parsed payload is only a
// fallback source for signature/timestamp/nonce values.
func (v *Verifier) Verify(headers map[string]string, rawBody []byte, path string, payload map[string]interface{}) Result {
	if v.cfg.Secret == "" {
		return v.fail(ReasonSecretMissing)
	}

	received := v.findSignature(headers, payload)
	if received == "" {
		return v.fail(ReasonSignatureMissing)
	}

	tsSec, tsFound := v.findTimestamp(headers, payload)
	if !tsFound && v.cfg.RequireTimestamp {
		return v.fail(ReasonTimestampMissing)
	}
	if tsFound {
		skew := v.now().Unix() - tsSec
		if skew < 0 {
			skew = -skew
		}
		if skew > v.cfg.MaxSkewSec {
			r := v.fail(ReasonTimestampOutOfRange)
			r.TimestampSec = tsSec
			return r
		}
	}

	nonce := v.findNonce(headers, payload)

	parts := baseParts{
		PartnerID: v.cfg.PartnerID,
		Body:      string(rawBody),
		Nonce:     nonce,
		ShopID:    stringField(payload, "shop_id", "shopid"),
		EventType: stringField(payload, "event_type", "event", "type"),
		Secret:    v.cfg.Secret,
	}
	if tsFound {
		parts.Timestamp = strconv.FormatInt(tsSec, 10)
	}

	for _, strategy := range v.candidates() {
		for _, p := range v.pathVariants(path) {
			parts.Path = p
			base := buildBase(strategy, parts, v.cfg.BaseTemplate)
			for _, secret := range v.secretVariants() {
				digest := hmacSHA256(secret.key, base)
				if matched, encoding := digestMatches(received, digest); matched {
					return Result{
						OK:              true,
						TimestampSec:    tsSec,
						Nonce:           nonce,
						MatchedStrategy: fmt.Sprintf("%s/%s/%s", strategy, encoding, secret.format),
					}
				}
			}
		}
	}

	r := v.fail(ReasonSignatureMismatch)
	r.TimestampSec = tsSec
	r.Nonce = nonce
	return r
}

// Sign produces a signature the way a well-behaved client would, using
// only the primary (non-auto) strategy. Used by diagnostic tooling and
// tests to build requests Verify should accept.
func (v *Verifier) Sign(rawBody []byte, path string, timestampSec int64, nonce string, payload map[string]interface{}) (string, error) {
	if v.cfg.Secret == "" {
		return "", fmt.Errorf("signing secret is not configured")
	}

	strategy := v.cfg.Mode
	if strategy == StrategyAuto {
		strategy = autoOrder[0]
	}

	parts := baseParts{
		PartnerID: v.cfg.PartnerID,
		Path:      path,
		Timestamp: strconv.FormatInt(timestampSec, 10),
		Body:      string(rawBody),
		Nonce:     nonce,
		ShopID:    stringField(payload, "shop_id", "shopid"),
		EventType: stringField(payload, "event_type", "event", "type"),
		Secret:    v.cfg.Secret,
	}

	secrets := v.secretVariants()
	digest := hmacSHA256(secrets[0].key, buildBase(strategy, parts, v.cfg.BaseTemplate))

	if strings.EqualFold(v.cfg.Encoding, "base64") {
		return base64.StdEncoding.EncodeToString(digest), nil
	}
	return hex.EncodeToString(digest), nil
}

// fail applies the allowUnsigned escape hatch: when enabled the request
// is accepted anyway, with the original reason preserved for auditing.
func (v *Verifier) fail(reason string) Result {
	if v.cfg.AllowUnsigned {
		return Result{OK: true, Reason: reason, MatchedStrategy: "unsigned"}
	}
	return Result{Reason: reason}
}

func (v *Verifier) candidates() []Strategy {
	if v.cfg.Mode == StrategyAuto {
		return autoOrder
	}
	return []Strategy{v.cfg.Mode}
}

// pathVariants returns the path as routed plus the variants the remote
// party may have signed instead (stripped prefix, no trailing slash).
func (v *Verifier) pathVariants(path string) []string {
	variants := []string{path}
	seen := map[string]bool{path: true}

	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			variants = append(variants, p)
		}
	}

	if v.cfg.PathPrefix != "" && strings.HasPrefix(path, v.cfg.PathPrefix) {
		add(strings.TrimPrefix(path, v.cfg.PathPrefix))
	}
	for _, p := range append([]string{}, variants...) {
		add(strings.TrimSuffix(p, "/"))
	}
	return variants
}

type secretVariant struct {
	key    []byte
	format string
}

// secretVariants returns the secret interpreted per the declared format,
// or both interpretations when the format is auto-detected.
func (v *Verifier) secretVariants() []secretVariant {
	utf8Variant := secretVariant{key: []byte(v.cfg.Secret), format: SecretFormatUTF8}

	switch strings.ToLower(v.cfg.SecretFormat) {
	case SecretFormatUTF8:
		return []secretVariant{utf8Variant}
	case SecretFormatHex:
		if decoded, err := hex.DecodeString(v.cfg.Secret); err == nil {
			return []secretVariant{{key: decoded, format: SecretFormatHex}}
		}
		return []secretVariant{utf8Variant}
	default:
		variants := []secretVariant{utf8Variant}
		if decoded, err := hex.DecodeString(v.cfg.Secret); err == nil && len(v.cfg.Secret) >= 2 {
			variants = append(variants, secretVariant{key: decoded, format: SecretFormatHex})
		}
		return variants
	}
}

func (v *Verifier) findSignature(headers map[string]string, payload map[string]interface{}) string {
	if raw := lookupHeader(headers, v.cfg.SignatureHeaders); raw != "" {
		return normalizeSignature(raw)
	}
	if raw := stringField(payload, payloadSignatureKeys...); raw != "" {
		return normalizeSignature(raw)
	}
	return ""
}

func (v *Verifier) findTimestamp(headers map[string]string, payload map[string]interface{}) (int64, bool) {
	if raw := lookupHeader(headers, v.cfg.TimestampHeaders); raw != "" {
		if ts, ok := parseTimestamp(raw); ok {
			return ts, true
		}
	}
	for _, key := range payloadTimestampKeys {
		if value, ok := payload[key]; ok {
			if ts, ok := parseTimestampValue(value); ok {
				return ts, true
			}
		}
	}
	return 0, false
}

func (v *Verifier) findNonce(headers map[string]string, payload map[string]interface{}) string {
	if raw := lookupHeader(headers, v.cfg.NonceHeaders); raw != "" {
		return strings.TrimSpace(raw)
	}
	return stringField(payload, payloadNonceKeys...)
}

// lookupHeader returns the first candidate present, case-insensitively.
func lookupHeader(headers map[string]string, candidates []string) string {
	for _, candidate := range candidates {
		for name, value := range headers {
			if strings.EqualFold(name, candidate) && value != "" {
				return value
			}
		}
	}
	return ""
}

// normalizeSignature strips transport prefixes and surrounding space.
func normalizeSignature(raw string) string {
	sig := strings.TrimSpace(raw)
	for _, prefix := range signaturePrefixes {
		if len(sig) > len(prefix) && strings.EqualFold(sig[:len(prefix)], prefix) {
			sig = strings.TrimSpace(sig[len(prefix):])
			break
		}
	}
	return sig
}

// parseTimestamp parses a decimal timestamp; values above 1e12 are
// treated as milliseconds and divided down to seconds.
func parseTimestamp(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if f, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
			value = int64(f)
		} else {
			return 0, false
		}
	}
	if value <= 0 {
		return 0, false
	}
	if value > 1_000_000_000_000 {
		value /= 1000
	}
	return value, true
}

func parseTimestampValue(value interface{}) (int64, bool) {
	switch t := value.(type) {
	case string:
		return parseTimestamp(t)
	case float64:
		return parseTimestamp(strconv.FormatInt(int64(t), 10))
	case int64:
		return parseTimestamp(strconv.FormatInt(t, 10))
	case json.Number:
		return parseTimestamp(t.String())
	default:
		return 0, false
	}
}

// stringField returns the first present key of payload as a string.
func stringField(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch t := value.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatInt(int64(t), 10)
		case json.Number:
			return t.String()
		}
	}
	return ""
}

func hmacSHA256(key []byte, base string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(base))
	return mac.Sum(nil)
}

// digestMatches compares the received signature against the hex digest
// and its base64 re-encoding, case-insensitively and in constant time.
func digestMatches(received string, digest []byte) (bool, string) {
	if constantTimeEqualFold(received, hex.EncodeToString(digest)) {
		return true, "hex"
	}
	if constantTimeEqualFold(received, base64.StdEncoding.EncodeToString(digest)) {
		return true, "base64"
	}
	return false, ""
}

func constantTimeEqualFold(a, b string) bool {
	return subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(a)),
		[]byte(strings.ToLower(b)),
	) == 1
}
