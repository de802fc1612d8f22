package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CommandSigner signs command and settings payloads with HMAC-SHA256 over a
// canonical JSON serialization, so the same logical object always yields the
// same tag regardless of key insertion order.
type CommandSigner struct {
	secret []byte
}

// NewCommandSigner creates a signer for the given shared secret.
func NewCommandSigner(secret string) (*CommandSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret must not be empty")
	}
	return &CommandSigner{secret: []byte(secret)}, nil
}

// Sign returns the hex HMAC-SHA256 tag of the canonical form of data.
func (s *CommandSigner) Sign(data interface{}) (string, error) {
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the tag over data and compares it in constant time.
func (s *CommandSigner) Verify(data interface{}, tag string) bool {
	want, err := s.Sign(data)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(tag)) == 1
}

// CanonicalJSON serializes v with recursively sorted object keys and no
// extraneous whitespace.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}

	var b strings.Builder
	if err := writeCanonical(&b, generic); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(kb)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		eb, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(eb)
	}
	return nil
}
