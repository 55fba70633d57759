// Package signature verifies inbound webhook signatures. The scheme mirrors
// the Telegram Mini App init-data check (HMAC over a canonical
// representation of the payload, compared in constant time) generalized
// from a sorted-key query string to a sorted-key compact JSON
// re-serialization, and from HMAC-SHA256 to the HMAC-SHA512 NOWPayments
// uses for its IPN callbacks.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// VerifyNOWPaymentsIPN reports whether signature (the hex-encoded value of
// the x-nowpayments-sig header) is a valid HMAC-SHA512 over the canonical
// JSON re-serialization of body, keyed by secret.
//
// NOWPayments signs the JSON object with its keys sorted and compact
// separators, not the raw request bytes, so the body is decoded and
// re-encoded before hashing. An empty secret disables verification
// entirely (signatures are optional in test/sandbox mode) and always returns
// true.
func VerifyNOWPaymentsIPN(secret string, body []byte, signature string) (bool, error) {
	if secret == "" {
		return true, nil
	}
	if signature == "" {
		return false, nil
	}

	canonical, err := canonicalizeJSON(body)
	if err != nil {
		return false, fmt.Errorf("canonicalize ipn body: %w", err)
	}

	expected := hmac.New(sha512.New, []byte(secret))
	expected.Write(canonical)
	expectedHex := expected.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false, nil
	}

	return hmac.Equal(expectedHex, provided), nil
}

// canonicalizeJSON decodes an arbitrary JSON object and re-encodes it with
// object keys sorted at every level and compact (no-space) separators,
// matching NOWPayments' signing convention.
func canonicalizeJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
