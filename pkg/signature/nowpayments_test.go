package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, canonical []byte) string {
	t.Helper()
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyNOWPaymentsIPN_ValidSignature(t *testing.T) {
	secret := "ipn-secret"
	body := []byte(`{"payment_status":"finished","actually_paid":0.07,"pay_currency":"sol"}`)

	canonical, err := canonicalizeJSON(body)
	require.NoError(t, err)

	sig := sign(t, secret, canonical)

	ok, err := VerifyNOWPaymentsIPN(secret, body, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyNOWPaymentsIPN_KeyOrderDoesNotMatter(t *testing.T) {
	secret := "ipn-secret"
	signedAs := []byte(`{"actually_paid":0.07,"pay_currency":"sol","payment_status":"finished"}`)
	receivedAs := []byte(`{"payment_status":"finished","pay_currency":"sol","actually_paid":0.07}`)

	canonical, err := canonicalizeJSON(signedAs)
	require.NoError(t, err)
	sig := sign(t, secret, canonical)

	ok, err := VerifyNOWPaymentsIPN(secret, receivedAs, sig)
	require.NoError(t, err)
	assert.True(t, ok, "signature must validate regardless of wire key order")
}

func TestVerifyNOWPaymentsIPN_WrongSecret(t *testing.T) {
	body := []byte(`{"payment_status":"finished"}`)
	canonical, err := canonicalizeJSON(body)
	require.NoError(t, err)
	sig := sign(t, "correct-secret", canonical)

	ok, err := VerifyNOWPaymentsIPN("wrong-secret", body, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyNOWPaymentsIPN_TamperedBody(t *testing.T) {
	secret := "ipn-secret"
	body := []byte(`{"payment_status":"finished","actually_paid":0.07}`)
	canonical, err := canonicalizeJSON(body)
	require.NoError(t, err)
	sig := sign(t, secret, canonical)

	tampered := []byte(`{"payment_status":"finished","actually_paid":99.0}`)
	ok, err := VerifyNOWPaymentsIPN(secret, tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyNOWPaymentsIPN_NoSecretDisablesVerification(t *testing.T) {
	ok, err := VerifyNOWPaymentsIPN("", []byte(`{"anything":1}`), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyNOWPaymentsIPN_EmptySignatureRejected(t *testing.T) {
	ok, err := VerifyNOWPaymentsIPN("secret", []byte(`{"a":1}`), "")
	require.NoError(t, err)
	assert.False(t, ok)
}
