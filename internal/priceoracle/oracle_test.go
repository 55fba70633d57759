package priceoracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCrypto_Lowercases(t *testing.T) {
	assert.Equal(t, "btc", normalizeCrypto("BTC"))
	assert.Equal(t, "usdt-trc20", normalizeCrypto("USDT-TRC20"))
	assert.Equal(t, "sol", normalizeCrypto("sol"))
}

func TestCryptoToCoingeckoID_KnownSymbol(t *testing.T) {
	assert.Equal(t, "bitcoin", cryptoToCoingeckoID("btc"))
	assert.Equal(t, "dogecoin", cryptoToCoingeckoID("doge"))
}

func TestCryptoToCoingeckoID_UnknownSymbolPassesThrough(t *testing.T) {
	assert.Equal(t, "unknowncoin", cryptoToCoingeckoID("unknowncoin"))
}

func TestSupportedCryptos_NotEmpty(t *testing.T) {
	assert.NotEmpty(t, SupportedCryptos)
}
