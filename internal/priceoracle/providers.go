package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// httpGetJSON centralizes the fetch-decode-close shape every provider here
// uses.
func httpGetJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RPCProvider queries a configured price RPC URL, the service's primary price
// source (PRICE_RPC_URL env key). The wire shape is the common
// {"<symbol>": {"eur": <value>}} convention CoinGecko-compatible RPC
// proxies use, so both this provider and CoinGeckoProvider share a
// response type.
type RPCProvider struct {
	httpClient *http.Client
	baseURL    string
}

// NewRPCProvider constructs an RPCProvider against baseURL.
func NewRPCProvider(baseURL string) *RPCProvider {
	return &RPCProvider{httpClient: &http.Client{Timeout: providerTimeout}, baseURL: baseURL}
}

func (p *RPCProvider) Name() string { return "price_rpc" }

func (p *RPCProvider) FetchEUR(ctx context.Context, crypto string) (decimal.Decimal, error) {
	if p.baseURL == "" {
		return decimal.Zero, fmt.Errorf("no price rpc url configured")
	}
	return fetchSimplePrice(ctx, p.httpClient, p.baseURL, cryptoToCoingeckoID(crypto))
}

// CoinGeckoProvider queries CoinGecko's public simple-price endpoint.
type CoinGeckoProvider struct {
	httpClient *http.Client
	apiKey     string
}

// NewCoinGeckoProvider constructs a CoinGeckoProvider. apiKey may be empty.
func NewCoinGeckoProvider(apiKey string) *CoinGeckoProvider {
	return &CoinGeckoProvider{httpClient: &http.Client{Timeout: providerTimeout}, apiKey: apiKey}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

func (p *CoinGeckoProvider) FetchEUR(ctx context.Context, crypto string) (decimal.Decimal, error) {
	id := cryptoToCoingeckoID(crypto)
	endpoint := fmt.Sprintf("https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=eur",
		url.QueryEscape(id))

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["x-cg-demo-api-key"] = p.apiKey
	}

	var result map[string]map[string]float64
	if err := httpGetJSON(ctx, p.httpClient, endpoint, headers, &result); err != nil {
		return decimal.Zero, err
	}
	entry, ok := result[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: no entry for %s", id)
	}
	eur, ok := entry["eur"]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: no eur price for %s", id)
	}
	return decimal.NewFromFloat(eur), nil
}

func fetchSimplePrice(ctx context.Context, client *http.Client, baseURL, id string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=eur", baseURL, url.QueryEscape(id))
	var result map[string]map[string]float64
	if err := httpGetJSON(ctx, client, endpoint, nil, &result); err != nil {
		return decimal.Zero, err
	}
	entry, ok := result[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("rpc price: no entry for %s", id)
	}
	eur, ok := entry["eur"]
	if !ok {
		return decimal.Zero, fmt.Errorf("rpc price: no eur price for %s", id)
	}
	return decimal.NewFromFloat(eur), nil
}

// NOWPaymentsEstimateProvider reuses the NOWPayments /v1/estimate endpoint
// as a third, independent price source. NOWPayments already prices
// crypto->fiat to create a payment, so asking it for a 1-unit estimate
// costs nothing extra to integrate and gives the oracle a provider that
// fails independently of CoinGecko or the configured RPC.
type NOWPaymentsEstimateProvider struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

// NewNOWPaymentsEstimateProvider constructs a NOWPaymentsEstimateProvider.
func NewNOWPaymentsEstimateProvider(apiURL, apiKey string) *NOWPaymentsEstimateProvider {
	return &NOWPaymentsEstimateProvider{
		httpClient: &http.Client{Timeout: providerTimeout},
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

func (p *NOWPaymentsEstimateProvider) Name() string { return "nowpayments_estimate" }

func (p *NOWPaymentsEstimateProvider) FetchEUR(ctx context.Context, crypto string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/v1/estimate?amount=1&currency_from=%s&currency_to=eur",
		p.apiURL, url.QueryEscape(crypto))

	var result struct {
		EstimatedAmount decimal.Decimal `json:"estimated_amount"`
	}
	if err := httpGetJSON(ctx, p.httpClient, endpoint, map[string]string{"x-api-key": p.apiKey}, &result); err != nil {
		return decimal.Zero, err
	}
	if result.EstimatedAmount.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("nowpayments estimate: non-positive amount for %s", crypto)
	}
	// /v1/estimate prices 1 unit of crypto in EUR directly.
	return result.EstimatedAmount, nil
}

var coingeckoIDs = map[string]string{
	"btc":  "bitcoin",
	"eth":  "ethereum",
	"sol":  "solana",
	"ltc":  "litecoin",
	"usdt": "tether",
	"usdc": "usd-coin",
	"xmr":  "monero",
	"trx":  "tron",
	"bnb":  "binancecoin",
	"doge": "dogecoin",
}

func cryptoToCoingeckoID(crypto string) string {
	if id, ok := coingeckoIDs[crypto]; ok {
		return id
	}
	return crypto
}

// SupportedCryptos lists every currency code the oracle knows how to price,
// for callers (the periodic refresh job, the checkout currency picker) that
// need the full set rather than one lookup at a time.
var SupportedCryptos = func() []string {
	out := make([]string, 0, len(coingeckoIDs))
	for code := range coingeckoIDs {
		out = append(out, code)
	}
	return out
}()
