// Package exchange implements the authenticated REST client for the
// single configured exchange account: signed private endpoints for
// balances, order submission, order and trade lookup, and the
// WebSocket feed token, plus the public tradable-pairs catalog
// consumed by the asset registry.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/klingon-exchange/autosell/internal/exchangeerr"
	"github.com/klingon-exchange/autosell/internal/money"
)

const (
	defaultBaseURL = "https://api.kraken.com"
	sandboxBaseURL = "https://api.demo-futures.kraken.com"

	pathServerTime    = "/0/public/Time"
	pathAssetPairs    = "/0/public/AssetPairs"
	pathBalance       = "/0/private/Balance"
	pathAddOrder      = "/0/private/AddOrder"
	pathQueryOrders   = "/0/private/QueryOrders"
	pathTradesHistory = "/0/private/TradesHistory"
	pathQueryTrades   = "/0/private/QueryTrades"
	pathGetWebSockets = "/0/private/GetWebSocketsToken"
)

// Client is the single authenticated handle the rest of the agent talks
// to. One Client is constructed at startup and shared by every
// component; all of its state is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	signer  *signer
	nonces  *NonceGenerator
	limiter *rateLimiter
	http    *retryablehttp.Client
}

// NewClient constructs a Client against the production API host. apiKey
// is sent verbatim in the API-Key header; apiSecret must be the
// base64-encoded secret issued alongside it.
func NewClient(apiKey, apiSecret string) (*Client, error) {
	s, err := newSigner(apiSecret)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		signer:  s,
		nonces:  NewNonceGenerator(),
		limiter: newRateLimiter(),
		http:    newRetryPolicy(),
	}, nil
}

// SetBaseURL overrides the REST host the client talks to. Production
// callers never need this; it exists so tests can point the client at
// an httptest.Server.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// UseSandbox points the client at the alternate REST host used when the
// sandbox configuration flag is set.
func (c *Client) UseSandbox() {
	c.baseURL = sandboxBaseURL
}

// SetRetryWaits overrides the retry backoff floor and ceiling. Production
// callers never need this; it exists so tests don't have to wait out the
// default multi-second backoff to exercise a retry path.
func (c *Client) SetRetryWaits(min, max time.Duration) {
	c.http.RetryWaitMin = min
	c.http.RetryWaitMax = max
}

// krakenEnvelope is the {error, result} wrapper every endpoint returns,
// private and public alike.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// doPublic issues an unsigned GET against a public endpoint.
func (c *Client) doPublic(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("exchange: building request: %w", err)
	}
	return c.do(req, out)
}

// doPrivateNoRetry issues a signed POST that must never be retried at
// the transport layer: used for order submission, where a resend after
// an ambiguous transport failure could place a duplicate order.
func (c *Client) doPrivateNoRetry(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	return c.doPrivate(withNoRetry(ctx), path, form)
}

// doPrivate issues a signed POST against an authenticated endpoint.
func (c *Client) doPrivate(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}

	if form == nil {
		form = url.Values{}
	}
	nonce := c.nonces.Next()
	form.Set("nonce", strconv.FormatInt(nonce, 10))
	encoded := form.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader([]byte(encoded)))
	if err != nil {
		return nil, fmt.Errorf("exchange: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", c.signer.sign(path, nonce, encoded))

	var result json.RawMessage
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(req *retryablehttp.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &exchangeerr.TransientError{Op: req.URL.Path, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exchangeerr.TransientError{Op: req.URL.Path, Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &exchangeerr.AuthError{Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("exchange: decoding response from %s: %w", req.URL.Path, err)
	}
	if len(env.Error) > 0 {
		return classifyAPIError(env.Error)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("exchange: decoding result from %s: %w", req.URL.Path, err)
		}
	}
	return nil
}

// assetPairEntry mirrors the subset of the AssetPairs catalog response
// the registry needs: the base/quote legs and the minimum order volume.
type assetPairEntry struct {
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	OrderMin string `json:"ordermin"`
	AltName  string `json:"altname"`
	WSName   string `json:"wsname"`
}

// ListPairs fetches the full tradable asset pair catalog.
func (c *Client) ListPairs(ctx context.Context) ([]Pair, error) {
	var raw map[string]assetPairEntry
	if err := c.doPublic(ctx, pathAssetPairs, nil, &raw); err != nil {
		return nil, err
	}

	pairs := make([]Pair, 0, len(raw))
	for symbol, entry := range raw {
		minOrder := money.Zero
		if entry.OrderMin != "" {
			if m, err := money.Parse(entry.OrderMin); err == nil {
				minOrder = m
			}
		}
		pairs = append(pairs, Pair{
			Base:             entry.Base,
			Quote:            entry.Quote,
			PairSymbol:       symbol,
			MinimumOrderSize: minOrder,
		})
	}
	return pairs, nil
}

// GetBalance returns every account balance the exchange reports, zero
// balances included, keyed by native asset code exactly as reported.
func (c *Client) GetBalance(ctx context.Context) (map[string]money.Amount, error) {
	result, err := c.doPrivate(ctx, pathBalance, nil)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("exchange: decoding balance: %w", err)
	}
	balances := make(map[string]money.Amount, len(raw))
	for asset, amount := range raw {
		m, err := money.Parse(amount)
		if err != nil {
			return nil, fmt.Errorf("exchange: parsing balance for %s: %w", asset, err)
		}
		balances[asset] = m
	}
	return balances, nil
}

type addOrderResult struct {
	TxID []string `json:"txid"`
}

// SubmitMarketSell places a market sell of volume
// units of pairSymbol's base asset. The request is sent exactly once at
// the transport layer -- doPrivateNoRetry disables retryablehttp's
// automatic retry for this call -- so that a timeout or connection
// reset after the signed request may already have reached the exchange
// is reported as an AmbiguousSubmissionError instead of being silently
// resent with the same nonce. A duplicate retry of a sell that in fact
// succeeded would sell twice.
func (c *Client) SubmitMarketSell(ctx context.Context, pairSymbol string, volume money.Amount) (string, error) {
	form := url.Values{}
	form.Set("pair", pairSymbol)
	form.Set("type", "sell")
	form.Set("ordertype", "market")
	form.Set("volume", volume.String())

	result, err := c.doPrivateNoRetry(ctx, pathAddOrder, form)
	if err != nil {
		if isAmbiguousTransportError(err) {
			return "", &exchangeerr.AmbiguousSubmissionError{PairSymbol: pairSymbol, Volume: volume.String(), Cause: err}
		}
		return "", err
	}

	var res addOrderResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", fmt.Errorf("exchange: decoding add order result: %w", err)
	}
	if len(res.TxID) == 0 {
		return "", fmt.Errorf("exchange: add order returned no transaction id")
	}
	return res.TxID[0], nil
}

// QueryOrder retrieves the current state of a previously submitted
// order by its exchange transaction id.
func (c *Client) QueryOrder(ctx context.Context, orderID string) (*Order, error) {
	form := url.Values{}
	form.Set("txid", orderID)

	result, err := c.doPrivate(ctx, pathQueryOrders, form)
	if err != nil {
		return nil, err
	}

	var raw map[string]orderInfo
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("exchange: decoding order query: %w", err)
	}
	info, ok := raw[orderID]
	if !ok {
		return nil, &exchangeerr.NotFoundError{Kind: "order", ID: orderID}
	}
	return info.toOrder(orderID)
}

type orderInfo struct {
	Descr struct {
		Pair string `json:"pair"`
	} `json:"descr"`
	Status  string  `json:"status"`
	Vol     string  `json:"vol"`
	VolExec string  `json:"vol_exec"`
	OpenTm  float64 `json:"opentm"`
	CloseTm float64 `json:"closetm"`
}

func (i orderInfo) toOrder(orderID string) (*Order, error) {
	vol, err := money.Parse(i.Vol)
	if err != nil {
		return nil, fmt.Errorf("exchange: parsing order volume: %w", err)
	}
	o := &Order{
		OrderID:         orderID,
		PairSymbol:      i.Descr.Pair,
		RequestedVolume: vol,
		State:           mapOrderState(i.Status),
		SubmittedAt:     int64(i.OpenTm),
		FinalizedAt:     int64(i.CloseTm),
	}

	if i.VolExec != "" {
		volExec, err := money.Parse(i.VolExec)
		if err != nil {
			return nil, fmt.Errorf("exchange: parsing order executed volume: %w", err)
		}
		if volExec.IsPositive() {
			o.Fills = []Trade{{
				OrderID:    orderID,
				PairSymbol: i.Descr.Pair,
				Volume:     volExec,
			}}
		}
	}
	return o, nil
}

func mapOrderState(status string) OrderState {
	switch status {
	case "open", "pending":
		return OrderOpen
	case "closed":
		return OrderClosed
	case "canceled", "expired":
		return OrderCanceled
	default:
		return OrderFailed
	}
}

// QueryTrades retrieves the fills associated with a set of trade ids,
// typically the trade ids reported against a closed order.
func (c *Client) QueryTrades(ctx context.Context, tradeIDs []string) ([]Trade, error) {
	if len(tradeIDs) == 0 {
		return nil, nil
	}
	form := url.Values{}
	form.Set("txid", joinIDs(tradeIDs))

	result, err := c.doPrivate(ctx, pathQueryTrades, form)
	if err != nil {
		return nil, err
	}

	var raw map[string]tradeInfo
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("exchange: decoding trades query: %w", err)
	}

	trades := make([]Trade, 0, len(raw))
	for id, info := range raw {
		t, err := info.toTrade(id)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

type tradeInfo struct {
	OrderTxID string  `json:"ordertxid"`
	Pair      string  `json:"pair"`
	Type      string  `json:"type"`
	Price     string  `json:"price"`
	Vol       string  `json:"vol"`
	Cost      string  `json:"cost"`
	Fee       string  `json:"fee"`
	Time      float64 `json:"time"`
}

func (i tradeInfo) toTrade(tradeID string) (Trade, error) {
	price, err := money.Parse(i.Price)
	if err != nil {
		return Trade{}, fmt.Errorf("exchange: parsing trade price: %w", err)
	}
	vol, err := money.Parse(i.Vol)
	if err != nil {
		return Trade{}, fmt.Errorf("exchange: parsing trade volume: %w", err)
	}
	cost, err := money.Parse(i.Cost)
	if err != nil {
		return Trade{}, fmt.Errorf("exchange: parsing trade cost: %w", err)
	}
	fee, err := money.Parse(i.Fee)
	if err != nil {
		return Trade{}, fmt.Errorf("exchange: parsing trade fee: %w", err)
	}
	return Trade{
		TradeID:    tradeID,
		OrderID:    i.OrderTxID,
		PairSymbol: i.Pair,
		Side:       i.Type,
		Price:      price,
		Volume:     vol,
		Cost:       cost,
		Fee:        fee,
		Timestamp:  int64(i.Time),
	}, nil
}

type feedTokenResult struct {
	Token   string `json:"token"`
	Expires int    `json:"expires"`
}

// ObtainFeedToken requests the short-lived token required to subscribe
// to the private balances WebSocket channel.
func (c *Client) ObtainFeedToken(ctx context.Context) (string, time.Duration, error) {
	result, err := c.doPrivate(ctx, pathGetWebSockets, nil)
	if err != nil {
		return "", 0, err
	}
	var res feedTokenResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", 0, fmt.Errorf("exchange: decoding feed token: %w", err)
	}
	return res.Token, time.Duration(res.Expires) * time.Second, nil
}

func joinIDs(ids []string) string {
	out := ids[0]
	for _, id := range ids[1:] {
		out += "," + id
	}
	return out
}

// isAmbiguousTransportError reports whether err represents a failure
// that may have occurred after the signed request already reached the
// exchange. Every transport-level failure (a TransientError) counts as
// ambiguous; failures before transmission, such as a refused
// connection, are not told apart from ones after it.
func isAmbiguousTransportError(err error) bool {
	var transient *exchangeerr.TransientError
	return asTransient(err, &transient)
}

func asTransient(err error, target **exchangeerr.TransientError) bool {
	for err != nil {
		if t, ok := err.(*exchangeerr.TransientError); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// classifyAPIError maps the exchange's string error codes onto the
// typed taxonomy so callers can branch with errors.As instead of
// substring matching.
func classifyAPIError(codes []string) error {
	for _, code := range codes {
		switch {
		case containsAny(code, "EAPI:Invalid key", "EAPI:Invalid signature", "EGeneral:Permission denied"):
			return &exchangeerr.AuthError{Cause: fmt.Errorf("%s", code)}
		case containsAny(code, "EOrder:Insufficient funds"):
			return &exchangeerr.BusinessRejection{Reason: exchangeerr.ReasonInsufficientLive, Cause: fmt.Errorf("%s", code)}
		case containsAny(code, "EQuery:Unknown asset pair", "EOrder:Unknown asset pair"):
			return &exchangeerr.BusinessRejection{Reason: exchangeerr.ReasonNoMarket, Cause: fmt.Errorf("%s", code)}
		}
	}
	return fmt.Errorf("exchange: api error: %v", codes)
}

func containsAny(s string, candidates ...string) bool {
	for _, c := range candidates {
		if s == c {
			return true
		}
	}
	return false
}
