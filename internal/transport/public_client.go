package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/candle"
	"bitfinex-trading-core/internal/marketdata"
)

// PublicClient hits Bitfinex's unauthenticated v2 REST endpoints: ticker and
// candle history. It intentionally does not go through SignedHttpClient
// (no bfx-apikey/nonce/signature headers apply here) but still shares the
// rate limiter with it. Under the default rules its ticker and candles calls
// draw from the PUBLIC_MARKET bucket, while signed auth/ endpoints draw from
// the private buckets.
type PublicClient struct {
	http    *resty.Client
	limiter *RateLimiter
}

func NewPublicClient(baseURL string, limiter *RateLimiter) *PublicClient {
	return &PublicClient{
		http:    resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		limiter: limiter,
	}
}

// tickerEndpoint and candlesEndpoint are the synthetic endpoint names classified against
// RuleSet for rate-limiting purposes; Bitfinex's public ticker/candle paths
// are not REST-signed endpoints so they have no natural "endpoint" string.
const (
	tickerEndpoint  = "ticker"
	candlesEndpoint = "candles"
)

// FetchTicker implements marketdata.RESTTickerFetcher.
func (c *PublicClient) FetchTicker(ctx context.Context, symbol string) (marketdata.Ticker, error) {
	if err := c.limiter.Acquire(ctx, tickerEndpoint); err != nil {
		return marketdata.Ticker{}, err
	}
	resp, err := c.http.R().SetContext(ctx).Get("/v2/ticker/" + symbol)
	if err != nil {
		c.limiter.NoteFailure(tickerEndpoint, 0, 0)
		return marketdata.Ticker{}, apierr.Wrap(apierr.TransportError, tickerEndpoint, err)
	}
	if resp.StatusCode() >= 400 {
		c.limiter.NoteFailure(tickerEndpoint, resp.StatusCode(), 0)
		return marketdata.Ticker{}, apierr.New(apierr.TransportError, fmt.Sprintf("status_%d", resp.StatusCode()))
	}
	c.limiter.NoteSuccess(tickerEndpoint)

	// Trading-pair ticker response shape:
	// [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_RELATIVE,
	//  LAST_PRICE, VOLUME, HIGH, LOW]
	var fields []float64
	if err := json.Unmarshal(resp.Body(), &fields); err != nil || len(fields) < 8 {
		return marketdata.Ticker{}, apierr.Wrap(apierr.InternalError, "decode_ticker", err)
	}
	return marketdata.Ticker{
		Symbol:    symbol,
		Bid:       fields[0],
		Ask:       fields[2],
		LastPrice: fields[6],
		Volume:    fields[7],
		Timestamp: time.Now(),
	}, nil
}

// FetchCandles implements marketdata.RESTCandleFetcher.
func (c *PublicClient) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	if err := c.limiter.Acquire(ctx, candlesEndpoint); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v2/candles/trade:%s:%s/hist", timeframe, symbol)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetQueryParam("sort", "-1").
		Get(path)
	if err != nil {
		c.limiter.NoteFailure(candlesEndpoint, 0, 0)
		return nil, apierr.Wrap(apierr.TransportError, candlesEndpoint, err)
	}
	if resp.StatusCode() >= 400 {
		c.limiter.NoteFailure(candlesEndpoint, resp.StatusCode(), 0)
		return nil, apierr.New(apierr.TransportError, fmt.Sprintf("status_%d", resp.StatusCode()))
	}
	c.limiter.NoteSuccess(candlesEndpoint)

	// Each row: [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME]
	var rows [][]float64
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "decode_candles", err)
	}
	out := make([]candle.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		out = append(out, candle.Candle{
			MTS:    int64(r[0]),
			Open:   r[1],
			Close:  r[2],
			High:   r[3],
			Low:    r[4],
			Volume: r[5],
		})
	}
	return out, nil
}
