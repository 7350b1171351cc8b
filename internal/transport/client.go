package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"bitfinex-trading-core/internal/apierr"
)

// SignedHttpClient composes {RateLimiter, TransportCircuitBreaker, Signer,
// a pooled HTTP/1.1 client}, built on a resty-based signed REST client
// shape generalized from L1/L2 exchange headers to Bitfinex's
// bfx-apikey/bfx-nonce/bfx-signature headers.
type SignedHttpClient struct {
	http    *resty.Client
	signer  *Signer
	limiter *RateLimiter
	breaker *TransportCircuitBreaker
	log     *slog.Logger
}

func NewSignedHttpClient(baseURL string, signer *Signer, limiter *RateLimiter, breaker *TransportCircuitBreaker, log *slog.Logger) *SignedHttpClient {
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	return &SignedHttpClient{http: h, signer: signer, limiter: limiter, breaker: breaker, log: log}
}

// Post issues a signed POST to endpoint (relative path, no leading slash)
// with body marshaled via CanonicalBody, decoding the response into out.
// Implements the flow from steps 1-6, including the single bounded
// retry on a nonce-conflict response.
func (c *SignedHttpClient) Post(ctx context.Context, endpoint string, payload any, out any) error {
	if err := c.limiter.Acquire(ctx, endpoint); err != nil {
		return err
	}
	if !c.breaker.CanRequest(endpoint) {
		return apierr.New(apierr.CircuitOpen, endpoint).WithDetails(map[string]any{
			"retry_in_seconds": c.breaker.TimeUntilOpen(endpoint).Seconds(),
		})
	}

	body, err := CanonicalBody(payload)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "canonical_body", err)
	}

	resp, execErr := c.doSigned(ctx, endpoint, body)
	if execErr != nil && isNonceConflict(resp) {
		// Single bounded retry with a fresh nonce (nonce bumps on the next
		// RESTHeaders call automatically).
		resp, execErr = c.doSigned(ctx, endpoint, body)
		if execErr == nil {
			execErr = checkExchangeError(resp)
		}
	} else if execErr == nil {
		execErr = checkExchangeError(resp)
	}

	if execErr != nil {
		c.breaker.NoteResult(endpoint, false)
		retryAfter := parseRetryAfter(resp)
		c.limiter.NoteFailure(endpoint, statusOf(resp), retryAfter)
		return execErr
	}

	c.breaker.NoteResult(endpoint, true)
	c.limiter.NoteSuccess(endpoint)

	if out != nil && resp != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return apierr.Wrap(apierr.InternalError, "decode_response", err)
		}
	}
	return nil
}

func (c *SignedHttpClient) doSigned(ctx context.Context, endpoint string, body []byte) (*resty.Response, error) {
	// All endpoints this gateway calls today are v2; v1 exists in RESTHeaders
	// for the handful of Bitfinex accounts endpoints that never migrated.
	headers, err := c.signer.RESTHeaders(endpoint, body, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post("/" + endpoint)
	if err != nil {
		return resp, apierr.Wrap(apierr.TransportError, endpoint, err)
	}
	if resp.StatusCode() == 429 || resp.StatusCode() >= 500 {
		return resp, apierr.New(apierr.TransportError, strconv.Itoa(resp.StatusCode()))
	}
	return resp, nil
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}

func parseRetryAfter(resp *resty.Response) time.Duration {
	if resp == nil {
		return 0
	}
	h := resp.Header().Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func isNonceConflict(resp *resty.Response) bool {
	if resp == nil {
		return false
	}
	body := strings.ToLower(string(resp.Body()))
	return strings.Contains(body, "nonce: small") || strings.Contains(body, "nonce is too small")
}

// checkExchangeError inspects a successful-transport response for the
// exchange's own error envelope, : `[mts, "on-req", ..., null,
// "ERROR", msg]` style arrays carry failures even on HTTP 200.
func checkExchangeError(resp *resty.Response) error {
	if resp == nil {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &arr); err != nil {
		return nil // not the array-envelope shape; caller decodes directly
	}
	for _, raw := range arr {
		var s string
		if json.Unmarshal(raw, &s) == nil && s == "ERROR" {
			return apierr.New(apierr.ExchangeError, "").WithDetails(map[string]any{
				"body": string(resp.Body()),
			})
		}
	}
	return nil
}
