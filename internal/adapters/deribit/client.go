package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://www.deribit.com/api/v2"
	defaultWSURL   = "wss://www.deribit.com/ws/api/v2"

	// Deribit permite ~20 req/s en endpoints públicos sin credenciales;
	// nos quedamos muy por debajo.
	publicRatePerSec = 10

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client de Deribit con rate limiting y retries.
// Solo usa endpoints públicos (velas históricas y stream de trades).
type Client struct {
	http    *http.Client
	baseURL string
	wsURL   string
	limiter *rate.Limiter
}

// NewClient crea un Client. Con baseURL/wsURL vacíos usa producción.
func NewClient(baseURL, wsURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		wsURL:   wsURL,
		limiter: rate.NewLimiter(publicRatePerSec, 5),
	}
}

// rpcError es el sobre de error del JSON-RPC de Deribit.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// get hace un GET con rate limiting, retries y decodifica result en out.
func (c *Client) get(ctx context.Context, url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by deribit", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		var envelope struct {
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		err = json.NewDecoder(resp.Body).Decode(&envelope)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if envelope.Error != nil {
			return fmt.Errorf("deribit error %d: %s", envelope.Error.Code, envelope.Error.Message)
		}
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
