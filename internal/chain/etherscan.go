package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

// Etherscan talks to the Etherscan HTTP API.
type Etherscan struct {
	BaseURL    string
	APIKey     string
	ChainID    int
	HTTPClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewEtherscan builds a client allowed rps requests per second. A non-positive
// rps disables throttling.
func NewEtherscan(baseURL, apiKey string, rps float64) *Etherscan {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Etherscan{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		ChainID: 1,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type countdownResult struct {
	CurrentBlock      string `json:"CurrentBlock"`
	CountdownBlock    string `json:"CountdownBlock"`
	RemainingBlock    string `json:"RemainingBlock"`
	EstimateTimeInSec string `json:"EstimateTimeInSec"`
}

type proxyEnvelope struct {
	Result *struct {
		Hash   string `json:"hash"`
		Number string `json:"number"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Etherscan) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("chainid", strconv.Itoa(c.ChainID))
	params.Set("apikey", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("etherscan error: %s (status: %d)", string(body), resp.StatusCode)
	}
	return body, nil
}

// ETAForBlock uses the block countdown endpoint.
func (c *Etherscan) ETAForBlock(ctx context.Context, block uint64) (time.Time, error) {
	body, err := c.doRequest(ctx, url.Values{
		"module":  {"block"},
		"action":  {"getblockcountdown"},
		"blockno": {strconv.FormatUint(block, 10)},
	})
	if err != nil {
		return time.Time{}, err
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if env.Status != "1" {
		var msg string
		_ = json.Unmarshal(env.Result, &msg)
		if strings.Contains(strings.ToLower(msg), "already pass") {
			return time.Time{}, fmt.Errorf("%w: %d", ErrBlockAlreadyMined, block)
		}
		return time.Time{}, fmt.Errorf("etherscan countdown %d: %s %s", block, env.Message, msg)
	}

	var res countdownResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal countdown: %w", err)
	}
	seconds, err := strconv.ParseFloat(res.EstimateTimeInSec, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad EstimateTimeInSec %q: %w", res.EstimateTimeInSec, err)
	}
	return c.now().UTC().Add(time.Duration(math.Floor(seconds)) * time.Second), nil
}

// HashForBlock reads the block through the Etherscan JSON-RPC proxy.
func (c *Etherscan) HashForBlock(ctx context.Context, block uint64) (string, error) {
	body, err := c.doRequest(ctx, url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getBlockByNumber"},
		"tag":     {hexutil.EncodeUint64(block)},
		"boolean": {"false"},
	})
	if err != nil {
		return "", err
	}

	var env proxyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// rate limit and key errors come back in the plain envelope
		var plain apiEnvelope
		if json.Unmarshal(body, &plain) == nil && plain.Status == "0" {
			return "", fmt.Errorf("etherscan block %d: %s %s", block, plain.Message, string(plain.Result))
		}
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if env.Error != nil {
		return "", fmt.Errorf("etherscan block %d: rpc error %d: %s", block, env.Error.Code, env.Error.Message)
	}
	if env.Result == nil || env.Result.Hash == "" {
		return "", fmt.Errorf("%w: %d", ErrBlockNotMined, block)
	}
	raw, err := hexutil.Decode(env.Result.Hash)
	if err != nil || len(raw) != common.HashLength {
		return "", fmt.Errorf("etherscan block %d: malformed hash %q", block, env.Result.Hash)
	}
	return common.BytesToHash(raw).Hex(), nil
}
