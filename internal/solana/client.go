package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/httpclient"
	"github.com/jukezispilled/lockd/internal/metrics"
	"go.uber.org/zap"
)

var ErrAssetNotFound = errors.New("asset not found")

// RPCError is an error object returned inside a JSON-RPC envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Client talks JSON-RPC to a Solana node with the DAS extension (Helius).
// It answers both balance and token metadata questions.
type Client struct {
	endpoint string
	http     *httpclient.Client
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewClient(endpoint string, hc *httpclient.Client, timeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{endpoint: endpoint, http: hc, timeout: timeout, log: log}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.OracleLatency.WithLabelValues(method, outcome).Observe(time.Since(start).Seconds())
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "lockd", Method: method, Params: params})
	if err != nil {
		return err
	}
	resp, err := c.http.Do(ctx, http.MethodPost, c.endpoint, http.Header{"Content-Type": {"application/json"}}, body)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var env rpcEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%s: %w", method, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

type tokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       int      `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

func (t tokenAmount) value() float64 {
	if t.UIAmountString != "" {
		if f, err := strconv.ParseFloat(t.UIAmountString, 64); err == nil {
			return f
		}
	}
	if t.UIAmount != nil {
		return *t.UIAmount
	}
	if raw, err := strconv.ParseFloat(t.Amount, 64); err == nil {
		return raw / math.Pow10(t.Decimals)
	}
	return 0
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string      `json:"mint"`
						TokenAmount tokenAmount `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

// TokenBalance sums the owner's balance of mint over every token account it
// holds for that mint.
func (c *Client) TokenBalance(ctx context.Context, owner, mint string) (float64, error) {
	params := []any{
		owner,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed"},
	}
	var res tokenAccountsResult
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &res); err != nil {
		return 0, err
	}
	var total float64
	for _, acc := range res.Value {
		total += acc.Account.Data.Parsed.Info.TokenAmount.value()
	}
	return total, nil
}

// Asset is the subset of a DAS asset lockd reads.
type Asset struct {
	ID      string `json:"id"`
	Content struct {
		Metadata struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
			Image  string `json:"image"`
		} `json:"metadata"`
		Links struct {
			Image string `json:"image"`
		} `json:"links"`
		Files []struct {
			URI string `json:"uri"`
		} `json:"files"`
	} `json:"content"`
	TokenInfo struct {
		Symbol string `json:"symbol"`
	} `json:"token_info"`
}

// ImageURL prefers metadata.image, then links.image, then the first file.
func (a *Asset) ImageURL() *string {
	for _, s := range []string{a.Content.Metadata.Image, a.Content.Links.Image} {
		if s != "" {
			return &s
		}
	}
	if len(a.Content.Files) > 0 && a.Content.Files[0].URI != "" {
		u := a.Content.Files[0].URI
		return &u
	}
	return nil
}

// Assets fetches mints with one getAssetBatch call. Unknown ids are skipped.
func (c *Client) Assets(ctx context.Context, mints []string) ([]Asset, error) {
	var res []*Asset
	if err := c.call(ctx, "getAssetBatch", map[string]any{"ids": mints}, &res); err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(res))
	for _, a := range res {
		if a != nil && a.ID != "" {
			out = append(out, *a)
		}
	}
	return out, nil
}

// AssetImages maps each returned mint to its image URL (nil when the asset
// has none). Mints the node does not know are left out.
func (c *Client) AssetImages(ctx context.Context, mints []string) (map[string]*string, error) {
	assets, err := c.Assets(ctx, mints)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*string, len(assets))
	for i := range assets {
		out[assets[i].ID] = assets[i].ImageURL()
	}
	return out, nil
}

func (c *Client) TokenMetadata(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	assets, err := c.Assets(ctx, []string{mint})
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, ErrAssetNotFound
	}
	a := assets[0]
	symbol := a.Content.Metadata.Symbol
	if symbol == "" {
		symbol = a.TokenInfo.Symbol
	}
	return &domain.TokenMetadata{
		Mint:     a.ID,
		Name:     a.Content.Metadata.Name,
		Symbol:   symbol,
		ImageURL: a.ImageURL(),
	}, nil
}
