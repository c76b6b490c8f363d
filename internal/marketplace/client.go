package marketplace

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

	"go.uber.org/zap"
)

const maxResponseBodySize = 1 << 20 // 1 MiB

// Options configures the raw marketplace client.
type Options struct {
	BaseURL        string
	PartnerID      string
	TimeoutSeconds int
}

// Client is the raw HTTP client for the marketplace open API. It performs
// no retries, caching or rate limiting; the resilient wrapper owns that.
type Client struct {
	baseURL    string
	partnerID  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a raw API client with a bounded request timeout.
func NewClient(opts Options, logger *zap.Logger) *Client {
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   opts.BaseURL,
		partnerID: opts.PartnerID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// GetItem fetches the base info of one listing.
func (c *Client) GetItem(ctx context.Context, auth Auth, itemID string) (*Item, error) {
	params := url.Values{}
	params.Set("item_id", itemID)

	var out struct {
		apiEnvelope
		Response Item `json:"response"`
	}
	if err := c.get(ctx, auth, "/api/v2/product/get_item_base_info", params, &out); err != nil {
		return nil, err
	}
	if out.Response.ItemID == "" {
		out.Response.ItemID = itemID
	}
	return &out.Response, nil
}

// GetModelList fetches every variation of one listing.
func (c *Client) GetModelList(ctx context.Context, auth Auth, itemID string) ([]Model, error) {
	params := url.Values{}
	params.Set("item_id", itemID)

	var out struct {
		apiEnvelope
		Response struct {
			Models []Model `json:"model"`
		} `json:"response"`
	}
	if err := c.get(ctx, auth, "/api/v2/product/get_model_list", params, &out); err != nil {
		return nil, err
	}
	return out.Response.Models, nil
}

// GetItemList fetches one page of the shop's item list.
func (c *Client) GetItemList(ctx context.Context, auth Auth, offset, pageSize int) (*ItemPage, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("page_size", strconv.Itoa(pageSize))

	var out struct {
		apiEnvelope
		Response ItemPage `json:"response"`
	}
	if err := c.get(ctx, auth, "/api/v2/product/get_item_list", params, &out); err != nil {
		return nil, err
	}
	return &out.Response, nil
}

// GetOrderList fetches one page of the shop's order list.
func (c *Client) GetOrderList(ctx context.Context, auth Auth, cursor string, pageSize int) (*OrderPage, error) {
	params := url.Values{}
	params.Set("cursor", cursor)
	params.Set("page_size", strconv.Itoa(pageSize))

	var out struct {
		apiEnvelope
		Response OrderPage `json:"response"`
	}
	if err := c.get(ctx, auth, "/api/v2/order/get_order_list", params, &out); err != nil {
		return nil, err
	}
	return &out.Response, nil
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken, shopID string) (*TokenResponse, error) {
	body := map[string]string{
		"partner_id":    c.partnerID,
		"refresh_token": refreshToken,
		"shop_id":       shopID,
	}

	var out struct {
		apiEnvelope
		TokenResponse
	}
	if err := c.post(ctx, "/api/v2/auth/access_token/get", body, &out); err != nil {
		return nil, err
	}
	return &out.TokenResponse, nil
}

func (c *Client) get(ctx context.Context, auth Auth, path string, params url.Values, out interface{}) error {
	params.Set("partner_id", c.partnerID)
	if auth.ShopID != "" {
		params.Set("shop_id", auth.ShopID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("marketplace api %s: build request: %w", path, err)
	}
	if auth.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marketplace api %s: marshal body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("marketplace api %s: build request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

// do executes a request and decodes the response. Errors embed the HTTP
// status in the message text; Classify depends on that format.
func (c *Client) do(req *http.Request, path string, out interface{}) error {
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace api %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("marketplace api %s failed: read body: %w", path, err)
	}

	c.logger.Debug("Marketplace API call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(started)),
	)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("marketplace api %s failed: status %d: %s", path, resp.StatusCode, excerpt(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("marketplace api %s failed: decode response: %w", path, err)
	}

	// The API signals some errors inside a 200 response body.
	if env, ok := out.(envelope); ok {
		if code, msg := env.apiError(); code != "" {
			return fmt.Errorf("marketplace api %s failed: %s: %s", path, code, msg)
		}
	}
	return nil
}

func excerpt(raw []byte) string {
	const max = 200
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
