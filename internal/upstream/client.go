package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aigateway/internal/billing"
	"aigateway/internal/model"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const anthropicVersion = "2023-06-01"

// Response 上游非流式响应；Body 已按 Content-Encoding 解压
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Usage      billing.TokenUsage
	UsageFound bool
	Latency    time.Duration
	Attempts   int
}

// Client 调用上游提供商；超时与重试上限取自提供商配置
type Client struct {
	transport        http.RoundTripper
	retry            RetryConfig
	decompressor     *Decompressor
	maxResponseBytes int64

	// OnRetry 每次重试回调（指标），可为空
	OnRetry func(provider string, attempt int, err error, statusCode int)
}

func NewClient() *Client {
	return NewClientWithTransport(NewTransport())
}

// NewClientWithTransport 使用指定 RoundTripper，测试时传入 httptest 的 transport
func NewClientWithTransport(transport http.RoundTripper) *Client {
	if transport == nil {
		transport = NewTransport()
	}
	return &Client{
		transport:        transport,
		retry:            DefaultRetryConfig(),
		decompressor:     NewDecompressor(0),
		maxResponseBytes: 50 << 20,
	}
}

// SetRetryConfig 覆盖退避参数；尝试次数始终由提供商的 max_retries 决定
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.retry = cfg
}

func (c *Client) httpClient(provider *model.Provider) (*http.Client, *attemptCounter) {
	rt := NewRetryTransport(c.transport, c.retry.WithMaxRetries(provider.MaxRetries))
	counter := &attemptCounter{n: 1}
	rt.OnRetry = func(attempt int, err error, statusCode int) {
		counter.n = attempt + 1
		if c.OnRetry != nil {
			c.OnRetry(provider.Name, attempt, err, statusCode)
		}
	}
	return &http.Client{Transport: rt}, counter
}

type attemptCounter struct {
	n int
}

// ChatCompletion 转发一次对话补全请求
// body 中的 model 字段被替换为 upstreamModel；非 2xx 时同时返回 Response 与 *StatusError
func (c *Client) ChatCompletion(ctx context.Context, provider *model.Provider, upstreamModel string, body []byte) (*Response, error) {
	payload := body
	if upstreamModel != "" {
		rewritten, err := sjson.SetBytes(body, "model", upstreamModel)
		if err != nil {
			return nil, fmt.Errorf("upstream: rewrite model: %w", err)
		}
		payload = rewritten
	}

	ctx, cancel := context.WithTimeout(ctx, provider.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(provider, "/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req, provider)

	resp, err := c.do(req, provider)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	resp.Usage, resp.UsageFound = ParseUsage(resp.Body)
	return resp, nil
}

// ListModels 拉取提供商模型目录原始响应
func (c *Client) ListModels(ctx context.Context, provider *model.Provider) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(provider, "/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	c.applyHeaders(req, provider)

	resp, err := c.do(req, provider)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return resp, nil
}

func (c *Client) do(req *http.Request, provider *model.Provider) (*Response, error) {
	client, counter := c.httpClient(provider)

	start := time.Now()
	httpResp, err := client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"provider":   provider.Name,
			"path":       req.URL.Path,
			"errorClass": classifyError(err),
		}).Warnf("upstream: request failed: %s", SanitizeError(err))
		return nil, fmt.Errorf("upstream: %s %s: %w", req.Method, provider.Name, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("upstream: read body: %w", err)
	}
	if int64(len(raw)) > c.maxResponseBytes {
		return nil, fmt.Errorf("upstream: response exceeds %d bytes", c.maxResponseBytes)
	}

	header := httpResp.Header.Clone()
	data, err := c.decompressor.Decompress(raw, header)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     header,
		Body:       data,
		Latency:    time.Since(start),
		Attempts:   counter.n,
	}, nil
}

func (c *Client) applyHeaders(req *http.Request, provider *model.Provider) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", AcceptEncoding)
	if provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
		if provider.Format == model.ProviderFormatAnthropic {
			req.Header.Set("x-api-key", provider.APIKey)
		}
	}
	if provider.Format == model.ProviderFormatAnthropic {
		req.Header.Set("anthropic-version", anthropicVersion)
	}

	for k, v := range ExtraHeaders(provider.HeadersJSON) {
		req.Header.Set(k, v)
	}
}

// ExtraHeaders 解析提供商的附加请求头；格式错误时忽略
func ExtraHeaders(headersJSON string) map[string]string {
	headersJSON = strings.TrimSpace(headersJSON)
	if headersJSON == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
		log.Warnf("upstream: invalid headers_json ignored: %v", err)
		return nil
	}
	return headers
}

func endpoint(provider *model.Provider, path string) string {
	return strings.TrimRight(provider.BaseURL, "/") + path
}
