package whttp

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL       string
	Method    string
	Body      []byte
	Headers   []WHTTPHeader
	BasicUser string
	BasicPass string
}

type WHTTPRes struct {
	StatusCode int
	BodyString string
	Header     http.Header
}

// NewRetryClient returns an http.Client that transparently retries
// transient failures (connection resets, 5xx) a few times before giving up.
// Retry logging is silenced; callers log at their own level.
func NewRetryClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return rc.StandardClient()
}

// SendHTTPRequest performs a single HTTP request and buffers the whole
// response body. A nil client falls back to http.DefaultClient.
func SendHTTPRequest(ctx context.Context, wReq *WHTTPReq, client *http.Client) (*WHTTPRes, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var bodyReader io.Reader
	if len(wReq.Body) > 0 {
		bodyReader = bytes.NewReader(wReq.Body)
	}

	req, err := http.NewRequestWithContext(ctx, wReq.Method, wReq.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Connection", "close")
	req.Header.Set("Accept-Language", "en")

	if wReq.BasicUser != "" || wReq.BasicPass != "" {
		req.SetBasicAuth(wReq.BasicUser, wReq.BasicPass)
	}

	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	return &WHTTPRes{
		StatusCode: resp.StatusCode,
		BodyString: string(bodyBytes),
		Header:     resp.Header,
	}, nil
}
