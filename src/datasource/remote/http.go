package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
)

// HTTPSource 通过 GET 请求读取数据
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource 根据传输参数创建独立的 http.Client
// 证书校验只作用于这个数据源，不修改全局 TLS 设置
func NewHTTPSource(url string, opts TransportOptions) *HTTPSource {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &HTTPSource{
		url: url,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
	}
}

// NewHTTPSourceWithClient 使用调用方提供的客户端
func NewHTTPSourceWithClient(url string, client *http.Client) *HTTPSource {
	return &HTTPSource{url: url, client: client}
}

func (s *HTTPSource) Location() string { return s.url }

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{Location: s.url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
