package upstream

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewTransport 上游共享连接池；压缩由 Decompressor 自行处理
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,

		// 整体时长由提供商超时经 context 控制，这里不再单独限制响应头
		ResponseHeaderTimeout: 0,

		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
}
