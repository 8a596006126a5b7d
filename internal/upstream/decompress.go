package upstream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding 向上游声明可解码的压缩格式
const AcceptEncoding = "gzip, br, zstd, deflate"

// Decompressor 按 Content-Encoding 解压上游响应体
type Decompressor struct {
	maxDecompressedSize int64
}

func NewDecompressor(maxSize int64) *Decompressor {
	if maxSize <= 0 {
		maxSize = 50 << 20 // 50MB
	}
	return &Decompressor{maxDecompressedSize: maxSize}
}

// Decompress 解压数据并移除 header 中的 Content-Encoding；未压缩时原样返回
func (d *Decompressor) Decompress(data []byte, header http.Header) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(header.Get("Content-Encoding")))

	var (
		reader io.Reader
		closer func()
	)
	switch encoding {
	case "", "identity":
		// 检测未声明的 gzip
		if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
			return data, nil
		}
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return data, nil
		}
		reader, closer = gz, func() { _ = gz.Close() }
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		reader, closer = gz, func() { _ = gz.Close() }
	case "br":
		reader = brotli.NewReader(bytes.NewReader(data))
	case "zstd":
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		reader, closer = dec, dec.Close
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(data))
		reader, closer = fr, func() { _ = fr.Close() }
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %q", encoding)
	}
	if closer != nil {
		defer closer()
	}

	out, err := io.ReadAll(io.LimitReader(reader, d.maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", encoding, err)
	}
	if int64(len(out)) > d.maxDecompressedSize {
		return nil, fmt.Errorf("decompressed response exceeds %d bytes", d.maxDecompressedSize)
	}

	header.Del("Content-Encoding")
	header.Del("Content-Length")
	return out, nil
}
