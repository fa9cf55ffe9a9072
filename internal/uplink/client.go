package uplink

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/any-hub/tierhub/internal/retry"
)

const (
	headerAccept         = "Accept"
	headerAcceptEncoding = "Accept-Encoding"
	headerUserAgent      = "User-Agent"

	acceptJSON = "application/json;"

	kindMetadata = "metadata"
	kindTarball  = "tarball"
)

// componentUnescape 还原 QueryEscape 会转义、但 URI 组件编码保留的字符。
var componentUnescape = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EscapeName 按 URI 组件规则转义包名，除字母数字与 -_.!~*'() 外全部编码，
// 只有开头的 @ 保持原样。
func EscapeName(name string) string {
	escaped := componentUnescape.Replace(url.QueryEscape(name))
	if strings.HasPrefix(escaped, "%40") {
		escaped = "@" + escaped[len("%40"):]
	}
	return escaped
}

// MetadataURL 拼接上游包元数据地址。
func MetadataURL(uplink, name string) string {
	return strings.TrimRight(uplink, "/") + "/" + EscapeName(name)
}

func (s *Syncer) setHeaders(req *http.Request) {
	req.Header.Set(headerAccept, acceptJSON)
	req.Header.Set(headerAcceptEncoding, "gzip")
	// registry.npmjs.org 只在 user-agent 含 npm 时返回搜索结果。
	if s.opts.UserAgent != "" {
		req.Header.Set(headerUserAgent, "npm ("+s.opts.UserAgent+")")
	}
}

// get 发起带重试的 GET。只有传输层错误会重试，状态码交给调用方判断；
// ctx 结束后立即放弃剩余的重试。
func (s *Syncer) get(ctx context.Context, kind, rawURL string) (*http.Response, error) {
	return retry.Do(s.retry, func() (*http.Response, error) {
		if err := ctx.Err(); err != nil {
			return nil, retry.Abort(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, retry.Abort(invalidArgument("invalid uplink url: " + rawURL))
		}
		s.setHeaders(req)

		resp, err := s.opts.Client.Do(req)
		if err != nil {
			s.opts.Metrics.ObserveUplink(kind, 0)
			return nil, err
		}
		s.opts.Metrics.ObserveUplink(kind, resp.StatusCode)
		return resp, nil
	})
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound(msgNotFound)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return badStatus(resp.StatusCode)
	}
	return nil
}

// responseBody 返回解压后的响应体。Content-Length 针对的是线上传输的字节，
// 因此长度校验放在解压之前。
func responseBody(resp *http.Response) (io.ReadCloser, error) {
	checked := &lengthReader{src: resp.Body, expected: resp.ContentLength}
	body := &streamBody{Reader: checked, raw: resp.Body, checked: checked}

	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(checked)
		if err != nil {
			resp.Body.Close()
			return nil, internal("invalid gzip response", err)
		}
		body.Reader = gz
		body.gz = gz
	}
	return body, nil
}

type streamBody struct {
	io.Reader
	raw     io.Closer
	gz      *gzip.Reader
	checked *lengthReader
}

// streamErr 返回读取过程中记录的长度校验错误。
func streamErr(body io.ReadCloser) error {
	if sb, ok := body.(*streamBody); ok {
		return sb.checked.failed
	}
	return nil
}

func (b *streamBody) Close() error {
	if b.gz != nil {
		b.gz.Close()
	}
	return b.raw.Close()
}

// lengthReader 统计收到的字节数，结束时与 Content-Length 比对；中途的传输错误
// 同样视为长度不符。expected 为负数表示未知长度。
type lengthReader struct {
	src      io.Reader
	expected int64
	received int64
	failed   error
}

func (r *lengthReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	r.received += int64(n)
	switch {
	case err == io.EOF:
		if r.expected >= 0 && r.received != r.expected {
			r.failed = contentMismatch(nil)
			return n, r.failed
		}
	case err != nil:
		r.failed = contentMismatch(err)
		return n, r.failed
	}
	return n, err
}
