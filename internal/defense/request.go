package defense

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

const defaultClientIP = "127.0.0.1"

// ClientIP resolves the identifier for r: first X-Forwarded-For hop, then
// X-Real-IP, then the connection address. Proxy headers are ignored when
// trustProxy is false.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	if r.RemoteAddr == "" {
		return defaultClientIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// requestURL rebuilds the absolute URL the client asked for.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

type peekedBody struct {
	io.Reader
	io.Closer
}

// peekBody returns up to limit bytes of the body and rewinds r.Body so the
// downstream handler still sees the full payload. GET bodies are not read.
// Read errors yield an empty string: detection degrades, the request goes on.
func peekBody(r *http.Request, limit int64) string {
	if r.Method == http.MethodGet || r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, limit))
	r.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return ""
	}
	return string(buf)
}

// scanBuffer joins body, URL and user agent into the text rules run against.
// The decoded URL is included so percent-encoded payloads are still seen.
func scanBuffer(body, rawURL, userAgent string) string {
	var b strings.Builder
	b.Grow(len(body) + 2*len(rawURL) + len(userAgent) + 3)
	b.WriteString(body)
	b.WriteByte(' ')
	b.WriteString(rawURL)
	if decoded, err := url.QueryUnescape(rawURL); err == nil && decoded != rawURL {
		b.WriteByte(' ')
		b.WriteString(decoded)
	}
	b.WriteByte(' ')
	b.WriteString(userAgent)
	return b.String()
}
