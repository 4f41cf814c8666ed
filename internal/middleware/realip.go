package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP はリクエスト元のクライアントIPアドレスを返す。
// リバースプロキシ配下での運用を想定し、X-Forwarded-Forの先頭エントリ、
// X-Real-IP、RemoteAddrの順で解決する。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// 複数プロキシを経由した場合は先頭が元のクライアント
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
