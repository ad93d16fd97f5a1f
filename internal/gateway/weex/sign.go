package weex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerKey        = "ACCESS-KEY"
	headerSign       = "ACCESS-SIGN"
	headerTimestamp  = "ACCESS-TIMESTAMP"
	headerPassphrase = "ACCESS-PASSPHRASE"
	userAgent        = "weexagent/1.0"
)

// Credentials 是 WEEX API 的三元凭证。
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Sign returns base64(HMAC-SHA256(secret, prehash)).
func Sign(secret, prehash string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RESTPrehash 拼接 REST 签名原文：timestamp + METHOD + path + query + body。
// query 包含前导 "?"（无参数时为空）。
func RESTPrehash(timestamp, method, path, query, body string) string {
	return timestamp + strings.ToUpper(method) + path + query + body
}

func timestampMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// handshakeHeader 生成 websocket 握手所需的鉴权头，签名原文为 timestamp + requestPath。
func handshakeHeader(creds Credentials, requestPath string, now time.Time) http.Header {
	ts := timestampMillis(now)
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set(headerKey, creds.APIKey)
	h.Set(headerPassphrase, creds.Passphrase)
	h.Set(headerTimestamp, ts)
	h.Set(headerSign, Sign(creds.SecretKey, ts+requestPath))
	return h
}
