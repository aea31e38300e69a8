package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names sent with signed executor requests.
const (
	HeaderAPIKey    = "X-TG-API-KEY"
	HeaderTimestamp = "X-TG-TIMESTAMP"
	HeaderSignature = "X-TG-SIGNATURE"
)

// RequestSigner authenticates calls to a remote execution backend with
// HMAC-SHA256 over timestamp, method, path and body.
type RequestSigner struct {
	Key    string
	Secret string
}

// Headers signs a request at the current time.
func (r RequestSigner) Headers(method, path string, body []byte) map[string]string {
	return r.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt signs a request at the given unix time.
func (r RequestSigner) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    r.Key,
		HeaderTimestamp: ts,
		HeaderSignature: r.sign(ts + method + path + string(body)),
	}
}

// Verify checks a signature produced by HeadersAt, rejecting timestamps more
// than skew away from now.
func (r RequestSigner) Verify(method, path string, body []byte, ts, sig string, now time.Time, skew time.Duration) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return false
	}
	want := r.sign(ts + method + path + string(body))
	return hmac.Equal([]byte(want), []byte(sig))
}

func (r RequestSigner) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(r.Secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String redacts the credentials for logging.
func (r RequestSigner) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("RequestSigner{key=%s, secret=%s}", redact(r.Key), redact(r.Secret))
}
