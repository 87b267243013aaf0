package whatsapp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks X-Twilio-Signature on webhook requests.
// Reference: https://www.twilio.com/docs/usage/webhooks/webhooks-security
type SignatureValidator struct {
	authToken string
	baseURL   string
	logger    *zap.Logger
}

// NewSignatureValidator validates against baseURL, the public scheme and host
// Twilio was configured with (the server may sit behind a proxy).
func NewSignatureValidator(authToken, baseURL string, logger *zap.Logger) *SignatureValidator {
	return &SignatureValidator{
		authToken: authToken,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// Sign computes the expected signature for a full request URL and its POST
// parameters.
func (v *SignatureValidator) Sign(fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, val := range values {
			b.WriteString(k)
			b.WriteString(val)
		}
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (v *SignatureValidator) Validate(fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := v.Sign(fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Middleware rejects webhook calls whose signature does not match.
func (v *SignatureValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fullURL := v.baseURL + r.URL.RequestURI()
		if !v.Validate(fullURL, r.PostForm, r.Header.Get(SignatureHeader)) {
			v.logger.Warn("webhook: invalid signature", zap.String("url", fullURL))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
