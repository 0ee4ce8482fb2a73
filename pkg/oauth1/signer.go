// Package oauth1 signs requests with OAuth 1.0a HMAC-SHA1 (RFC 5849).
package oauth1

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureMethod = "HMAC-SHA1"
	Version         = "1.0"
)

// Token is the per-user token pair. The zero Token signs as the application
// alone, which is what the request-token step needs.
type Token struct {
	Token  string
	Secret string
}

// Signer produces Authorization headers for one consumer.
type Signer struct {
	ConsumerKey    string
	ConsumerSecret string

	// Now and Nonce default to the wall clock and 32 random bytes.
	Now   func() time.Time
	Nonce func() string
}

// NewSigner returns a Signer for the given consumer credentials.
func NewSigner(consumerKey, consumerSecret string) *Signer {
	return &Signer{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
	}
}

// Sign returns the headers to attach to a request. bodyParams holds
// form-encoded body parameters; multipart bodies are not signed and should
// pass nil. Parameters named oauth_* in bodyParams (oauth_callback,
// oauth_verifier) are moved into the Authorization header.
func (s *Signer) Sign(method, rawURL string, bodyParams url.Values, token Token) (http.Header, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, err
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": SignatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_version":          Version,
	}
	if token.Token != "" {
		oauthParams["oauth_token"] = token.Token
	}

	params := make([]pair, 0, len(oauthParams)+len(bodyParams))
	for k, v := range oauthParams {
		params = append(params, pair{k, v})
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			params = append(params, pair{k, v})
		}
	}
	for k, vs := range bodyParams {
		for _, v := range vs {
			params = append(params, pair{k, v})
			if strings.HasPrefix(k, "oauth_") {
				oauthParams[k] = v
			}
		}
	}

	base := baseString(method, u, params)
	key := PercentEncode(s.ConsumerSecret) + "&" + PercentEncode(token.Secret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	header := make(http.Header)
	header.Set("Authorization", authorizationHeader(oauthParams))
	return header, nil
}

// Apply signs req in place. Only form-encoded bodies are included in the
// signature, so callers pass those through bodyParams.
func (s *Signer) Apply(req *http.Request, bodyParams url.Values, token Token) error {
	header, err := s.Sign(req.Method, req.URL.String(), bodyParams, token)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header.Get("Authorization"))
	return nil
}

type pair struct {
	key   string
	value string
}

// baseString builds the signature base string: the upper-case method, the
// base URL without query or fragment, and the sorted, encoded parameters.
func baseString(method string, u *url.URL, params []pair) string {
	encoded := make([]pair, len(params))
	for i, p := range params {
		encoded[i] = pair{PercentEncode(p.key), PercentEncode(p.value)}
	}
	sort.Slice(encoded, func(i, j int) bool {
		if encoded[i].key != encoded[j].key {
			return encoded[i].key < encoded[j].key
		}
		return encoded[i].value < encoded[j].value
	})

	parts := make([]string, len(encoded))
	for i, p := range encoded {
		parts[i] = p.key + "=" + p.value
	}

	return strings.ToUpper(method) + "&" +
		PercentEncode(baseURL(u)) + "&" +
		PercentEncode(strings.Join(parts, "&"))
}

func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func authorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, PercentEncode(k), PercentEncode(params[k]))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// PercentEncode escapes everything outside the RFC 3986 unreserved set.
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Signer) nonce() (string, error) {
	if s.Nonce != nil {
		return s.Nonce(), nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
