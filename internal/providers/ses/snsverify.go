package ses

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"mailwatch/internal/providers/shared"
)

// SNS signs the canonical string form of a notification with the RSA
// key behind SigningCertURL. Verification is a total function: any
// malformed, incomplete or tampered payload verifies false.

var snsHostPattern = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

const maxCertBytes = 64 << 10

type snsVerifier struct {
	client *http.Client

	// hostOK gates which hosts certificates and subscribe URLs may be
	// fetched from; overridden in tests.
	hostOK func(*url.URL) bool

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

func newSNSVerifier(client *http.Client) *snsVerifier {
	return &snsVerifier{
		client: client,
		hostOK: func(u *url.URL) bool { return snsHostPattern.MatchString(u.Host) },
		certs:  map[string]*x509.Certificate{},
	}
}

func (v *snsVerifier) Verify(ctx context.Context, payload map[string]interface{}) bool {
	signature, err := base64.StdEncoding.DecodeString(shared.Stringify(payload["Signature"]))
	if err != nil || len(signature) == 0 {
		return false
	}
	canonical, ok := canonicalSigningString(payload)
	if !ok {
		return false
	}
	certURL, err := url.Parse(strings.TrimSpace(shared.Stringify(payload["SigningCertURL"])))
	if err != nil || !v.trustedURL(certURL) {
		return false
	}
	cert, err := v.certificate(ctx, certURL.String())
	if err != nil {
		return false
	}
	algo := x509.SHA1WithRSA
	if shared.Stringify(payload["SignatureVersion"]) == "2" {
		algo = x509.SHA256WithRSA
	}
	return cert.CheckSignature(algo, []byte(canonical), signature) == nil
}

func (v *snsVerifier) trustedURL(u *url.URL) bool {
	if u == nil || u.Scheme != "https" || u.Host == "" {
		return false
	}
	return v.hostOK(u)
}

// canonicalSigningString rebuilds the exact byte string SNS signed:
// selected keys in lexical order, each as "key\nvalue\n".
func canonicalSigningString(payload map[string]interface{}) (string, bool) {
	var keys []string
	switch shared.Stringify(payload["Type"]) {
	case "Notification":
		keys = []string{"Message", "MessageId", "Subject", "Timestamp", "TopicArn", "Type"}
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		keys = []string{"Message", "MessageId", "SubscribeURL", "Timestamp", "Token", "TopicArn", "Type"}
	default:
		return "", false
	}
	var b strings.Builder
	for _, key := range keys {
		raw, present := payload[key]
		if !present {
			if key == "Subject" {
				continue
			}
			return "", false
		}
		value, ok := raw.(string)
		if !ok {
			return "", false
		}
		b.WriteString(key)
		b.WriteByte('\n')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	return b.String(), true
}

func (v *snsVerifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	v.mu.Lock()
	cached, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing cert fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(body)
	if block == nil {
		return nil, fmt.Errorf("signing cert is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.certs[certURL] = cert
	v.mu.Unlock()
	return cert, nil
}
