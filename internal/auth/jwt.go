package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/damworks/aem-assets-mcp/internal/aem"
)

const (
	// The assertion's exp claim is short-lived; every exchange signs afresh.
	assertionLifetime = time.Hour

	// Adobe documents service-account tokens as 24h valid. Used only when
	// the exchange response omits expires_in.
	defaultJWTLifetime = 24 * time.Hour
)

// JWTCredentials describes an Adobe Developer Console technical account.
type JWTCredentials struct {
	OrgID              string
	TechnicalAccountID string
	ClientID           string
	ClientSecret       string
	PrivateKeyPEM      string
	IMSHost            string
	Metascope          string
	ExchangeEndpoint   string
}

// JWTTokenProvider signs a service-account assertion and exchanges it for an
// IMS access token. Only the resulting access token is cached (by the
// TokenStore); assertions are never reused.
type JWTTokenProvider struct {
	creds      JWTCredentials
	httpClient *http.Client
	now        func() time.Time
}

// NewJWTTokenProvider builds a provider. The IMS host may be given with or
// without the https:// prefix; the exchange endpoint defaults to the IMS
// host's /ims/exchange/jwt/ route.
func NewJWTTokenProvider(creds JWTCredentials, httpClient *http.Client) *JWTTokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if !strings.HasPrefix(creds.IMSHost, "http") {
		creds.IMSHost = "https://" + creds.IMSHost
	}
	if creds.ExchangeEndpoint == "" {
		creds.ExchangeEndpoint = creds.IMSHost + "/ims/exchange/jwt/"
	}
	return &JWTTokenProvider{
		creds:      creds,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Fetch signs a fresh assertion and exchanges it.
func (p *JWTTokenProvider) Fetch(ctx context.Context) (Token, error) {
	assertion, err := p.signAssertion()
	if err != nil {
		return Token{}, &aem.AuthError{Reason: "jwt_sign_failed"}
	}
	return p.exchange(ctx, assertion)
}

func (p *JWTTokenProvider) signAssertion() (string, error) {
	key, err := parseRSAPrivateKey(p.creds.PrivateKeyPEM)
	if err != nil {
		return "", err
	}

	metascope := p.creds.Metascope
	if !strings.HasPrefix(metascope, "http") {
		metascope = fmt.Sprintf("%s/s/%s", p.creds.IMSHost, metascope)
	}

	claims := jwt.MapClaims{
		"exp":     p.now().Add(assertionLifetime).Unix(),
		"iss":     p.creds.OrgID,
		"sub":     p.creds.TechnicalAccountID,
		"aud":     fmt.Sprintf("%s/c/%s", p.creds.IMSHost, p.creds.ClientID),
		metascope: true,
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func (p *JWTTokenProvider) exchange(ctx context.Context, assertion string) (Token, error) {
	form := url.Values{
		"client_id":     {p.creds.ClientID},
		"client_secret": {p.creds.ClientSecret},
		"jwt_token":     {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.ExchangeEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &aem.AuthError{Reason: "jwt_exchange_failed"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Token{}, &aem.AuthError{Reason: "jwt_exchange_failed"}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Token{}, &aem.AuthError{Reason: "jwt_exchange_failed", HTTPStatus: resp.StatusCode}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.AccessToken == "" {
		return Token{}, &aem.AuthError{Reason: "jwt_exchange_failed", HTTPStatus: resp.StatusCode}
	}

	lifetime := defaultJWTLifetime
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}
	return Token{Value: payload.AccessToken, ExpiresAt: p.now().Add(lifetime)}, nil
}

// parseRSAPrivateKey accepts PKCS#1 or PKCS#8 PEM. Values sourced from env
// often carry literal \n sequences; those are normalized first.
func parseRSAPrivateKey(pemValue string) (*rsa.PrivateKey, error) {
	pemValue = strings.ReplaceAll(pemValue, `\n`, "\n")

	block, _ := pem.Decode([]byte(pemValue))
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("unable to parse RSA private key")
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}
