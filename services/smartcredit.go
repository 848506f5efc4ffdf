package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"disputeflow-backend/models"
)

const (
	smartCreditAPITimeout    = 30 * time.Second
	smartCreditReportTimeout = 60 * time.Second
)

// SmartCreditClient is the OAuth2 credit-data provider. Report fetches get a
// longer timeout than token calls because full bureau reports are large.
type SmartCreditClient struct {
	ClientId      string
	ClientSecret  string
	WebhookSecret string
	BaseURL       string
	AuthURL       string
	RedirectURI   string
	HTTP          *http.Client
	ReportHTTP    *http.Client
}

// NewSmartCreditClient reads SMARTCREDIT_* env configuration.
func NewSmartCreditClient() (*SmartCreditClient, error) {
	id := os.Getenv("SMARTCREDIT_CLIENT_ID")
	secret := os.Getenv("SMARTCREDIT_CLIENT_SECRET")
	if id == "" || secret == "" {
		return nil, fmt.Errorf("SMARTCREDIT_CLIENT_ID / SMARTCREDIT_CLIENT_SECRET not configured")
	}
	base := os.Getenv("SMARTCREDIT_BASE_URL")
	if base == "" {
		base = "https://api.smartcredit.com/v1"
	}
	auth := os.Getenv("SMARTCREDIT_AUTH_URL")
	if auth == "" {
		auth = "https://www.smartcredit.com/oauth/authorize"
	}
	return &SmartCreditClient{
		ClientId:      id,
		ClientSecret:  secret,
		WebhookSecret: os.Getenv("SMARTCREDIT_WEBHOOK_SECRET"),
		BaseURL:       base,
		AuthURL:       auth,
		RedirectURI:   os.Getenv("SMARTCREDIT_REDIRECT_URI"),
		HTTP:          &http.Client{Timeout: smartCreditAPITimeout},
		ReportHTTP:    &http.Client{Timeout: smartCreditReportTimeout},
	}, nil
}

func (c *SmartCreditClient) AuthorizeURL(redirectURI, state string, scopes []string, consumerId string) string {
	if redirectURI == "" {
		redirectURI = c.RedirectURI
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientId)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	if consumerId != "" {
		q.Set("login_hint", consumerId)
	}
	return c.AuthURL + "?" + q.Encode()
}

type smartCreditTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (c *SmartCreditClient) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	return c.tokenRequest(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.RedirectURI},
	})
}

func (c *SmartCreditClient) RefreshGrant(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	return c.tokenRequest(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *SmartCreditClient) tokenRequest(ctx context.Context, form url.Values) (*TokenGrant, error) {
	form.Set("client_id", c.ClientId)
	form.Set("client_secret", c.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/oauth/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &ExternalServiceError{Service: "smartcredit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		// invalid_grant and friends: the stored credentials are dead, not the
		// provider. Callers must re-initiate OAuth.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &AuthError{Msg: fmt.Sprintf("smartcredit token grant rejected (status %d): %s",
			resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	if resp.StatusCode >= 300 {
		return nil, &ExternalServiceError{Service: "smartcredit", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("token request failed")}
	}

	var tok smartCreditTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, &ExternalServiceError{Service: "smartcredit", Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &ExternalServiceError{Service: "smartcredit", Err: fmt.Errorf("empty access token in grant")}
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}, nil
}

func (c *SmartCreditClient) FetchReport(ctx context.Context, accessToken, bureau string) (json.RawMessage, error) {
	switch bureau {
	case models.BureauEquifax, models.BureauExperian, models.BureauTransUnion:
	default:
		return nil, Validationf("unknown bureau %q", bureau)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/reports/%s", c.BaseURL, bureau), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.ReportHTTP.Do(req)
	if err != nil {
		return nil, &ExternalServiceError{Service: "smartcredit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{Msg: "smartcredit access token rejected"}
	}
	if resp.StatusCode >= 300 {
		return nil, &ExternalServiceError{Service: "smartcredit", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("fetch %s report", bureau)}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExternalServiceError{Service: "smartcredit", Err: err}
	}
	return raw, nil
}

// VerifySmartCreditSignature checks hex(HMAC-SHA256(secret, rawBody)) against
// the header-supplied digest.
func VerifySmartCreditSignature(secret string, rawBody []byte, signature string) error {
	if secret == "" {
		return &AuthError{Msg: "smartcredit webhook secret not configured"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &AuthError{Msg: "smartcredit webhook signature mismatch"}
	}
	return nil
}
