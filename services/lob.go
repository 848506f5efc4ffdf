package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"disputeflow-backend/models"
)

const (
	lobDefaultBaseURL = "https://api.lob.com/v1"
	lobAPITimeout     = 30 * time.Second

	// Webhook timestamps older than this are rejected as replays.
	LobSignatureTolerance = 5 * time.Minute
)

// LobClient talks to the Lob print-and-mail API. It implements MailProvider.
type LobClient struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	HTTP          *http.Client
}

// NewLobClient reads LOB_API_KEY and LOB_WEBHOOK_SECRET.
func NewLobClient() (*LobClient, error) {
	key := os.Getenv("LOB_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("LOB_API_KEY not configured")
	}
	return &LobClient{
		APIKey:        key,
		WebhookSecret: os.Getenv("LOB_WEBHOOK_SECRET"),
		BaseURL:       lobDefaultBaseURL,
		HTTP:          &http.Client{Timeout: lobAPITimeout},
	}, nil
}

// lobMailParams maps our mail types onto Lob's USPS mail classes.
func lobMailParams(mailType string) (useType string, extraService string) {
	switch mailType {
	case models.MailCertified:
		return "usps_first_class", "certified"
	case models.MailCertifiedReturnReceipt:
		return "usps_first_class", "certified_return_receipt"
	default:
		return "usps_first_class", ""
	}
}

type lobAddress struct {
	Name  string `json:"name,omitempty"`
	Line1 string `json:"address_line1"`
	Line2 string `json:"address_line2,omitempty"`
	City  string `json:"address_city"`
	State string `json:"address_state"`
	Zip   string `json:"address_zip"`
}

func toLobAddress(a models.Address) lobAddress {
	return lobAddress{Name: a.Name, Line1: a.Line1, Line2: a.Line2, City: a.City, State: a.State, Zip: a.Zip}
}

type lobLetterResponse struct {
	Id               string `json:"id"`
	URL              string `json:"url"`
	TrackingNumber   string `json:"tracking_number"`
	Carrier          string `json:"carrier"`
	ExpectedDelivery string `json:"expected_delivery_date"` // YYYY-MM-DD
	Thumbnails       []any  `json:"thumbnails"`
	Price            string `json:"price"`
}

func (c *LobClient) SendLetter(ctx context.Context, req SendLetterRequest) (*SendLetterResult, error) {
	mailClass, extra := lobMailParams(req.MailType)
	body := map[string]any{
		"description":       req.Description,
		"to":                toLobAddress(req.To),
		"from":              toLobAddress(req.From),
		"file":              req.FileURL,
		"color":             false,
		"double_sided":      true,
		"address_placement": "top_first_page",
		"use_type":          "operational",
		"mail_type":         mailClass,
		"metadata":          req.Metadata,
	}
	if extra != "" {
		body["extra_service"] = extra
	}

	var resp lobLetterResponse
	if err := c.post(ctx, "/letters", body, &resp); err != nil {
		return nil, err
	}

	out := &SendLetterResult{
		ProviderId:     resp.Id,
		ProviderURL:    resp.URL,
		TrackingNumber: resp.TrackingNumber,
		Carrier:        resp.Carrier,
	}
	if resp.ExpectedDelivery != "" {
		if eta, err := time.Parse("2006-01-02", resp.ExpectedDelivery); err == nil {
			out.ExpectedDelivery = &eta
		}
	}
	if resp.Price != "" {
		if total, err := strconv.ParseFloat(resp.Price, 64); err == nil {
			// Lob returns a single price; postage is the certified surcharge
			// portion when present, the rest is print cost. Without a
			// breakdown we attribute everything to printing.
			out.CostPrinting = total
		}
	}
	return out, nil
}

type lobVerifyResponse struct {
	Deliverability string `json:"deliverability"`
	PrimaryLine    string `json:"primary_line"`
	SecondaryLine  string `json:"secondary_line"`
	Components     struct {
		City  string `json:"city"`
		State string `json:"state"`
		Zip   string `json:"zip_code"`
	} `json:"components"`
}

func (c *LobClient) VerifyAddress(ctx context.Context, addr models.Address) (*AddressVerification, error) {
	body := map[string]any{
		"primary_line":   addr.Line1,
		"secondary_line": addr.Line2,
		"city":           addr.City,
		"state":          addr.State,
		"zip_code":       addr.Zip,
	}
	var resp lobVerifyResponse
	if err := c.post(ctx, "/us_verifications", body, &resp); err != nil {
		return nil, err
	}
	return &AddressVerification{
		Deliverable:    resp.Deliverability == "deliverable",
		Deliverability: resp.Deliverability,
		Normalized: models.Address{
			Name:  addr.Name,
			Line1: resp.PrimaryLine,
			Line2: resp.SecondaryLine,
			City:  resp.Components.City,
			State: resp.Components.State,
			Zip:   resp.Components.Zip,
		},
	}, nil
}

// CancelLetter deletes a letter still in Lob's cancellation window. Returns
// false when Lob has already handed it to the carrier.
func (c *LobClient) CancelLetter(ctx context.Context, providerId string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/letters/"+providerId, nil)
	if err != nil {
		return false, err
	}
	httpReq.SetBasicAuth(c.APIKey, "")
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return false, &ExternalServiceError{Service: "lob", Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return false, nil
	default:
		return false, &ExternalServiceError{Service: "lob", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("cancel letter %s", providerId)}
	}
}

func (c *LobClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.APIKey, "")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return &ExternalServiceError{Service: "lob", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &ExternalServiceError{Service: "lob", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%s: %s", path, apiErr.Error.Message)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// VerifyLobSignature checks Lob's webhook HMAC: hex(HMAC-SHA256(secret,
// "{timestamp}.{rawBody}")), with a staleness window on the timestamp header.
func VerifyLobSignature(secret, timestamp string, rawBody []byte, signature string, now time.Time) error {
	if secret == "" {
		return &AuthError{Msg: "lob webhook secret not configured"}
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &AuthError{Msg: "invalid lob webhook timestamp", Err: err}
	}
	sent := time.UnixMilli(ms)
	age := now.Sub(sent)
	if age < 0 {
		age = -age
	}
	if age > LobSignatureTolerance {
		return &AuthError{Msg: "lob webhook timestamp outside tolerance"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &AuthError{Msg: "lob webhook signature mismatch"}
	}
	return nil
}

// LobTrackingStatus maps Lob's human-readable tracking event names to letter
// statuses. Unknown names return ok=false and are ignored upstream.
func LobTrackingStatus(name string) (status string, ok bool) {
	switch name {
	case "Mailed":
		return models.LetterSent, true
	case "In Transit", "In Local Area", "Processed for Delivery", "Re-Routed":
		return models.LetterInTransit, true
	case "Delivered":
		return models.LetterDelivered, true
	case "Returned to Sender":
		return models.LetterReturned, true
	}
	return "", false
}
