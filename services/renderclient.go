package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const renderTimeout = 60 * time.Second

// HTTPRenderer renders letters to PDF through an HTML-to-PDF service
// (Gotenberg-compatible: POST the HTML document, receive the PDF bytes).
// Template placeholders in the letter body are expanded locally before the
// document is shipped out, so the render service never needs our data model.
type HTTPRenderer struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPRenderer reads RENDER_SERVICE_URL.
func NewHTTPRenderer() (*HTTPRenderer, error) {
	base := os.Getenv("RENDER_SERVICE_URL")
	if base == "" {
		return nil, fmt.Errorf("RENDER_SERVICE_URL not configured")
	}
	return &HTTPRenderer{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: renderTimeout},
	}, nil
}

func (r *HTTPRenderer) Render(ctx context.Context, bodyHTML string, tc TemplateContext) ([]byte, string, error) {
	expanded, err := expandTemplate(bodyHTML, tc)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/render", strings.NewReader(expanded))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "text/html")
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, "", &ExternalServiceError{Service: "renderer", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &ExternalServiceError{Service: "renderer", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("render request rejected")}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &ExternalServiceError{Service: "renderer", Err: err}
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

// expandTemplate runs the letter body through html/template with the context
// exposed as dot. Unknown placeholders fail the render rather than mailing a
// letter with holes in it.
func expandTemplate(bodyHTML string, tc TemplateContext) (string, error) {
	tmpl, err := template.New("letter").Option("missingkey=error").Parse(bodyHTML)
	if err != nil {
		return "", Validationf("invalid letter template: %v", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, tc); err != nil {
		return "", Validationf("letter template execution failed: %v", err)
	}
	return buf.String(), nil
}

// HTTPBlobStore uploads rendered documents to an S3-compatible object store
// through its HTTP API and returns the public URL the mail provider fetches.
type HTTPBlobStore struct {
	BaseURL   string // e.g. https://storage.example.com/bucket
	PublicURL string // base of the fetchable URL; defaults to BaseURL
	AuthToken string
	HTTP      *http.Client
}

// NewHTTPBlobStore reads BLOB_STORE_URL, BLOB_PUBLIC_URL and BLOB_AUTH_TOKEN.
func NewHTTPBlobStore() (*HTTPBlobStore, error) {
	base := os.Getenv("BLOB_STORE_URL")
	if base == "" {
		return nil, fmt.Errorf("BLOB_STORE_URL not configured")
	}
	public := os.Getenv("BLOB_PUBLIC_URL")
	if public == "" {
		public = base
	}
	return &HTTPBlobStore{
		BaseURL:   strings.TrimRight(base, "/"),
		PublicURL: strings.TrimRight(public, "/"),
		AuthToken: os.Getenv("BLOB_AUTH_TOKEN"),
		HTTP:      &http.Client{Timeout: renderTimeout},
	}, nil
}

func (b *HTTPBlobStore) Store(ctx context.Context, data []byte, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.BaseURL+"/"+key, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/pdf")
	if b.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.AuthToken)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return "", &ExternalServiceError{Service: "blobstore", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", &ExternalServiceError{Service: "blobstore", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("upload %s: %s", key, apiErr.Message)}
	}
	return b.PublicURL + "/" + key, nil
}
