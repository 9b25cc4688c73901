// Package api implements the client for the storefront backend: provider
// configuration, project ownership checks, and the image storage side
// channel.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ProviderConfig is the identity-provider bootstrap configuration served by
// the backend.
type ProviderConfig struct {
	APIKey     string `json:"apiKey"`
	AuthDomain string `json:"authDomain"`
	ProjectID  string `json:"projectId"`
}

// UploadRequest carries one image plus its tenant/identity context.
type UploadRequest struct {
	Data        []byte
	Filename    string
	ContentType string
	ProjectID   string
	UserID      string
	ProductName string
}

// UploadResult is the structured response of the upload endpoint. Any of
// the three URL fields may be set on success; ResolvedURL picks the first
// present one.
type UploadResult struct {
	Success         bool   `json:"success"`
	DriveURL        string `json:"driveUrl"`
	PrimaryURL      string `json:"primaryUrl"`
	ImageURL        string `json:"imageUrl"`
	FileID          string `json:"fileId"`
	NeedsConnection bool   `json:"needsConnection"`
	Error           string `json:"error"`
}

// ResolvedURL returns the first present of driveUrl, primaryUrl, imageUrl.
func (r *UploadResult) ResolvedURL() string {
	switch {
	case r.DriveURL != "":
		return r.DriveURL
	case r.PrimaryURL != "":
		return r.PrimaryURL
	default:
		return r.ImageURL
	}
}

// Client talks to the backend. Outgoing requests are throttled by a shared
// limiter so bursts of console activity cannot exhaust the backend quota.
type Client struct {
	base    string
	hc      *http.Client
	limiter *rate.Limiter
}

// New creates a Client for the given base URL throttled to requestsPerMinute.
func New(base string, requestsPerMinute int) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 70
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}

// FetchProviderConfig loads the identity-provider configuration.
func (c *Client) FetchProviderConfig(ctx context.Context) (ProviderConfig, error) {
	if err := c.wait(ctx); err != nil {
		return ProviderConfig{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/firebase-config", nil)
	if err != nil {
		return ProviderConfig{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("fetch provider config: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Success bool           `json:"success"`
		Config  ProviderConfig `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ProviderConfig{}, fmt.Errorf("decode provider config: %w", err)
	}
	if !body.Success {
		return ProviderConfig{}, fmt.Errorf("provider config unavailable")
	}
	return body.Config, nil
}

// VerifyProjectOwner asks whether userID administers projectID. Single
// call, no retry; the caller owns the fallback policy on failure.
func (c *Client) VerifyProjectOwner(ctx context.Context, userID, projectID string) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("projectId", projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/verify-project-owner?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify project owner: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		IsOwner bool `json:"isOwner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode ownership response: %w", err)
	}
	return body.IsOwner, nil
}

// UploadProductImage submits the image to remote storage. A non-nil error
// means the transport failed; structured rejections (success=false) are
// returned in the result for the caller to branch on.
func (c *Client) UploadProductImage(ctx context.Context, ur UploadRequest) (*UploadResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, ur.Filename))
	hdr.Set("Content-Type", ur.ContentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(ur.Data); err != nil {
		return nil, err
	}
	_ = mw.WriteField("projectId", ur.ProjectID)
	if ur.UserID != "" {
		_ = mw.WriteField("userId", ur.UserID)
	}
	_ = mw.WriteField("productName", ur.ProductName)
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload-product-image", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()
	var res UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &res, nil
}

// DeleteProductImage requests removal of a remotely stored image. Best
// effort: callers log failures and move on.
func (c *Client) DeleteProductImage(ctx context.Context, projectID, fileID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"projectId": projectID, "fileId": fileID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/delete-product-image", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode delete response: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("delete image: backend reported failure")
	}
	return nil
}
