package objectstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cloudinary stores objects as private Cloudinary assets and hands out
// signed download URLs that expire.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	HTTP      *http.Client
	// BaseURL overrides the API host, for tests.
	BaseURL string
	Now     func() time.Time
}

// NewCloudinary creates a Cloudinary-backed store.
func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		BaseURL:   "https://api.cloudinary.com",
		Now:       time.Now,
	}
}

// uploadResult holds the fields we read from Cloudinary's upload response.
type uploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Bytes     int    `json:"bytes"`
}

// asset describes how a key maps onto Cloudinary's addressing.
type asset struct {
	resourceType string
	publicID     string
	format       string
}

var imageFormats = map[string]bool{"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true}

func (c *Cloudinary) assetFor(key string) asset {
	full := strings.TrimPrefix(key, "/")
	if c.Folder != "" {
		full = path.Join(c.Folder, full)
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(full)), ".")
	if imageFormats[ext] {
		return asset{resourceType: "image", publicID: strings.TrimSuffix(full, path.Ext(full)), format: ext}
	}
	// raw assets keep their extension in the public id
	return asset{resourceType: "raw", publicID: full}
}

// Put uploads data as a private asset.
func (c *Cloudinary) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	a := c.assetFor(key)
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.Now().Unix(), 10),
		"api_key":   c.APIKey,
		"public_id": a.publicID,
		"type":      "private",
		"overwrite": "true",
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", path.Base(key))
	if err != nil {
		return "", fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()

	endpoint := fmt.Sprintf("%s/v1_1/%s/%s/upload", c.BaseURL, c.CloudName, a.resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result uploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	return result.SecureURL, nil
}

// PresignGet builds a private download URL valid until now+ttl.
func (c *Cloudinary) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	a := c.assetFor(key)
	now := c.Now()
	params := map[string]string{
		"timestamp":  strconv.FormatInt(now.Unix(), 10),
		"public_id":  a.publicID,
		"type":       "private",
		"expires_at": strconv.FormatInt(now.Add(ttl).Unix(), 10),
	}
	if a.format != "" {
		params["format"] = a.format
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return fmt.Sprintf("%s/v1_1/%s/%s/download?%s", c.BaseURL, c.CloudName, a.resourceType, q.Encode()), nil
}

// sign computes the Cloudinary API signature from the given params.
// api_key, file and resource_type are excluded per Cloudinary's signing rules.
func (c *Cloudinary) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}
