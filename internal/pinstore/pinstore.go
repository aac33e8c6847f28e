// Package pinstore is a client for a Pinata-compatible content-addressed
// pinning service: ciphertext blobs go up through the pinning API and come
// back down through a gateway read path.
package pinstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault/pkg/faults"
)

const (
	defaultAPIBase    = "https://api.pinata.cloud"
	defaultGateway    = "https://gateway.pinata.cloud"
	defaultMaxRetries = 3
	defaultBackoff    = 2 * time.Second
)

// Config configures the pin client. Zero values fall back to the public
// Pinata endpoints and the default retry policy.
type Config struct {
	APIKey    string
	SecretKey string
	APIBase   string
	Gateway   string

	// MaxRetries bounds upload attempts; Backoff is multiplied by the
	// attempt number between tries.
	MaxRetries int
	Backoff    time.Duration

	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client uploads and fetches opaque blobs. Calls are independent and safe
// to run concurrently.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Logger
}

// New returns a Client for the given config.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("pinstore: API key and secret key are required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Gateway == "" {
		cfg.Gateway = defaultGateway
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Client{cfg: cfg, http: cfg.HTTPClient, log: cfg.Logger}, nil
}

// GatewayURL returns the public retrieval URL for a content id.
func (c *Client) GatewayURL(cid string) string {
	return fmt.Sprintf("%s/ipfs/%s", strings.TrimRight(c.cfg.Gateway, "/"), cid)
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Upload pins data under the given display name and returns its content id.
// Transport errors and 5xx responses are retried with increasing backoff up
// to MaxRetries; 4xx responses are terminal and returned immediately.
func (c *Client) Upload(ctx context.Context, data []byte, name string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("pinstore: upload canceled: %w", ctx.Err())
			case <-time.After(c.cfg.Backoff * time.Duration(attempt-1)):
			}
		}

		cid, retryable, err := c.uploadOnce(ctx, data, name)
		if err == nil {
			return cid, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"name":    name,
		}).Warnf("pin upload failed: %v", err)
	}

	return "", fmt.Errorf("pinstore: upload failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) uploadOnce(ctx context.Context, data []byte, name string) (cid string, retryable bool, err error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", false, fmt.Errorf("pinstore: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", false, fmt.Errorf("pinstore: build form: %w", err)
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion":1}`); err != nil {
		return "", false, fmt.Errorf("pinstore: build form: %w", err)
	}
	metadata, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", false, fmt.Errorf("pinstore: build form: %w", err)
	}
	if err := mw.WriteField("pinataMetadata", string(metadata)); err != nil {
		return "", false, fmt.Errorf("pinstore: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", false, fmt.Errorf("pinstore: build form: %w", err)
	}

	url := strings.TrimRight(c.cfg.APIBase, "/") + "/pinning/pinFileToIPFS"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", false, fmt.Errorf("pinstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("pinata_api_key", c.cfg.APIKey)
	req.Header.Set("pinata_secret_api_key", c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("pinstore: post: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var pr pinResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return "", true, fmt.Errorf("pinstore: decode response: %w", err)
		}
		if pr.IpfsHash == "" {
			return "", true, fmt.Errorf("pinstore: response missing content id")
		}
		return pr.IpfsHash, false, nil

	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("pinstore: server error %d", resp.StatusCode)

	default:
		// Client-side rejection (bad auth, malformed request): terminal.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("pinstore: rejected with %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// Fetch retrieves the blob for a content id over the gateway read path. A
// missing blob or an empty response is faults.ErrContentNotFound. Fetch
// does not retry; the caller decides.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if cid == "" {
		return nil, fmt.Errorf("%w: empty content id", faults.ErrContentNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GatewayURL(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("pinstore: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinstore: get %s: %w", cid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", faults.ErrContentNotFound, cid)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pinstore: gateway returned %d for %s", resp.StatusCode, cid)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pinstore: read body for %s: %w", cid, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s returned no bytes", faults.ErrContentNotFound, cid)
	}
	return data, nil
}
