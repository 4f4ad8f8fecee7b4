package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inkframe/internal/core"
)

// DefaultBaseURL is the Google Photos Library API endpoint
const DefaultBaseURL = "https://photoslibrary.googleapis.com/v1"

// DownloadSuffix requests the original-resolution bytes for a base locator
const DownloadSuffix = "=d"

// TokenProvider interface for obtaining a current access token
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client talks to the remote photo library
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new photo library client
func NewClient(tokens TokenProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: DefaultBaseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SetBaseURL overrides the API endpoint (used in tests)
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

type mediaItemJSON struct {
	ID            string `json:"id"`
	BaseURL       string `json:"baseUrl"`
	MimeType      string `json:"mimeType"`
	Filename      string `json:"filename"`
	MediaMetadata struct {
		CreationTime time.Time `json:"creationTime"`
	} `json:"mediaMetadata"`
}

type listResponse struct {
	MediaItems    []mediaItemJSON `json:"mediaItems"`
	NextPageToken string          `json:"nextPageToken"`
}

// ListRecent lists media items newest-first starting at the given page token.
// Non-image items are filtered out; the returned token continues the listing.
func (c *Client) ListRecent(ctx context.Context, pageToken string, pageSize int) ([]core.MediaItem, string, error) {
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(pageSize))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	body, err := c.get(ctx, c.baseURL+"/mediaItems?"+query.Encode())
	if err != nil {
		return nil, "", err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("%w: malformed listing response: %v", core.ErrTransient, err)
	}

	items := make([]core.MediaItem, 0, len(resp.MediaItems))
	for _, item := range resp.MediaItems {
		if !strings.HasPrefix(item.MimeType, "image/") {
			continue
		}
		items = append(items, core.MediaItem{
			ID:        item.ID,
			BaseURL:   item.BaseURL,
			MimeType:  item.MimeType,
			Filename:  item.Filename,
			CreatedAt: item.MediaMetadata.CreationTime,
		})
	}
	return items, resp.NextPageToken, nil
}

// ResolveDownloadURL fetches a fresh download locator for one item. Base
// locators are time-limited, so callers must not cache the result.
func (c *Client) ResolveDownloadURL(ctx context.Context, itemID string) (string, error) {
	body, err := c.get(ctx, c.baseURL+"/mediaItems/"+url.PathEscape(itemID))
	if err != nil {
		return "", err
	}

	var item mediaItemJSON
	if err := json.Unmarshal(body, &item); err != nil {
		return "", fmt.Errorf("%w: malformed media item response: %v", core.ErrTransient, err)
	}
	if item.BaseURL == "" {
		return "", fmt.Errorf("%w: item %s has no download locator", core.ErrItemUnusable, itemID)
	}
	return item.BaseURL + DownloadSuffix, nil
}

// get performs an authorized GET with a single retry on transient failure
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", core.ErrTransient, ctx.Err())
			}
		}

		body, err := c.doGet(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !core.IsTransient(err) {
			return nil, err
		}
		c.logger.Debug("Retrying library request", "url", rawURL, "error", err)
	}
	return nil, lastErr
}

func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, ClassifyStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransient, err)
	}
	return body, nil
}

// ClassifyStatus maps an HTTP status onto the core error taxonomy
func ClassifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP %d", core.ErrAuthExpired, code)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", core.ErrAuthRevoked, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: HTTP %d", core.ErrTransient, code)
	default:
		return fmt.Errorf("%w: HTTP %d", core.ErrItemUnusable, code)
	}
}
