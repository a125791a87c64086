// Package catalog is the agent's client for the remote catalog/metadata
// service. The remote pending queue is the source of truth for which items
// still lack confirmed metadata; this client only reads the queue and
// reports terminal extraction outcomes back.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MediaItem is a catalog entry awaiting duration/thumbnail metadata. The
// declared kind comes from upload-time information and may be wrong; the
// probe engine reclassifies when the decoded stream disagrees.
type MediaItem struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Locator            string `json:"locator"`
	DeclaredKind       string `json:"kind"`
	ThumbnailIsDefault bool   `json:"thumbnail_is_default"`
	Duration           int    `json:"duration"`
}

// Report is the terminal outcome of one extraction attempt. Duration is
// whole seconds; 0 means the agent could not determine it. ClientIncompatible
// tells the server a server-side fallback may be warranted.
type Report struct {
	Duration           int    `json:"duration"`
	Success            bool   `json:"success"`
	ClientIncompatible bool   `json:"client_incompatible"`
	Thumbnail          []byte `json:"-"`
}

type OrganizeResult struct {
	Processed int `json:"processed"`
	Remaining int `json:"remaining"`
}

type FixResult struct {
	FixedBroken int `json:"fixed_broken"`
}

type ResyncResult struct {
	Processed int `json:"processed"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	stale      staleFlag
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Pending fetches up to limit unprocessed items from the remote queue.
// mode selects the server-side ordering/filter and may be empty.
func (c *Client) Pending(ctx context.Context, limit int, mode string) ([]MediaItem, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/items/pending")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if mode != "" {
		q.Set("mode", mode)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pending request: status %d", resp.StatusCode)
	}

	var items []MediaItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("parse pending response: %w", err)
	}
	return items, nil
}

// ReportMetadata sends a terminal extraction outcome for one item. The
// request is plain JSON unless a thumbnail is attached, in which case it is
// multipart with a "metadata" JSON part and a "thumbnail" image part. The
// server applies duplicate reports idempotently (last write wins), so a
// retry or a second tab reporting the same item is harmless.
// On success the catalog stale flag is raised so other surfaces refresh.
func (c *Client) ReportMetadata(ctx context.Context, id string, rep Report) error {
	endpoint := fmt.Sprintf("%s/api/v1/items/%s/metadata", c.baseURL, url.PathEscape(id))

	var body io.Reader
	contentType := "application/json"

	meta, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if len(rep.Thumbnail) > 0 {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormField("metadata")
		if err != nil {
			return err
		}
		if _, err := part.Write(meta); err != nil {
			return err
		}
		img, err := mw.CreateFormFile("thumbnail", id+".jpg")
		if err != nil {
			return err
		}
		if _, err := img.Write(rep.Thumbnail); err != nil {
			return err
		}
		if err := mw.Close(); err != nil {
			return err
		}
		body = &buf
		contentType = mw.FormDataContentType()
	} else {
		body = bytes.NewReader(meta)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report request: status %d", resp.StatusCode)
	}

	if rep.Success {
		c.stale.Mark()
	}
	return nil
}

// Organize promotes analyzed items into the public catalog. Idempotent
// server-side batch RPC; the caller loops until Remaining reaches zero.
func (c *Client) Organize(ctx context.Context) (*OrganizeResult, error) {
	var out OrganizeResult
	if err := c.postJSON(ctx, "/api/v1/maintenance/organize", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FixMetadata resets permanently broken entries back into the pending state.
func (c *Client) FixMetadata(ctx context.Context) (*FixResult, error) {
	var out FixResult
	if err := c.postJSON(ctx, "/api/v1/maintenance/fix", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resync recomputes category/pricing metadata for one batch. The caller
// advances offset and repeats until Processed is zero.
func (c *Client) Resync(ctx context.Context, limit, offset int) (*ResyncResult, error) {
	path := fmt.Sprintf("/api/v1/maintenance/resync?limit=%d&offset=%d", limit, offset)
	var out ResyncResult
	if err := c.postJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("catalog request %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse catalog response: %w", err)
	}
	return nil
}

// MarkStale raises the catalog-stale flag manually. Reports that succeed
// raise it automatically.
func (c *Client) MarkStale() { c.stale.Mark() }

// Stale reports whether any successful report happened since the last
// ConsumeStale, without clearing the flag.
func (c *Client) Stale() bool { return c.stale.Get() }

// ConsumeStale returns the flag and clears it, for surfaces that refresh
// once per observation.
func (c *Client) ConsumeStale() bool { return c.stale.Consume() }
