// ABOUTME: Client methods for checkpoints and compaction, including bundle export and import
// ABOUTME: Bundles are opaque zstd bytes copied to and from the caller's io streams

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/2389/coven-context/internal/checkpoint"
	"github.com/2389/coven-context/internal/store"
)

// CaptureRequest is the body of a checkpoint capture
type CaptureRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	GitStatus   string            `json:"git_status,omitempty"`
	GitBranch   string            `json:"git_branch,omitempty"`
	Filter      checkpoint.Filter `json:"filter"`
}

func checkpointPath(id string) string {
	return "/api/checkpoints/" + url.PathEscape(id)
}

func (c *Client) CreateCheckpoint(ctx context.Context, sessionID string, in CaptureRequest) (*store.Checkpoint, error) {
	var out store.Checkpoint
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/checkpoints"
	if err := c.do(ctx, http.MethodPost, path, nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareCompaction checkpoints the whole session and returns its critical-context digest
func (c *Client) PrepareCompaction(ctx context.Context, sessionID, gitStatus, gitBranch string) (*checkpoint.Compaction, error) {
	var out checkpoint.Compaction
	in := checkpoint.CompactionInput{GitStatus: gitStatus, GitBranch: gitBranch}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/compaction"
	if err := c.do(ctx, http.MethodPost, path, nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]*store.Checkpoint, error) {
	var out struct {
		Checkpoints []*store.Checkpoint `json:"checkpoints"`
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/checkpoints"
	if err := c.do(ctx, http.MethodGet, path, limitQuery(nil, limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Checkpoints, nil
}

func (c *Client) GetCheckpoint(ctx context.Context, id string) (*checkpoint.Detail, error) {
	var out checkpoint.Detail
	if err := c.do(ctx, http.MethodGet, checkpointPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteCheckpoint(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, checkpointPath(id), nil, nil, nil)
}

// RestoreCheckpoint writes the checkpoint's items back into its session. A nil
// filter restores everything.
func (c *Client) RestoreCheckpoint(ctx context.Context, id string, filter *checkpoint.Filter) (*checkpoint.RestoreResult, error) {
	var body any
	if filter != nil {
		body = filter
	}
	var out checkpoint.RestoreResult
	if err := c.do(ctx, http.MethodPost, checkpointPath(id)+"/restore", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SplitCheckpoint(ctx context.Context, id string, splits []checkpoint.SplitSpec) ([]*store.Checkpoint, error) {
	body := struct {
		Splits []checkpoint.SplitSpec `json:"splits"`
	}{splits}

	var out struct {
		Checkpoints []*store.Checkpoint `json:"checkpoints"`
	}
	if err := c.do(ctx, http.MethodPost, checkpointPath(id)+"/split", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Checkpoints, nil
}

// ExportCheckpoint copies the checkpoint bundle into w and returns the byte count.
func (c *Client) ExportCheckpoint(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, checkpointPath(id)+"/export", nil, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("reading bundle: %w", err)
	}
	return n, nil
}

// ImportCheckpoint uploads a bundle as a new checkpoint on sessionID. An empty
// name keeps the bundled one.
func (c *Client) ImportCheckpoint(ctx context.Context, sessionID, name string, r io.Reader) (*store.Checkpoint, error) {
	q := url.Values{}
	setIf(q, "name", name)

	path := "/api/sessions/" + url.PathEscape(sessionID) + "/checkpoints/import"
	req, err := c.newRequest(ctx, http.MethodPost, path, q, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/zstd")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}
	var out store.Checkpoint
	if err := decodeJSON(resp.Body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
