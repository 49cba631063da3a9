// Package command issues control commands against a jobwatch server on
// behalf of the client. It satisfies source.CommandAPI, so the terminal
// dashboard and the ctl subcommand drive the server the same way the
// server drives the job-control API.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ChuLiYu/jobwatch/internal/wire"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the /api/jobs endpoints.
type Client struct {
	base     string
	initData string
	chatID   string
	http     *http.Client
}

// New creates a client. chatID may be empty.
func New(serverURL, initData, chatID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:     strings.TrimRight(serverURL, "/"),
		initData: initData,
		chatID:   chatID,
		http:     &http.Client{Timeout: timeout},
	}
}

// Jobs returns the server's current snapshot.
func (c *Client) Jobs(ctx context.Context) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := c.call(ctx, "jobs", "", http.MethodGet, wire.PathJobs, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Pause(ctx context.Context, id types.JobID) error {
	return c.mutate(ctx, "pause", id, "/pause", nil)
}

func (c *Client) Resume(ctx context.Context, id types.JobID) error {
	return c.mutate(ctx, "resume", id, "/resume", nil)
}

func (c *Client) Delete(ctx context.Context, id types.JobID, deleteFiles bool) error {
	return c.mutate(ctx, "delete", id, "/delete", wire.DeleteRequest{DeleteFiles: deleteFiles})
}

func (c *Client) SetFilePriority(ctx context.Context, id types.JobID, fileIDs []int, priority types.FilePriority) error {
	p := int(priority)
	return c.mutate(ctx, "priority", id, "/files/priority", wire.PriorityRequest{FileIDs: fileIDs, Priority: &p})
}

func (c *Client) ListFiles(ctx context.Context, id types.JobID) ([]types.FileEntry, error) {
	var out types.FileList
	if err := c.call(ctx, "files", id, http.MethodGet, jobPath(id, "/files"), nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &types.CommandError{Command: "files", JobID: id, Cause: fmt.Errorf("%s", out.Error)}
	}
	return out.Files, nil
}

func jobPath(id types.JobID, suffix string) string {
	return wire.PathJobs + "/" + url.PathEscape(string(id)) + suffix
}

func (c *Client) mutate(ctx context.Context, name string, id types.JobID, suffix string, body interface{}) error {
	var res types.CommandResult
	if err := c.call(ctx, name, id, http.MethodPost, jobPath(id, suffix), body, &res); err != nil {
		return err
	}
	if !res.Success {
		return &types.CommandError{Command: name, JobID: id, Cause: fmt.Errorf("%s", res.Error)}
	}
	return nil
}

// call performs one request. 403 is types.ErrUnauthorized; any other
// failure is a *types.CommandError carrying the server's message when
// there is one.
func (c *Client) call(ctx context.Context, name string, id types.JobID, method, path string, body, out interface{}) error {
	fail := func(err error) error {
		return &types.CommandError{Command: name, JobID: id, Cause: err}
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fail(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fail(err)
	}
	req.Header.Set(wire.HeaderInitData, c.initData)
	if c.chatID != "" {
		req.Header.Set(wire.HeaderChatID, c.chatID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fail(err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return types.ErrUnauthorized
	case resp.StatusCode == http.StatusBadGateway:
		// The body still carries {success:false,error} or {files:[],error}.
		if err := json.Unmarshal(data, out); err != nil {
			return fail(fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil
	case resp.StatusCode != http.StatusOK:
		var eb wire.ErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return fail(fmt.Errorf("status %d: %s", resp.StatusCode, eb.Error))
		}
		return fail(fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fail(fmt.Errorf("decode reply: %w", err))
	}
	return nil
}
