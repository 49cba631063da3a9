package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// qBittorrent reports "infinite" ETA as 100 days.
const qbInfiniteETA = 8640000

var errNotFound = errors.New("endpoint not found")

// QBittorrentConfig configures the Web API adapter.
type QBittorrentConfig struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// QBittorrent implements JobAPI against the qBittorrent Web API v2.
type QBittorrent struct {
	base     *url.URL
	username string
	password string
	client   *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// NewQBittorrent creates an adapter. No network call is made until the
// first request; login happens lazily and again on a 403.
func NewQBittorrent(cfg QBittorrentConfig) (*QBittorrent, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("qbittorrent: url is empty")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: parse url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: cookie jar: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QBittorrent{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

type qbTorrent struct {
	Hash      string  `json:"hash"`
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	Progress  float64 `json:"progress"`
	State     string  `json:"state"`
	NumSeeds  int     `json:"num_seeds"`
	NumLeechs int     `json:"num_leechs"`
	DLSpeed   int64   `json:"dlspeed"`
	UPSpeed   int64   `json:"upspeed"`
	ETA       int64   `json:"eta"`
	Category  string  `json:"category"`
	AddedOn   int64   `json:"added_on"`
}

type qbFile struct {
	Index    *int    `json:"index"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Priority int     `json:"priority"`
}

// FetchSnapshot implements SnapshotSource.
func (q *QBittorrent) FetchSnapshot(ctx context.Context) ([]types.JobRecord, error) {
	body, err := q.do(ctx, http.MethodGet, "torrents/info", nil)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: torrents/info: %w", err)
	}
	var raw []qbTorrent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("qbittorrent: decode torrents/info: %w", err)
	}
	records := make([]types.JobRecord, 0, len(raw))
	for _, t := range raw {
		records = append(records, t.record())
	}
	return records, nil
}

func (t qbTorrent) record() types.JobRecord {
	eta := t.ETA
	if eta >= qbInfiniteETA || eta < 0 {
		eta = -1
	}
	return types.JobRecord{
		ID:           types.JobID(t.Hash),
		Name:         t.Name,
		State:        types.NormalizeState(t.State),
		Progress:     t.Progress,
		SizeBytes:    t.Size,
		SeedCount:    t.NumSeeds,
		PeerCount:    t.NumLeechs,
		DownloadRate: t.DLSpeed,
		UploadRate:   t.UPSpeed,
		ETASeconds:   eta,
		Category:     types.Category(t.Category),
		AddedAt:      t.AddedOn,
	}.Normalize()
}

// Pause implements CommandAPI. qBittorrent 5 renamed pause to stop.
func (q *QBittorrent) Pause(ctx context.Context, id types.JobID) error {
	return q.command(ctx, "pause", id, []string{"torrents/pause", "torrents/stop"}, url.Values{"hashes": {string(id)}})
}

// Resume implements CommandAPI. qBittorrent 5 renamed resume to start.
func (q *QBittorrent) Resume(ctx context.Context, id types.JobID) error {
	return q.command(ctx, "resume", id, []string{"torrents/resume", "torrents/start"}, url.Values{"hashes": {string(id)}})
}

// Delete implements CommandAPI.
func (q *QBittorrent) Delete(ctx context.Context, id types.JobID, deleteFiles bool) error {
	form := url.Values{
		"hashes":      {string(id)},
		"deleteFiles": {strconv.FormatBool(deleteFiles)},
	}
	return q.command(ctx, "delete", id, []string{"torrents/delete"}, form)
}

// ListFiles implements CommandAPI.
func (q *QBittorrent) ListFiles(ctx context.Context, id types.JobID) ([]types.FileEntry, error) {
	body, err := q.do(ctx, http.MethodGet, "torrents/files?hash="+url.QueryEscape(string(id)), nil)
	if err != nil {
		return nil, &types.CommandError{Command: "files", JobID: id, Cause: err}
	}
	var raw []qbFile
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &types.CommandError{Command: "files", JobID: id, Cause: err}
	}
	files := make([]types.FileEntry, 0, len(raw))
	for i, f := range raw {
		idx := i
		if f.Index != nil {
			idx = *f.Index
		}
		files = append(files, types.FileEntry{
			ID:        idx,
			Name:      f.Name,
			SizeBytes: f.Size,
			Progress:  f.Progress,
			Priority:  types.FilePriority(f.Priority),
		})
	}
	return files, nil
}

// SetFilePriority implements CommandAPI.
func (q *QBittorrent) SetFilePriority(ctx context.Context, id types.JobID, fileIDs []int, priority types.FilePriority) error {
	if !priority.Valid() {
		return &types.CommandError{Command: "priority", JobID: id, Cause: fmt.Errorf("invalid priority %d", priority)}
	}
	if len(fileIDs) == 0 {
		return &types.CommandError{Command: "priority", JobID: id, Cause: errors.New("no file ids")}
	}
	ids := make([]string, len(fileIDs))
	for i, fid := range fileIDs {
		ids[i] = strconv.Itoa(fid)
	}
	form := url.Values{
		"hash":     {string(id)},
		"id":       {strings.Join(ids, "|")},
		"priority": {strconv.Itoa(int(priority))},
	}
	return q.command(ctx, "priority", id, []string{"torrents/filePrio"}, form)
}

// command posts form to the first endpoint in paths that exists.
func (q *QBittorrent) command(ctx context.Context, name string, id types.JobID, paths []string, form url.Values) error {
	var err error
	for _, p := range paths {
		_, err = q.do(ctx, http.MethodPost, p, form)
		if !errors.Is(err, errNotFound) {
			break
		}
	}
	if err != nil {
		return &types.CommandError{Command: name, JobID: id, Cause: err}
	}
	return nil
}

// do performs an authenticated API call, logging in first if needed and
// retrying once after a 403.
func (q *QBittorrent) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	if err := q.ensureLogin(ctx); err != nil {
		return nil, err
	}
	body, status, err := q.send(ctx, method, path, form)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		q.mu.Lock()
		q.loggedIn = false
		q.mu.Unlock()
		if err := q.ensureLogin(ctx); err != nil {
			return nil, err
		}
		body, status, err = q.send(ctx, method, path, form)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case status == http.StatusNotFound:
		return nil, errNotFound
	case status != http.StatusOK:
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (q *QBittorrent) ensureLogin(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.loggedIn {
		return nil
	}
	form := url.Values{"username": {q.username}, "password": {q.password}}
	body, status, err := q.send(ctx, http.MethodPost, "auth/login", form)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return fmt.Errorf("login rejected (status %d): %s", status, strings.TrimSpace(string(body)))
	}
	q.loggedIn = true
	return nil
}

func (q *QBittorrent) send(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	target := q.base.String() + "/api/v2/" + path
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	// The Web API rejects login requests whose Referer does not match the host.
	req.Header.Set("Referer", q.base.String())

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}
