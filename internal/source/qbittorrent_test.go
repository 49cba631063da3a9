package source

// ============================================================================
// qBittorrent adapter tests
// Exercises login, session re-login, the v5 endpoint fallback and the
// mapping of torrents/info onto JobRecord.
// ============================================================================

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/ChuLiYu/jobwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQB struct {
	mu       sync.Mutex
	logins   int
	expireAt int // force a 403 on this request number
	requests int
	forms    map[string]url.Values
	noPause  bool // emulate qBittorrent 5, which only has torrents/stop
}

func newFakeQB(t *testing.T) (*fakeQB, *httptest.Server) {
	t.Helper()
	f := &fakeQB{forms: map[string]url.Values{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQB) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/api/v2/auth/login" {
		_ = r.ParseForm()
		if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "secret" {
			io.WriteString(w, "Fails.")
			return
		}
		f.logins++
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "sid", Path: "/"})
		io.WriteString(w, "Ok.")
		return
	}
	if _, err := r.Cookie("SID"); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	f.requests++
	if f.expireAt > 0 && f.requests == f.expireAt {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if r.Method == http.MethodPost {
		_ = r.ParseForm()
		f.forms[r.URL.Path] = r.PostForm
	}

	switch r.URL.Path {
	case "/api/v2/torrents/info":
		io.WriteString(w, `[
			{"hash":"aaa","name":"Dune.2021.2160p","size":1073741824,"progress":0.5,"state":"forcedDL",
			 "num_seeds":12,"num_leechs":3,"dlspeed":2048,"upspeed":10,"eta":8640000,"category":"Movies","added_on":1700000000},
			{"hash":"bbb","name":"Show.S01E02","size":10,"progress":1,"state":"stalledUP",
			 "num_seeds":0,"num_leechs":0,"dlspeed":0,"upspeed":0,"eta":120,"category":"","added_on":1700000100}
		]`)
	case "/api/v2/torrents/pause":
		if f.noPause {
			w.WriteHeader(http.StatusNotFound)
			return
		}
	case "/api/v2/torrents/stop", "/api/v2/torrents/delete", "/api/v2/torrents/filePrio", "/api/v2/torrents/resume":
	case "/api/v2/torrents/files":
		io.WriteString(w, `[{"index":4,"name":"a.mkv","size":100,"progress":0.25,"priority":1},
			{"name":"b.nfo","size":1,"progress":1,"priority":0}]`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestAdapter(t *testing.T, srv *httptest.Server, password string) *QBittorrent {
	t.Helper()
	q, err := NewQBittorrent(QBittorrentConfig{URL: srv.URL + "/", Username: "admin", Password: password})
	require.NoError(t, err)
	return q
}

func TestNewQBittorrentRequiresURL(t *testing.T) {
	_, err := NewQBittorrent(QBittorrentConfig{})
	assert.Error(t, err)
}

func TestFetchSnapshotMapsRecords(t *testing.T) {
	f, srv := newFakeQB(t)
	q := newTestAdapter(t, srv, "secret")

	jobs, err := q.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	first := jobs[0]
	assert.Equal(t, types.JobID("aaa"), first.ID)
	assert.Equal(t, types.StateDownloading, first.State)
	assert.Equal(t, types.CategoryMovies, first.Category)
	assert.Equal(t, int64(-1), first.ETASeconds)
	assert.Equal(t, 12, first.SeedCount)
	assert.Equal(t, int64(1700000000), first.AddedAt)

	second := jobs[1]
	assert.Equal(t, types.StateSeedingStalled, second.State)
	assert.Equal(t, types.CategoryOther, second.Category)
	assert.Equal(t, int64(120), second.ETASeconds)

	assert.Equal(t, 1, f.logins)
}

func TestFetchSnapshotLoginRejected(t *testing.T) {
	_, srv := newFakeQB(t)
	q := newTestAdapter(t, srv, "wrong")

	_, err := q.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login rejected")
}

func TestExpiredSessionLogsInAgain(t *testing.T) {
	f, srv := newFakeQB(t)
	q := newTestAdapter(t, srv, "secret")

	_, err := q.FetchSnapshot(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.expireAt = f.requests + 1
	f.mu.Unlock()

	_, err = q.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.logins)
}

func TestPauseFallsBackToStop(t *testing.T) {
	f, srv := newFakeQB(t)
	f.noPause = true
	q := newTestAdapter(t, srv, "secret")

	require.NoError(t, q.Pause(context.Background(), "aaa"))
	assert.Equal(t, "aaa", f.forms["/api/v2/torrents/stop"].Get("hashes"))
}

func TestDeleteSendsDeleteFiles(t *testing.T) {
	f, srv := newFakeQB(t)
	q := newTestAdapter(t, srv, "secret")

	require.NoError(t, q.Delete(context.Background(), "bbb", true))
	form := f.forms["/api/v2/torrents/delete"]
	assert.Equal(t, "bbb", form.Get("hashes"))
	assert.Equal(t, "true", form.Get("deleteFiles"))
}

func TestListFilesUsesIndexWhenPresent(t *testing.T) {
	_, srv := newFakeQB(t)
	q := newTestAdapter(t, srv, "secret")

	files, err := q.ListFiles(context.Background(), "aaa")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 4, files[0].ID)
	assert.Equal(t, 1, files[1].ID)
	assert.Equal(t, types.PrioritySkip, files[1].Priority)
}

func TestSetFilePriority(t *testing.T) {
	f, srv := newFakeQB(t)
	q := newTestAdapter(t, srv, "secret")

	require.NoError(t, q.SetFilePriority(context.Background(), "aaa", []int{0, 3}, types.PriorityHigh))
	form := f.forms["/api/v2/torrents/filePrio"]
	assert.Equal(t, "0|3", form.Get("id"))
	assert.Equal(t, "6", form.Get("priority"))

	err := q.SetFilePriority(context.Background(), "aaa", []int{0}, types.FilePriority(3))
	var cmdErr *types.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "priority", cmdErr.Command)

	assert.Error(t, q.SetFilePriority(context.Background(), "aaa", nil, types.PriorityNormal))
}

func TestCommandFailureIsCommandError(t *testing.T) {
	_, srv := newFakeQB(t)
	q := newTestAdapter(t, srv, "secret")
	srv.Close()

	err := q.Resume(context.Background(), "aaa")
	var cmdErr *types.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, types.JobID("aaa"), cmdErr.JobID)
}
