package zenodo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/qmodes/internal/httputil"
	"github.com/lox/qmodes/internal/metrics"
	"github.com/lox/qmodes/internal/observability"
	"github.com/lox/qmodes/internal/store"
)

func md5sum(b []byte) string {
	s := md5.Sum(b)
	return "md5:" + hex.EncodeToString(s[:])
}

// fakeZenodo serves a DOI redirect, one record and its files.
type fakeZenodo struct {
	srv       *httptest.Server
	files     map[string][]byte
	downloads atomic.Int32
}

func newFakeZenodo(t *testing.T, files map[string][]byte) *fakeZenodo {
	t.Helper()
	fz := &fakeZenodo{files: files}
	mux := http.NewServeMux()
	mux.HandleFunc("/doi/10.5281/zenodo.12726172", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/records/12726172", http.StatusFound)
	})
	mux.HandleFunc("/records/12726172", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>landing page</html>"))
	})
	mux.HandleFunc("/api/records/12726172", func(w http.ResponseWriter, r *http.Request) {
		var list []map[string]any
		for _, key := range []string{"vsf.data.nc", "README.txt"} {
			list = append(list, map[string]any{
				"key":      key,
				"size":     len(fz.files[key]),
				"checksum": md5sum(fz.files[key]),
				"links":    map[string]string{"self": fz.srv.URL + "/api/records/12726172/files/" + key + "/content"},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":       12726172,
			"metadata": map[string]string{"title": "MODES vertical structure functions", "doi": "10.5281/zenodo.12726172"},
			"files":    list,
		})
	})
	mux.HandleFunc("/api/records/12726172/files/", func(w http.ResponseWriter, r *http.Request) {
		key := filepath.Base(filepath.Dir(r.URL.Path))
		data, ok := fz.files[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fz.downloads.Add(1)
		w.Write(data)
	})
	fz.srv = httptest.NewServer(mux)
	t.Cleanup(fz.srv.Close)
	return fz
}

func testClient(fz *fakeZenodo, m *metrics.Metrics) *Client {
	h := httputil.NewRetryClient("zenodo",
		httputil.WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }),
		httputil.WithMetrics(m),
		httputil.WithLogger(observability.Discard()))
	return NewClient(h, fz.srv.URL+"/api", fz.srv.URL+"/doi")
}

func TestSelectDatasets(t *testing.T) {
	all, err := SelectDatasets(nil)
	require.NoError(t, err)
	assert.Len(t, all, 10)

	hough, err := SelectDatasets([]string{"hough", "hough3"})
	require.NoError(t, err)
	assert.Len(t, hough, 8)
	for _, d := range hough {
		assert.Equal(t, "hough", d.Dir)
	}

	some, err := SelectDatasets([]string{"VSF", " coef "})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "vsf", some[0].Name)

	_, err = SelectDatasets([]string{"scripts"})
	assert.Error(t, err)
}

func TestVerifyChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	tests := []struct {
		checksum string
		want     bool
		wantErr  bool
	}{
		{"md5:5d41402abc4b2a76b9719d911017c592", true, false},
		{"MD5:5D41402ABC4B2A76B9719D911017C592", true, false},
		{"md5:00000000000000000000000000000000", false, false},
		{"sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", true, false},
		{"crc32:1234", false, true},
		{"nocolon", false, true},
	}
	for _, tt := range tests {
		got, err := VerifyChecksum(path, tt.checksum)
		if tt.wantErr {
			assert.Error(t, err, tt.checksum)
			continue
		}
		require.NoError(t, err, tt.checksum)
		assert.Equal(t, tt.want, got, tt.checksum)
	}

	ok, err := VerifyChecksum(filepath.Join(dir, "missing"), "md5:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_ResolveAndGetRecord(t *testing.T) {
	fz := newFakeZenodo(t, map[string][]byte{"vsf.data.nc": []byte("vsf"), "README.txt": []byte("readme")})
	c := testClient(fz, nil)
	ctx := context.Background()

	id, err := c.ResolveRecordID(ctx, "10.5281/zenodo.12726172")
	require.NoError(t, err)
	assert.Equal(t, "12726172", id)

	rec, raw, err := c.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "MODES vertical structure functions", rec.Metadata.Title)
	assert.Equal(t, "12726172", rec.ID.String())
	assert.Len(t, rec.Files, 2)
	assert.Equal(t, int64(9), rec.TotalSize())
	assert.Contains(t, string(raw), "vertical structure")

	_, _, err = c.GetRecord(ctx, "999")
	var se *httputil.StatusError
	assert.True(t, errors.As(err, &se))
}

func TestFetcher_DownloadsThenSkips(t *testing.T) {
	files := map[string][]byte{"vsf.data.nc": []byte("vertical structure"), "README.txt": []byte("readme")}
	fz := newFakeZenodo(t, files)
	m := metrics.New()

	st, err := store.Open(":memory:", clockwork.NewFakeClock())
	require.NoError(t, err)
	defer st.Close()

	dataDir := t.TempDir()
	var progress []int
	f := &Fetcher{
		Client:   testClient(fz, m),
		Store:    st,
		Metrics:  m,
		Logger:   observability.Discard(),
		DataDir:  dataDir,
		Progress: func(done, total int) { progress = append(progress, done) },
	}
	ds := Datasets[0]

	res, err := f.Fetch(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, "10.5281/zenodo.12726172", res.DOI)
	assert.Equal(t, []int{1, 2}, progress)

	data, err := os.ReadFile(filepath.Join(dataDir, "vsf", "vsf.data.nc"))
	require.NoError(t, err)
	assert.Equal(t, "vertical structure", string(data))

	d, err := st.GetDownload(filepath.Join(dataDir, "vsf", "vsf.data.nc"))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, md5sum(files["vsf.data.nc"]), d.Checksum.String)

	res, err = f.Fetch(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Downloaded)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, int32(2), fz.downloads.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesSkipped.WithLabelValues("zenodo")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesDownloaded.WithLabelValues("zenodo")))

	payload, err := st.LatestRawPayload("zenodo", "records/12726172")
	require.NoError(t, err)
	assert.NotNil(t, payload)
}

type fakeMirror struct {
	files map[string][]byte
	calls []string
}

func (m *fakeMirror) Fetch(ctx context.Context, remote, dst string) (int64, error) {
	m.calls = append(m.calls, remote)
	data, ok := m.files[remote]
	if !ok {
		return 0, fmt.Errorf("550 %s: no such file", remote)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	return int64(len(data)), os.WriteFile(dst, data, 0644)
}

func TestFetcher_MirrorWithFallback(t *testing.T) {
	files := map[string][]byte{"vsf.data.nc": []byte("vertical structure"), "README.txt": []byte("readme")}
	fz := newFakeZenodo(t, files)
	mirror := &fakeMirror{files: map[string][]byte{"vsf/vsf.data.nc": files["vsf.data.nc"]}}
	m := metrics.New()

	f := &Fetcher{
		Client:  testClient(fz, m),
		Mirror:  mirror,
		Metrics: m,
		Logger:  observability.Discard(),
		DataDir: t.TempDir(),
	}
	res, err := f.Fetch(context.Background(), Datasets[0])
	require.NoError(t, err)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, []string{"vsf/vsf.data.nc", "vsf/README.txt"}, mirror.calls)
	// only the README came from zenodo
	assert.Equal(t, int32(1), fz.downloads.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesDownloaded.WithLabelValues("ftp")))
}

func TestFetcher_ChecksumMismatch(t *testing.T) {
	files := map[string][]byte{"vsf.data.nc": []byte("vertical structure"), "README.txt": []byte("readme")}
	fz := newFakeZenodo(t, files)
	mirror := &fakeMirror{files: map[string][]byte{"vsf/vsf.data.nc": []byte("corrupt")}}

	f := &Fetcher{Client: testClient(fz, nil), Mirror: mirror, Logger: observability.Discard(), DataDir: t.TempDir()}
	_, err := f.Fetch(context.Background(), Datasets[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestNewFTPMirror(t *testing.T) {
	m, err := NewFTPMirror("ftp://user:pw@mirror.example.org/pub/modes")
	require.NoError(t, err)
	assert.Equal(t, "mirror.example.org:21", m.addr)
	assert.Equal(t, "user", m.user)
	assert.Equal(t, "pw", m.password)
	assert.Equal(t, "/pub/modes", m.root)

	m, err = NewFTPMirror("ftp://mirror.example.org:2121")
	require.NoError(t, err)
	assert.Equal(t, "mirror.example.org:2121", m.addr)
	assert.Equal(t, "anonymous", m.user)

	_, err = NewFTPMirror("https://zenodo.org")
	assert.Error(t, err)
}

func TestFTPMirror_Live(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test")
	}
	if os.Getenv("QMODES_FTP_MIRROR") == "" {
		t.Skip("QMODES_FTP_MIRROR not set")
	}
	m, err := NewFTPMirror(os.Getenv("QMODES_FTP_MIRROR"))
	require.NoError(t, err)
	_, err = m.Fetch(context.Background(), "vsf/vsf.data.nc", filepath.Join(t.TempDir(), "vsf.data.nc"))
	require.NoError(t, err)
}
