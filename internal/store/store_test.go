package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/lox/qmodes/internal/models"
)

var testStart = time.Date(2024, 7, 12, 3, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(testStart)
	store := New(db, clock)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store, clock
}

func TestMigrate_Idempotent(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog", "qmodes.db")
	store, err := Open(path, clockwork.NewFakeClockAt(testStart))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.RecordDownload(models.Download{Source: "zenodo", Dataset: "vsf", Path: "vsf/vsf.data.nc", Size: 10}); err != nil {
		t.Fatalf("RecordDownload: %v", err)
	}
}

func TestRecordAndGetDownload(t *testing.T) {
	store, _ := setupTestStore(t)

	d := models.Download{
		Source:   "zenodo",
		Dataset:  "coef",
		Path:     "coef/Hough_coeff_M60_F320_201807010000000.nc",
		Size:     1024,
		Checksum: sql.NullString{String: "md5:abc", Valid: true},
	}
	if err := store.RecordDownload(d); err != nil {
		t.Fatalf("RecordDownload: %v", err)
	}

	got, err := store.GetDownload(d.Path)
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if got == nil {
		t.Fatal("GetDownload returned nil")
	}
	if got.Size != 1024 || got.Checksum.String != "md5:abc" {
		t.Errorf("got size %d checksum %q", got.Size, got.Checksum.String)
	}
	if !got.FetchedAt.Equal(testStart) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, testStart)
	}

	// re-download replaces the record
	d.Size = 2048
	d.Source = "ftp"
	if err := store.RecordDownload(d); err != nil {
		t.Fatalf("RecordDownload again: %v", err)
	}
	got, _ = store.GetDownload(d.Path)
	if got.Size != 2048 || got.Source != "ftp" {
		t.Errorf("after update: size %d source %q", got.Size, got.Source)
	}

	missing, err := store.GetDownload("nope")
	if err != nil || missing != nil {
		t.Errorf("GetDownload(missing) = %v, %v", missing, err)
	}
}

func TestListDownloadsAndBytes(t *testing.T) {
	store, clock := setupTestStore(t)

	for i, d := range []models.Download{
		{Source: "zenodo", Dataset: "hough", Path: "hough/a.nc", Size: 100},
		{Source: "zenodo", Dataset: "hough", Path: "hough/b.nc", Size: 50},
		{Source: "cds", Dataset: "era5", Path: "ERA5_20180701_q_pl_data.nc", Size: 7},
	} {
		clock.Advance(time.Duration(i) * time.Minute)
		if err := store.RecordDownload(d); err != nil {
			t.Fatalf("RecordDownload: %v", err)
		}
	}

	hough, err := store.ListDownloads("hough")
	if err != nil {
		t.Fatalf("ListDownloads: %v", err)
	}
	if len(hough) != 2 || hough[0].Path != "hough/b.nc" {
		t.Errorf("hough downloads = %+v", hough)
	}

	all, err := store.ListDownloads("")
	if err != nil {
		t.Fatalf("ListDownloads all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}

	bytes, err := store.DownloadedBytes()
	if err != nil {
		t.Fatalf("DownloadedBytes: %v", err)
	}
	if bytes["hough"] != 150 || bytes["era5"] != 7 {
		t.Errorf("bytes = %v", bytes)
	}
}

func TestRunLifecycle(t *testing.T) {
	store, clock := setupTestStore(t)

	run, err := store.StartRun("qk", "20180701", "BAL", map[string]any{"noMRG": true})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if len(run.ID) != 36 {
		t.Errorf("run id %q is not a uuid", run.ID)
	}

	clock.Advance(90 * time.Second)
	if err := store.CompleteRun(run, "qk_data/qk_noMRG_201807010000000.nc", nil); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !got.Success || got.Species.String != "BAL" || got.Date.String != "20180701" {
		t.Errorf("run = %+v", got)
	}
	if got.Params != `{"noMRG":true}` {
		t.Errorf("Params = %s", got.Params)
	}
	if got.Duration() != 90*time.Second {
		t.Errorf("Duration = %v", got.Duration())
	}

	if missing, err := store.GetRun("nope"); err != nil || missing != nil {
		t.Errorf("GetRun(missing) = %v, %v", missing, err)
	}
}

func TestListRunsAndSummaries(t *testing.T) {
	store, clock := setupTestStore(t)

	for _, stage := range []string{"vsf-int", "qk", "qk", "qmodes"} {
		run, err := store.StartRun(stage, "", "", nil)
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		var runErr error
		if stage == "qmodes" {
			runErr = errors.New("missing qk_WIG")
		}
		if err := store.CompleteRun(run, "", runErr); err != nil {
			t.Fatalf("CompleteRun: %v", err)
		}
		clock.Advance(time.Minute)
	}

	runs, err := store.ListRuns("", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Stage != "qmodes" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Success || runs[0].Error.String != "missing qk_WIG" {
		t.Errorf("failed run recorded as %+v", runs[0])
	}

	qk, err := store.ListRuns("qk", 0)
	if err != nil {
		t.Fatalf("ListRuns qk: %v", err)
	}
	if len(qk) != 2 {
		t.Errorf("len(qk runs) = %d, want 2", len(qk))
	}

	summaries, err := store.StageSummaries()
	if err != nil {
		t.Fatalf("StageSummaries: %v", err)
	}
	want := map[string][2]int{"qk": {2, 0}, "qmodes": {1, 1}, "vsf-int": {1, 0}}
	if len(summaries) != len(want) {
		t.Fatalf("summaries = %+v", summaries)
	}
	for _, s := range summaries {
		if w := want[s.Stage]; s.Runs != w[0] || s.Failures != w[1] {
			t.Errorf("%s: runs %d failures %d, want %v", s.Stage, s.Runs, s.Failures, w)
		}
		if !s.LastRunAt.Valid {
			t.Errorf("%s: missing last run time", s.Stage)
		}
	}
}

func TestRawPayloads(t *testing.T) {
	store, clock := setupTestStore(t)

	payload := []byte(`{"metadata":{"title":"MODES vertical structure functions"}}`)
	id, err := store.StoreRawPayload("", "zenodo", "records/12726172", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a new payload id")
	}

	dup, err := store.StoreRawPayload("", "zenodo", "records/12726172", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload duplicate: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	got, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s", got)
	}

	clock.Advance(time.Hour)
	if _, err := store.StoreRawPayload("", "zenodo", "records/12726172", []byte(`{}`)); err != nil {
		t.Fatalf("StoreRawPayload newer: %v", err)
	}
	latest, err := store.LatestRawPayload("zenodo", "records/12726172")
	if err != nil {
		t.Fatalf("LatestRawPayload: %v", err)
	}
	if latest == nil || latest.ID == id {
		t.Errorf("latest = %+v, want the newer payload", latest)
	}

	none, err := store.LatestRawPayload("cds", "jobs")
	if err != nil || none != nil {
		t.Errorf("LatestRawPayload(none) = %v, %v", none, err)
	}
}
