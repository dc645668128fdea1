package era5

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/qmodes/internal/httputil"
	"github.com/lox/qmodes/internal/metrics"
	"github.com/lox/qmodes/internal/observability"
	"github.com/lox/qmodes/internal/store"
)

var day = time.Date(2018, 8, 11, 0, 0, 0, 0, time.UTC)

func TestRequests(t *testing.T) {
	o := DefaultOptions()
	ml := ModelLevelRequest(day, o)
	assert.Equal(t, "ea", ml.Class)
	assert.Equal(t, "20180811", ml.Date)
	assert.Equal(t, "ml", ml.Levtype)
	assert.Equal(t, "F320", ml.Grid)
	assert.Equal(t, "133", ml.Param)
	assert.Equal(t, "oper", ml.Stream)
	assert.Equal(t, "an", ml.Type)
	assert.Equal(t, "00:00:00", ml.Time)
	levels := strings.Split(ml.Levelist, "/")
	require.Len(t, levels, NumModelLevels)
	assert.Equal(t, "1", levels[0])
	assert.Equal(t, "137", levels[136])

	sfc := SurfaceRequest(day, o)
	assert.Equal(t, "1", sfc.Levelist)
	assert.Equal(t, "129/152", sfc.Param)

	o.Params = []string{"133", "130"}
	o.Names = []string{"q", "t"}
	assert.Equal(t, "133/130", ModelLevelRequest(day, o).Param)
	f := FileNames(day, o)
	assert.Equal(t, "ERA5_20180811_q-t_ml_data.grib", f.ModelLevels)
	assert.Equal(t, "ERA5_20180811_z-lnsp_surf-ml_data.grib", f.Surface)
	assert.Equal(t, "ERA5_20180811_q-t_pl_data.nc", f.Output)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	o := DefaultOptions()
	o.Names = nil
	assert.Error(t, o.Validate())

	o = DefaultOptions()
	o.Times = nil
	assert.Error(t, o.Validate())
}

func TestDays(t *testing.T) {
	days, err := Days(day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, "20180813", days[2].Format("20060102"))

	days, err = Days(day, day)
	require.NoError(t, err)
	assert.Len(t, days, 1)

	_, err = Days(day, day.AddDate(0, 0, -1))
	assert.Error(t, err)
}

func TestPressureLevels(t *testing.T) {
	require.Len(t, PressureLevels, NumModelLevels)
	for i := 1; i < len(PressureLevels); i++ {
		assert.Greater(t, PressureLevels[i], PressureLevels[i-1])
	}
	assert.True(t, strings.HasPrefix(levelList(), "1,3,4,6,"))
	assert.True(t, strings.HasSuffix(levelList(), ",100954,101205"))
}

// fakeCDS completes each job after a number of polls.
type fakeCDS struct {
	mu       sync.Mutex
	srv      *httptest.Server
	polls    map[string]int
	inputs   []Request
	failJobs bool
	token    string
}

func newFakeCDS(t *testing.T) *fakeCDS {
	t.Helper()
	f := &fakeCDS{polls: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/retrieve/v1/processes/reanalysis-era5-complete/execution", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Inputs Request `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.token = r.Header.Get("PRIVATE-TOKEN")
		f.inputs = append(f.inputs, body.Inputs)
		id := "job-" + body.Inputs.Levelist[:1] + "-" + strings.ReplaceAll(body.Inputs.Param, "/", "_")
		f.mu.Unlock()
		json.NewEncoder(w).Encode(Job{JobID: id, Status: StatusAccepted})
	})
	mux.HandleFunc("GET /api/retrieve/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		f.polls[id]++
		status := StatusRunning
		if f.polls[id] >= 2 {
			status = StatusSuccessful
			if f.failJobs {
				status = StatusFailed
			}
		}
		json.NewEncoder(w).Encode(Job{JobID: id, Status: status})
	})
	mux.HandleFunc("GET /api/retrieve/v1/jobs/{id}/results", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		w.Write([]byte(`{"asset":{"value":{"href":"` + f.srv.URL + `/download/` + id + `.grib","file:size":4}}}`))
	})
	mux.HandleFunc("GET /download/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("GRIB"))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCDS) client() *CDSClient {
	h := httputil.NewRetryClient("cds",
		httputil.WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }),
		httputil.WithLogger(observability.Discard()))
	c := NewCDSClient(h, f.srv.URL+"/api/", "secret-key", observability.Discard())
	c.PollBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestCDSClient_Retrieve(t *testing.T) {
	fake := newFakeCDS(t)
	c := fake.client()
	dst := filepath.Join(t.TempDir(), "out.grib")

	job, n, err := c.Retrieve(context.Background(), Dataset, SurfaceRequest(day, DefaultOptions()), dst)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, job.Status)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "secret-key", fake.token)
	assert.Equal(t, 2, fake.polls[job.JobID])

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "GRIB", string(data))
}

func TestCDSClient_FailedJob(t *testing.T) {
	fake := newFakeCDS(t)
	fake.failJobs = true
	_, _, err := fake.client().Retrieve(context.Background(), Dataset, SurfaceRequest(day, DefaultOptions()), filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobFailed))
}

// fakeCDO records operator chains and produces each step's output file.
type fakeCDO struct {
	calls [][]string
	fail  string
}

func (c *fakeCDO) Run(ctx context.Context, dir string, args ...string) error {
	c.calls = append(c.calls, args)
	if c.fail != "" && strings.HasPrefix(args[0], c.fail) {
		return errors.New("cdo failed")
	}
	return os.WriteFile(filepath.Join(dir, args[len(args)-1]), []byte(strings.Join(args, " ")), 0644)
}

func TestInterpolate(t *testing.T) {
	dir := t.TempDir()
	cdo := &fakeCDO{}
	f := FileNames(day, DefaultOptions())

	require.NoError(t, Interpolate(context.Background(), cdo, dir, f))
	require.Len(t, cdo.calls, 4)
	assert.Equal(t, []string{"merge", f.ModelLevels, f.Surface, "era5_lev_ml.grib"}, cdo.calls[0])
	assert.True(t, strings.HasPrefix(cdo.calls[1][0], "ml2plx,1,3,4"))
	assert.Equal(t, "delete,name=lnsp", cdo.calls[2][0])
	assert.Equal(t, []string{"-z", "zip1", "-f", "nc", "copy", "era5_lev_pl_2.grib", f.Output}, cdo.calls[3])

	assert.FileExists(t, filepath.Join(dir, f.Output))
	for _, tmp := range []string{"era5_lev_ml.grib", "era5_lev_pl_1.grib", "era5_lev_pl_2.grib"} {
		assert.NoFileExists(t, filepath.Join(dir, tmp))
	}
}

func TestInterpolate_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	cdo := &fakeCDO{fail: "ml2plx"}
	err := Interpolate(context.Background(), cdo, dir, FileNames(day, DefaultOptions()))
	require.Error(t, err)
	assert.Len(t, cdo.calls, 2)
	assert.NoFileExists(t, filepath.Join(dir, "era5_lev_ml.grib"))
}

func TestCDO_Run(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("no false binary")
	}
	err := CDO{Bin: "false"}.Run(context.Background(), t.TempDir(), "merge", "a", "b", "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cdo merge a b c")

	err = CDO{Bin: "false"}.Run(context.Background(), t.TempDir(), "-z", "zip1", "-f", "nc", "copy", "in.grib", "out.nc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cdo -z zip1 -f nc copy in.grib out.nc")

	assert.NoError(t, CDO{Bin: "true"}.Run(context.Background(), t.TempDir(), "merge"))
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "-z zip1 -f nc copy a b", commandLine([]string{"-z", "zip1", "-f", "nc", "copy", "a", "b"}))

	line := commandLine([]string{"ml2plx," + levelList(), "in", "out"})
	assert.True(t, strings.HasPrefix(line, "ml2plx,1,3,4"))
	assert.True(t, strings.HasSuffix(line, "... in out"))
	assert.Less(t, len(line), 50)
}

func TestFetcher_FetchRange(t *testing.T) {
	fake := newFakeCDS(t)
	dir := t.TempDir()
	cdo := &fakeCDO{}
	st, err := store.Open(":memory:", clockwork.NewFakeClock())
	require.NoError(t, err)
	defer st.Close()
	m := metrics.New()

	var seen []string
	f := &Fetcher{
		CDS:      fake.client(),
		CDO:      cdo,
		Store:    st,
		Metrics:  m,
		Logger:   observability.Discard(),
		Dir:      dir,
		Options:  DefaultOptions(),
		Progress: func(d time.Time) { seen = append(seen, d.Format("20060102")) },
	}

	out, err := f.FetchRange(context.Background(), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, filepath.Join(dir, "ERA5_20180812_q_pl_data.nc"), out[1])
	assert.Equal(t, []string{"20180811", "20180812"}, seen)
	assert.Len(t, fake.inputs, 4)
	assert.Len(t, cdo.calls, 8)

	d, err := st.GetDownload(out[0])
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "era5", d.Dataset)

	jobs, err := st.LatestRawPayload("cds", "jobs/job-1-129_152")
	require.NoError(t, err)
	assert.NotNil(t, jobs)

	// existing outputs are not fetched again
	_, err = f.FetchRange(context.Background(), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, fake.inputs, 4)
}
