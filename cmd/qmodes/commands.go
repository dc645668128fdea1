package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/qmodes/internal/diag"
	"github.com/lox/qmodes/internal/era5"
	"github.com/lox/qmodes/internal/httputil"
	"github.com/lox/qmodes/internal/modes"
	"github.com/lox/qmodes/internal/ncio"
	"github.com/lox/qmodes/internal/pipeline"
	"github.com/lox/qmodes/internal/render"
	"github.com/lox/qmodes/internal/zenodo"
)

type FetchModesCmd struct {
	Datasets []string `arg:"" optional:"" help:"Datasets to fetch: all, vsf, coef, hough or hough1..hough8." default:"all"`
	APIURL   string   `name:"api-url" help:"Zenodo API base URL." default:"${zenodo_api}"`
	NoMirror bool     `name:"no-mirror" help:"Ignore QMODES_FTP_MIRROR and download from Zenodo only."`
}

func (c *FetchModesCmd) Run(a *app) error {
	datasets, err := zenodo.SelectDatasets(c.Datasets)
	if err != nil {
		return err
	}
	h := httputil.NewRetryClient("zenodo",
		httputil.WithHTTPClient(&http.Client{}),
		httputil.WithMetrics(a.metrics),
		httputil.WithLogger(a.logger),
	)
	f := &zenodo.Fetcher{
		Client:  zenodo.NewClient(h, c.APIURL, zenodo.DefaultDOIURL),
		Store:   a.store,
		Metrics: a.metrics,
		Logger:  a.logger,
		DataDir: a.cfg.DataDir,
	}
	if a.cfg.FTPMirror != "" && !c.NoMirror {
		m, err := zenodo.NewFTPMirror(a.cfg.FTPMirror)
		if err != nil {
			return err
		}
		f.Mirror = m
	}

	for _, ds := range datasets {
		_, err := a.runner.Track(pipeline.StageFetchModes, "", ds.Name, ds, func(runID string) (string, error) {
			f.RunID = runID
			var b *bar
			f.Progress = func(done, total int) {
				if b == nil {
					b = newBar(a.progress, ds.Name, total)
				}
				b.Set(done)
			}
			defer func() {
				if b != nil {
					b.Stop()
				}
			}()

			res, err := f.Fetch(a.ctx, ds)
			if err != nil {
				return "", err
			}
			fmt.Printf("%s\n  DOI:  %s\n  size: %s\n  downloaded %d, up to date %d\n",
				res.Title, res.DOI, humanize.Bytes(uint64(res.TotalBytes)), res.Downloaded, res.Skipped)
			return filepath.Join(a.cfg.DataDir, ds.Dir), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type FetchERA5Cmd struct {
	Start  string   `arg:"" help:"First date (YYYYMMDD)."`
	End    string   `arg:"" optional:"" help:"Last date (YYYYMMDD), defaults to the first."`
	Params []string `help:"GRIB parameter ids on model levels." default:"133"`
	Names  []string `help:"Short names of the parameters, used in file names." default:"q"`
	Times  []string `help:"Analysis times." default:"00:00:00"`
	Grid   string   `help:"Output grid." default:"F320"`
	Dir    string   `help:"Output directory, defaults to ERA_Data under the data directory." type:"path"`
	CDO    string   `name:"cdo" help:"cdo binary." default:"cdo"`
}

func (c *FetchERA5Cmd) Run(a *app) error {
	if a.cfg.CDSKey == "" {
		return fmt.Errorf("CDSAPI_KEY is not set")
	}
	start, err := modes.ParseDate(c.Start)
	if err != nil {
		return err
	}
	end := start
	if c.End != "" {
		if end, err = modes.ParseDate(c.End); err != nil {
			return err
		}
	}
	days, err := era5.Days(start, end)
	if err != nil {
		return err
	}
	dir := c.Dir
	if dir == "" {
		dir = a.cfg.Paths().ERA
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// downloads are large, so the overall client timeout is disabled and
	// the context bounds them instead
	h := httputil.NewRetryClient("cds",
		httputil.WithHTTPClient(&http.Client{}),
		httputil.WithMetrics(a.metrics),
		httputil.WithLogger(a.logger),
	)
	f := &era5.Fetcher{
		CDS:     era5.NewCDSClient(h, a.cfg.CDSURL, a.cfg.CDSKey, a.logger),
		CDO:     era5.CDO{Bin: c.CDO},
		Store:   a.store,
		Metrics: a.metrics,
		Logger:  a.logger,
		Dir:     dir,
		Options: era5.Options{
			Params:        c.Params,
			Names:         c.Names,
			SurfaceParams: era5.DefaultOptions().SurfaceParams,
			Times:         c.Times,
			Grid:          c.Grid,
		},
	}

	_, err = a.runner.Track(pipeline.StageFetchERA5, c.Start, "", c, func(runID string) (string, error) {
		f.RunID = runID
		b := newBar(a.progress, "era5", len(days))
		defer b.Stop()
		f.Progress = func(time.Time) { b.Incr() }

		paths, err := f.FetchRange(a.ctx, start, end)
		for _, p := range paths {
			fmt.Println(p)
		}
		return dir, err
	})
	return err
}

type VSFIntCmd struct{}

func (c *VSFIntCmd) Run(a *app) error {
	out, err := a.runner.VSFInt(a.ctx)
	if err != nil {
		return err
	}
	fmt.Printf("output file saved to:\n\t%s\n", out)
	return nil
}

type QKCmd struct {
	Date  string `short:"d" required:"" help:"Date to calculate (YYYYMMDD)."`
	Mode  string `short:"m" required:"" enum:"EIG,WIG,BAL" help:"Wave species: EIG, WIG or BAL."`
	NoMRG bool   `name:"noMRG" help:"Drop the n=0 meridional mode (BAL only)."`
}

func (c *QKCmd) Run(a *app) error {
	b := newBar(a.progress, c.Mode, a.cfg.NK)
	defer b.Stop()
	out, err := a.runner.QK(a.ctx, pipeline.QKOptions{
		Date:     c.Date,
		Species:  modes.Species(c.Mode),
		NoMRG:    c.NoMRG,
		Progress: func(int) { b.Incr() },
	})
	if err != nil {
		return err
	}
	fmt.Printf("qk_%s data saved to:\n\t%s\n", c.Mode, out)
	return nil
}

type QModesCmd struct {
	Date   string `short:"d" required:"" help:"Date to reconstruct (YYYYMMDD)."`
	KLower int    `short:"k" name:"k-lower-bound" default:"0" help:"Only sum zonal wavenumbers from this value up."`
	NoMRG  bool   `name:"noMRG" help:"Take BAL from the noMRG qk file."`
	Grid   string `help:"File providing the output longitudes, defaults to the date's ERA5 file." type:"existingfile"`
}

func (c *QModesCmd) Run(a *app) error {
	out, err := a.runner.QModes(a.ctx, pipeline.QModesOptions{
		Date:   c.Date,
		KLower: c.KLower,
		NoMRG:  c.NoMRG,
		Grid:   c.Grid,
	})
	if err != nil {
		return err
	}
	fmt.Printf("q data saved to:\n\t%s\n", out)
	return nil
}

// DiagFlags are shared by the diagnostic commands.
type DiagFlags struct {
	Date       string `short:"d" required:"" help:"Date of the analysis (YYYYMMDD)."`
	Background string `help:"Background profile: p or p-lat. Variance defaults to p, the maps to p-lat."`
	ERAFile    string `name:"era-file" help:"ERA5 file, defaults to the date's file." type:"existingfile"`
	QModesFile string `name:"qmodes-file" help:"qmodes file, defaults to the date's full-spectrum file." type:"existingfile"`
}

func (f DiagFlags) options(def diag.Background) (pipeline.DiagOptions, error) {
	bg := def
	if f.Background != "" {
		var err error
		if bg, err = diag.ParseBackground(f.Background); err != nil {
			return pipeline.DiagOptions{}, err
		}
	}
	return pipeline.DiagOptions{Date: f.Date, Background: bg, ERAFile: f.ERAFile, QModesFile: f.QModesFile}, nil
}

type VarianceCmd struct {
	DiagFlags `embed:""`
	Levels    []int `help:"Pressure level indices, one curve each." default:"95,82"`
}

func (c *VarianceCmd) Run(a *app) error {
	opts, err := c.options(diag.PressureBackground)
	if err != nil {
		return err
	}
	out, err := a.runner.Variance(a.ctx, pipeline.VarianceOptions{DiagOptions: opts, Levels: c.Levels})
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

type BandsCmd struct {
	DiagFlags `embed:""`
	Level     int   `short:"p" name:"plev" required:"" help:"Pressure level index."`
	KMax      int   `name:"k-max" default:"50" help:"Largest wavenumber shown in the spectra."`
	Latitudes []int `name:"lat" default:"150" help:"Latitude indices drawn as single-row profiles and FFTs."`
}

func (c *BandsCmd) Run(a *app) error {
	opts, err := c.options(diag.PressureLatBackground)
	if err != nil {
		return err
	}
	out, err := a.runner.Bands(a.ctx, pipeline.BandsOptions{DiagOptions: opts, Level: c.Level, KMax: c.KMax, Latitudes: c.Latitudes})
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

type ContourCmd struct {
	DiagFlags `embed:""`
	Level     int       `short:"p" name:"plev" required:"" help:"Pressure level index."`
	Regional  bool      `help:"Crop to 20N-70N, 135W-60W." xor:"window"`
	Window    []float64 `help:"Crop to latmin,latmax,lonmin,lonmax with longitudes in -180..180." xor:"window"`
	QuickLook int       `name:"quicklook" default:"0" help:"Also write raster previews of this width in pixels."`
}

func (c *ContourCmd) window() (render.Window, error) {
	switch {
	case c.Regional:
		return render.RegionalWindow, nil
	case len(c.Window) == 0:
		return render.Window{}, nil
	case len(c.Window) != 4:
		return render.Window{}, fmt.Errorf("--window needs 4 values, got %d", len(c.Window))
	}
	w := render.Window{LatMin: c.Window[0], LatMax: c.Window[1], LonMin: c.Window[2], LonMax: c.Window[3]}
	return w, w.Validate()
}

func (c *ContourCmd) Run(a *app) error {
	opts, err := c.options(diag.PressureLatBackground)
	if err != nil {
		return err
	}
	w, err := c.window()
	if err != nil {
		return err
	}
	out, err := a.runner.Contour(a.ctx, pipeline.ContourOptions{DiagOptions: opts, Level: c.Level, Window: w, QuickLookWidth: c.QuickLook})
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

type DispersionCmd struct {
	Prefix string `required:"" help:"Frequency file prefix; files are <prefix>.wnKKK."`
	Dir    string `help:"Directory of the frequency files, defaults to the Hough directory." type:"existingdir"`
	K      int    `short:"k" default:"30" help:"Number of zonal wavenumbers."`
	Mode   int    `short:"m" default:"0" help:"Vertical mode index."`
	N      []int  `short:"n" default:"1,5,10,15,20,25" help:"Meridional modes drawn besides n=0."`
}

func (c *DispersionCmd) Run(a *app) error {
	out, err := a.runner.Dispersion(a.ctx, pipeline.DispersionOptions{
		Dir:    c.Dir,
		Prefix: c.Prefix,
		K:      c.K,
		Mode:   c.Mode,
		N:      c.N,
	})
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

type RunsCmd struct {
	Stage     string `help:"Only list runs of this stage."`
	Limit     int    `default:"20" help:"Number of runs to list."`
	Summary   bool   `help:"Show per-stage totals instead of individual runs."`
	Downloads bool   `help:"List downloaded files."`
}

func (c *RunsCmd) Run(a *app) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	switch {
	case c.Downloads:
		downloads, err := a.store.ListDownloads("")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "FETCHED\tSOURCE\tDATASET\tSIZE\tPATH")
		for _, d := range downloads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(d.FetchedAt), d.Source, d.Dataset, humanize.Bytes(uint64(d.Size)), d.Path)
		}
		totals, err := a.store.DownloadedBytes()
		if err != nil {
			return err
		}
		for dataset, n := range totals {
			a.logger.Info("downloaded", "dataset", dataset, "size", humanize.Bytes(uint64(n)))
		}
	case c.Summary:
		summaries, err := a.store.StageSummaries()
		if err != nil {
			return err
		}
		version, err := a.store.MigrationVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "catalog schema v%d\n\n", version)
		fmt.Fprintln(w, "STAGE\tRUNS\tFAILURES\tLAST RUN")
		for _, s := range summaries {
			last := "-"
			if s.LastRunAt.Valid {
				last = humanize.Time(s.LastRunAt.Time)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", s.Stage, s.Runs, s.Failures, last)
		}
	default:
		runs, err := a.store.ListRuns(c.Stage, c.Limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "STARTED\tSTAGE\tDATE\tSPECIES\tSTATUS\tDURATION\tOUTPUT")
		for _, r := range runs {
			status := "ok"
			switch {
			case !r.FinishedAt.Valid:
				status = "running"
			case !r.Success:
				status = "failed: " + r.Error.String
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Stage, r.Date.String, r.Species.String,
				status, r.Duration().Round(time.Second), r.Output.String)
		}
	}
	return nil
}

type InspectCmd struct {
	Files []string `arg:"" help:"NetCDF files to describe."`
}

func (c *InspectCmd) Run(a *app) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	for _, path := range c.Files {
		f, err := ncio.Open(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", path)
		for _, name := range f.Variables() {
			dims, err := f.Dimensions(name)
			if err != nil {
				f.Close()
				return err
			}
			fmt.Fprintf(w, "  %s\t(%s)\n", name, strings.Join(dims, ", "))
		}
		f.Close()
	}
	return nil
}
