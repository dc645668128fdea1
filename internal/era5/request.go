package era5

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dataset is the CDS dataset holding ERA5 model-level analyses.
const Dataset = "reanalysis-era5-complete"

// NumModelLevels is the number of ERA5 model levels.
const NumModelLevels = 137

// Request is a MARS-style retrieval. Lists are "/"-separated.
type Request struct {
	Class    string `json:"class"`
	Date     string `json:"date"`
	Levelist string `json:"levelist"`
	Levtype  string `json:"levtype"`
	Grid     string `json:"grid"`
	Param    string `json:"param"`
	Stream   string `json:"stream"`
	Time     string `json:"time"`
	Type     string `json:"type"`
}

// Options select what is retrieved for each day.
type Options struct {
	Params        []string // GRIB parameter ids, 133 is specific humidity
	Names         []string // short names used in file names
	SurfaceParams []string // 129 geopotential, 152 log surface pressure
	Times         []string
	Grid          string
}

func DefaultOptions() Options {
	return Options{
		Params:        []string{"133"},
		Names:         []string{"q"},
		SurfaceParams: []string{"129", "152"},
		Times:         []string{"00:00:00"},
		Grid:          "F320",
	}
}

func (o Options) Validate() error {
	if len(o.Params) == 0 {
		return fmt.Errorf("no parameters requested")
	}
	if len(o.Names) != len(o.Params) {
		return fmt.Errorf("%d parameter names for %d parameters", len(o.Names), len(o.Params))
	}
	if len(o.Times) == 0 {
		return fmt.Errorf("no times requested")
	}
	if o.Grid == "" {
		return fmt.Errorf("no grid")
	}
	return nil
}

func base(date time.Time, o Options) Request {
	return Request{
		Class:   "ea",
		Date:    date.Format("20060102"),
		Levtype: "ml",
		Grid:    o.Grid,
		Stream:  "oper",
		Time:    strings.Join(o.Times, "/"),
		Type:    "an",
	}
}

// ModelLevelRequest retrieves the parameters on all model levels.
func ModelLevelRequest(date time.Time, o Options) Request {
	r := base(date, o)
	levels := make([]string, NumModelLevels)
	for i := range levels {
		levels[i] = strconv.Itoa(i + 1)
	}
	r.Levelist = strings.Join(levels, "/")
	r.Param = strings.Join(o.Params, "/")
	return r
}

// SurfaceRequest retrieves the fields needed for vertical interpolation.
func SurfaceRequest(date time.Time, o Options) Request {
	r := base(date, o)
	r.Levelist = "1"
	r.Param = strings.Join(o.SurfaceParams, "/")
	return r
}

// Files are the per-day file names.
type Files struct {
	ModelLevels string
	Surface     string
	Output      string
}

func FileNames(date time.Time, o Options) Files {
	d := date.Format("20060102")
	names := strings.Join(o.Names, "-")
	return Files{
		ModelLevels: fmt.Sprintf("ERA5_%s_%s_ml_data.grib", d, names),
		Surface:     fmt.Sprintf("ERA5_%s_z-lnsp_surf-ml_data.grib", d),
		Output:      fmt.Sprintf("ERA5_%s_%s_pl_data.nc", d, names),
	}
}
