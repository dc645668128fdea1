package modes

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/lox/qmodes/internal/ncio"
)

// DateLayout is the YYYYMMDD form used on the command line and in file
// names. File names append "0000000" for the (single) analysis time.
const DateLayout = "20060102"

// ParseDate validates a YYYYMMDD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYYMMDD: %w", s, err)
	}
	return t, nil
}

func stamp(date string) string { return date + "0000000" }

const (
	VSFFile    = "vsf.data.nc"
	VSFIntFile = "vsf_int.data.nc"
)

// CoefFile is the name of the Hough coefficient file for a date.
func CoefFile(date string) string {
	return fmt.Sprintf("Hough_coeff_M60_F320_%s.nc", stamp(date))
}

// HoughFile is the name of the Hough function file for zonal wavenumber k.
func HoughFile(k int) string {
	return fmt.Sprintf("hough_F320_M60.wn%05d.nc", k)
}

// QKFile is the name of the Fourier coefficient file for a date.
func QKFile(date string, noMRG bool) string {
	if noMRG {
		return fmt.Sprintf("qk_noMRG_%s.nc", stamp(date))
	}
	return fmt.Sprintf("qk_%s.nc", stamp(date))
}

// QModesFile is the name of the reconstructed field file. kLower != 0
// adds the retained wavenumber band to the name.
func QModesFile(date string, noMRG bool, kLower, nk int) string {
	name := "qmodes"
	if noMRG {
		name += "_noMRG"
	}
	if kLower != 0 {
		name += fmt.Sprintf("_k%03d-%d", kLower, nk)
	}
	return name + "_" + stamp(date) + ".nc"
}

// QKVar is the variable holding the Fourier coefficients of a species.
func QKVar(s Species) string { return "qk_" + string(s) }

// QVar is the variable holding the reconstructed field of a species.
func QVar(s Species) string { return "q_" + string(s) }

// HoughDir reads per-wavenumber Hough function files of one species.
type HoughDir struct {
	Dir     string
	Species Species
}

func (h HoughDir) Hough(k int) (*ncio.Array, error) {
	f, err := ncio.Open(filepath.Join(h.Dir, HoughFile(k)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Array(string(h.Species))
}

// Latitudes reads the latitude grid shared by all Hough files.
func (h HoughDir) Latitudes() ([]float64, error) {
	f, err := ncio.Open(filepath.Join(h.Dir, HoughFile(0)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Vector("lat")
}
