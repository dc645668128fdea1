package era5

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PressureLevels are the target levels (Pa) of the model to pressure
// level interpolation: the full-level pressures of the 137-level model
// under a standard surface pressure.
var PressureLevels = []int{
	1, 3, 4, 6, 8, 12, 16, 22, 29, 38, 49, 62, 78, 97, 119, 145, 175, 210, 249, 293,
	343, 398, 460, 529, 604, 687, 777, 875, 982, 1097, 1221, 1355, 1498, 1651, 1813, 1987, 2171, 2366, 2572, 2789,
	3018, 3258, 3511, 3776, 4053, 4343, 4645, 4960, 5286, 5626, 5977, 6342, 6719, 7112, 7520, 7945, 8388, 8851, 9335, 9842,
	10371, 10924, 11502, 12105, 12735, 13392, 14077, 14791, 15534, 16309, 17116, 17955, 18829, 19737, 20681, 21662, 22681, 23738, 24836, 25976,
	27157, 28382, 29652, 30967, 32329, 33739, 35199, 36709, 38271, 39885, 41554, 43278, 45059, 46897, 48795, 50750, 52757, 54803, 56877, 58968,
	61066, 63162, 65244, 67304, 69330, 71316, 73253, 75134, 76953, 78705, 80386, 81993, 83524, 84977, 86352, 87650, 88871, 90017, 91090, 92092,
	93026, 93895, 94702, 95451, 96143, 96783, 97374, 97919, 98420, 98881, 99305, 99695, 100052, 100379, 100679, 100954, 101205,
}

// Commander runs a cdo operator chain in a working directory.
type Commander interface {
	Run(ctx context.Context, dir string, args ...string) error
}

// CDO runs the Climate Data Operators binary.
type CDO struct {
	Bin string
}

func (c CDO) Run(ctx context.Context, dir string, args ...string) error {
	bin := c.Bin
	if bin == "" {
		bin = "cdo"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cdo %s: %w: %s", commandLine(args), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// commandLine joins args for error messages, shortening long operator
// arguments such as the ml2plx level list.
func commandLine(args []string) string {
	const limit = 32
	parts := make([]string, len(args))
	for i, a := range args {
		if len(a) > limit {
			a = a[:limit] + "..."
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

func levelList() string {
	parts := make([]string, len(PressureLevels))
	for i, p := range PressureLevels {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// Interpolate merges the model-level and surface files, interpolates to
// PressureLevels, drops lnsp and writes zip-compressed NetCDF. The
// intermediate files are removed; the input GRIB files are kept.
func Interpolate(ctx context.Context, cdo Commander, dir string, f Files) error {
	const (
		merged = "era5_lev_ml.grib"
		plev   = "era5_lev_pl_1.grib"
		pruned = "era5_lev_pl_2.grib"
	)
	defer func() {
		for _, name := range []string{merged, plev, pruned} {
			os.Remove(filepath.Join(dir, name))
		}
	}()

	steps := [][]string{
		{"merge", f.ModelLevels, f.Surface, merged},
		{"ml2plx," + levelList(), merged, plev},
		{"delete,name=lnsp", plev, pruned},
		{"-z", "zip1", "-f", "nc", "copy", pruned, f.Output},
	}
	for _, args := range steps {
		if err := cdo.Run(ctx, dir, args...); err != nil {
			return err
		}
	}
	return nil
}
