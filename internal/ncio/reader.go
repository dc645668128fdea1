// Package ncio reads and writes the NetCDF files exchanged between the
// qmodes batch jobs.
package ncio

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

var ErrNoVariable = errors.New("variable not found")

// File is an open NetCDF file (classic CDF or HDF5 based NetCDF-4).
type File struct {
	path string
	nc   api.Group
}

func Open(path string) (*File, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &File{path: path, nc: nc}, nil
}

func (f *File) Close() {
	f.nc.Close()
}

func (f *File) Path() string { return f.path }

func (f *File) Variables() []string {
	return f.nc.ListVariables()
}

func (f *File) Has(name string) bool {
	for _, v := range f.nc.ListVariables() {
		if v == name {
			return true
		}
	}
	return false
}

// Array reads a numeric variable of any rank into a flat float64 array.
func (f *File) Array(name string) (*Array, error) {
	if !f.Has(name) {
		return nil, fmt.Errorf("%s: %q: %w", f.path, name, ErrNoVariable)
	}
	vr, err := f.nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%s: read %q: %w", f.path, name, err)
	}
	arr, err := Flatten(vr.Values)
	if err != nil {
		return nil, fmt.Errorf("%s: decode %q: %w", f.path, name, err)
	}
	return arr, nil
}

// Vector reads a one-dimensional variable.
func (f *File) Vector(name string) ([]float64, error) {
	arr, err := f.Array(name)
	if err != nil {
		return nil, err
	}
	if arr.Rank() != 1 {
		return nil, fmt.Errorf("%s: %q has rank %d, want 1", f.path, name, arr.Rank())
	}
	return arr.Data, nil
}

// Attr returns a global attribute.
func (f *File) Attr(key string) (interface{}, bool) {
	attrs := f.nc.Attributes()
	if attrs == nil {
		return nil, false
	}
	return attrs.Get(key)
}

// Dimensions returns the dimension names of a variable.
func (f *File) Dimensions(name string) ([]string, error) {
	vr, err := f.nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", f.path, name, err)
	}
	return vr.Dimensions(), nil
}

// raw returns every variable as stored so it can be rewritten untouched.
func (f *File) raw() (map[string]*api.Variable, []string, error) {
	names := f.nc.ListVariables()
	vars := make(map[string]*api.Variable, len(names))
	for _, name := range names {
		vr, err := f.nc.GetVariable(name)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: read %q: %w", f.path, name, err)
		}
		vars[name] = vr
	}
	return vars, names, nil
}

// Flatten converts the nested slices returned by the NetCDF reader into
// an Array. Scalars become rank-0 arrays.
func Flatten(values interface{}) (*Array, error) {
	v := reflect.ValueOf(values)
	if !v.IsValid() {
		return nil, errors.New("nil values")
	}

	var shape []int
	for t := v; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}

	out := &Array{Shape: shape}
	n := 1
	for _, s := range shape {
		n *= s
	}
	out.Data = make([]float64, 0, n)
	if err := appendValues(&out.Data, v, shape); err != nil {
		return nil, err
	}
	if len(out.Data) != n {
		return nil, fmt.Errorf("ragged array: shape %v but %d values", shape, len(out.Data))
	}
	return out, nil
}

func appendValues(dst *[]float64, v reflect.Value, shape []int) error {
	if v.Kind() == reflect.Slice {
		if len(shape) == 0 || v.Len() != shape[0] {
			return fmt.Errorf("ragged array at length %d", v.Len())
		}
		// fast paths for the innermost dimension
		switch s := v.Interface().(type) {
		case []float64:
			*dst = append(*dst, s...)
			return nil
		case []float32:
			for _, x := range s {
				*dst = append(*dst, float64(x))
			}
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := appendValues(dst, v.Index(i), shape[1:]); err != nil {
				return err
			}
		}
		return nil
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		*dst = append(*dst, v.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*dst = append(*dst, float64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*dst = append(*dst, float64(v.Uint()))
	default:
		return fmt.Errorf("unsupported element type %s", v.Type())
	}
	return nil
}
