package ncio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Attr is a single NetCDF attribute. Value is a string or a numeric
// scalar/slice.
type Attr struct {
	Key   string
	Value interface{}
}

// Variable is a named array to be written. Exactly one of Array or Int32
// is set; Int32 is used for integer index coordinates.
type Variable struct {
	Name  string
	Dims  []string
	Array *Array
	Int32 []int32
	Attrs []Attr
}

// Dataset is an ordered collection of variables plus global attributes.
type Dataset struct {
	Vars  []Variable
	Attrs []Attr
}

func (d *Dataset) Add(v Variable) {
	d.Vars = append(d.Vars, v)
}

// Coord builds a one-dimensional coordinate variable named after its
// dimension.
func Coord(name string, values []float64, attrs ...Attr) Variable {
	return Variable{
		Name:  name,
		Dims:  []string{name},
		Array: &Array{Data: values, Shape: []int{len(values)}},
		Attrs: attrs,
	}
}

// IndexCoord builds an integer coordinate 0..n-1.
func IndexCoord(name string, n int) Variable {
	idx := make([]int32, n)
	for i := range idx {
		idx[i] = int32(i)
	}
	return Variable{Name: name, Dims: []string{name}, Int32: idx}
}

func (v Variable) apiVariable() (api.Variable, error) {
	attrs, err := attrMap(v.Attrs)
	if err != nil {
		return api.Variable{}, fmt.Errorf("attributes of %q: %w", v.Name, err)
	}
	switch {
	case v.Int32 != nil:
		if len(v.Dims) != 1 {
			return api.Variable{}, fmt.Errorf("integer variable %q must be 1-D", v.Name)
		}
		return api.Variable{Values: v.Int32, Dimensions: v.Dims, Attributes: attrs}, nil
	case v.Array != nil:
		if len(v.Dims) != v.Array.Rank() {
			return api.Variable{}, fmt.Errorf("variable %q: %d dimension names for rank %d", v.Name, len(v.Dims), v.Array.Rank())
		}
		return api.Variable{Values: Nest(v.Array), Dimensions: v.Dims, Attributes: attrs}, nil
	default:
		return api.Variable{}, fmt.Errorf("variable %q has no values", v.Name)
	}
}

func attrMap(attrs []Attr) (api.AttributeMap, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(attrs))
	vals := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		if _, dup := vals[a.Key]; !dup {
			keys = append(keys, a.Key)
		}
		vals[a.Key] = a.Value
	}
	return util.NewOrderedMap(keys, vals)
}

// Nest converts a flat array into the nested slices expected by the
// CDF writer.
func Nest(a *Array) interface{} {
	if a.Rank() == 0 {
		return a.Data[0]
	}
	return nest(reflect.TypeOf(float64(0)), a.Data, a.Shape).Interface()
}

func nest(elem reflect.Type, data []float64, shape []int) reflect.Value {
	if len(shape) == 1 {
		return reflect.ValueOf(append([]float64(nil), data...))
	}
	t := elem
	for range shape {
		t = reflect.SliceOf(t)
	}
	out := reflect.MakeSlice(t, shape[0], shape[0])
	step := len(data) / max(shape[0], 1)
	for i := 0; i < shape[0]; i++ {
		out.Index(i).Set(nest(elem, data[i*step:(i+1)*step], shape[1:]))
	}
	return out
}

// Write creates path (replacing any existing file) holding ds.
func Write(path string, ds *Dataset) error {
	vars := make([]namedVar, 0, len(ds.Vars))
	for _, v := range ds.Vars {
		av, err := v.apiVariable()
		if err != nil {
			return err
		}
		vars = append(vars, namedVar{name: v.Name, v: av})
	}
	global, err := attrMap(ds.Attrs)
	if err != nil {
		return fmt.Errorf("global attributes: %w", err)
	}
	return writeAtomic(path, vars, global)
}

// Append adds the variables of ds to an existing file, replacing any
// variable of the same name, and merges the global attributes. When
// path does not exist it behaves like Write.
func Append(path string, ds *Dataset) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Write(path, ds)
	}

	f, err := Open(path)
	if err != nil {
		return err
	}
	existing, order, err := f.raw()
	var oldAttrs api.AttributeMap
	if err == nil {
		oldAttrs = f.nc.Attributes()
	}
	f.Close()
	if err != nil {
		return err
	}

	replaced := make(map[string]bool, len(ds.Vars))
	for _, v := range ds.Vars {
		replaced[v.Name] = true
	}

	vars := make([]namedVar, 0, len(order)+len(ds.Vars))
	for _, name := range order {
		if replaced[name] {
			continue
		}
		vars = append(vars, namedVar{name: name, v: *existing[name]})
	}
	for _, v := range ds.Vars {
		av, err := v.apiVariable()
		if err != nil {
			return err
		}
		vars = append(vars, namedVar{name: v.Name, v: av})
	}

	merged := mergeAttrs(oldAttrs, ds.Attrs)
	global, err := attrMap(merged)
	if err != nil {
		return fmt.Errorf("global attributes: %w", err)
	}
	return writeAtomic(path, vars, global)
}

func mergeAttrs(old api.AttributeMap, add []Attr) []Attr {
	var out []Attr
	if old != nil {
		for _, k := range old.Keys() {
			v, _ := old.Get(k)
			out = append(out, Attr{Key: k, Value: v})
		}
	}
	return append(out, add...)
}

type namedVar struct {
	name string
	v    api.Variable
}

func writeAtomic(path string, vars []namedVar, global api.AttributeMap) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp"
	cw, err := cdf.OpenWriter(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	for _, nv := range vars {
		if err := cw.AddVar(nv.name, nv.v); err != nil {
			cw.Close()
			os.Remove(tmp)
			return fmt.Errorf("add variable %q: %w", nv.name, err)
		}
	}
	if global != nil {
		if err := cw.AddAttributes(global); err != nil {
			cw.Close()
			os.Remove(tmp)
			return fmt.Errorf("add global attributes: %w", err)
		}
	}
	if err := cw.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
