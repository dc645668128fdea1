package ncio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name  string
		in    interface{}
		shape []int
		data  []float64
	}{
		{"vector float64", []float64{1, 2, 3}, []int{3}, []float64{1, 2, 3}},
		{"matrix float32", [][]float32{{1, 2}, {3, 4}}, []int{2, 2}, []float64{1, 2, 3, 4}},
		{"cube int32", [][][]int32{{{1}, {2}}, {{3}, {4}}}, []int{2, 2, 1}, []float64{1, 2, 3, 4}},
		{"scalar", float64(7), nil, []float64{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr, err := Flatten(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, arr.Shape)
			assert.Equal(t, tt.data, arr.Data)
		})
	}
}

func TestFlatten_Ragged(t *testing.T) {
	_, err := Flatten([][]float64{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestFlatten_Strings(t *testing.T) {
	_, err := Flatten([]string{"a"})
	assert.Error(t, err)
}

func TestNestRoundTrip(t *testing.T) {
	a := NewArray(2, 3, 4)
	for i := range a.Data {
		a.Data[i] = float64(i)
	}
	nested, ok := Nest(a).([][][]float64)
	require.True(t, ok)
	assert.Equal(t, 23.0, nested[1][2][3])
	assert.Equal(t, a.At(1, 0, 2), nested[1][0][2])

	back, err := Flatten(nested)
	require.NoError(t, err)
	assert.Equal(t, a.Data, back.Data)
}

func TestArrayIndexing(t *testing.T) {
	a := NewArray(2, 3)
	a.Set(5, 1, 2)
	assert.Equal(t, 5.0, a.Data[5])
	assert.Equal(t, 3, a.Stride(0))
	assert.Equal(t, 1, a.Stride(1))

	row := a.Sub(1)
	assert.Equal(t, []int{3}, row.Shape)
	row.Data[0] = 9
	assert.Equal(t, 9.0, a.At(1, 0))

	assert.Panics(t, func() { a.At(2, 0) })
}

func TestWrap(t *testing.T) {
	_, err := Wrap(make([]float64, 5), 2, 3)
	assert.Error(t, err)

	a, err := Wrap(make([]float64, 6), 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Rank())
}

func TestFlip(t *testing.T) {
	a, err := Wrap([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
	require.NoError(t, err)

	rows := a.Flip(0)
	assert.Equal(t, []float64{5, 6, 3, 4, 1, 2}, rows.Data)

	cols := a.Flip(1)
	assert.Equal(t, []float64{2, 1, 4, 3, 6, 5}, cols.Data)

	// original untouched
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, a.Data)
}

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "field.nc")

	field := NewArray(2, 3)
	for i := range field.Data {
		field.Data[i] = float64(i) * 0.5
	}

	ds := &Dataset{Attrs: []Attr{{Key: "author", Value: "tester"}}}
	ds.Add(Coord("lat", []float64{-10, 10}))
	ds.Add(Coord("lon", []float64{0, 120, 240}))
	ds.Add(Variable{
		Name:  "q",
		Dims:  []string{"lat", "lon"},
		Array: field,
		Attrs: []Attr{{Key: "long_name", Value: "specific humidity"}},
	})
	require.NoError(t, Write(path, ds))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.True(t, f.Has("q"))
	got, err := f.Array("q")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got.Shape)
	assert.Equal(t, field.Data, got.Data)

	lon, err := f.Vector("lon")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 120, 240}, lon)

	author, ok := f.Attr("author")
	require.True(t, ok)
	assert.Equal(t, "tester", author)
	_, ok = f.Attr("email")
	assert.False(t, ok)

	_, err = f.Vector("q")
	assert.Error(t, err)

	_, err = f.Array("missing")
	assert.ErrorIs(t, err, ErrNoVariable)
}

func TestAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qk.nc")

	first := &Dataset{}
	first.Add(Coord("lat", []float64{1, 2}))
	first.Add(Variable{Name: "a", Dims: []string{"lat"}, Array: &Array{Data: []float64{1, 1}, Shape: []int{2}}})
	require.NoError(t, Append(path, first))

	second := &Dataset{}
	second.Add(Coord("lat", []float64{1, 2}))
	second.Add(Variable{Name: "b", Dims: []string{"lat"}, Array: &Array{Data: []float64{2, 2}, Shape: []int{2}}})
	require.NoError(t, Append(path, second))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"lat", "a", "b"}, f.Variables())
	b, err := f.Vector("b")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, b)
}

func TestWrite_RankMismatch(t *testing.T) {
	ds := &Dataset{}
	ds.Add(Variable{Name: "bad", Dims: []string{"x"}, Array: NewArray(2, 2)})
	err := Write(filepath.Join(t.TempDir(), "bad.nc"), ds)
	assert.Error(t, err)
}
