package gwas

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGeno(t *testing.T, calls []int8) string {
	t.Helper()
	buf := make([]byte, len(calls))
	for i, c := range calls {
		buf[i] = byte(c)
	}
	p := filepath.Join(t.TempDir(), "geno.bin")
	require.NoError(t, os.WriteFile(p, buf, 0o644))
	return p
}

func TestGenoFileStreamRows(t *testing.T) {
	p := writeGeno(t, []int8{0, 1, 2, -1, 2, 0})
	gfs, err := NewGenoFileStream(p, 2, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 2, gfs.NumRows())
	assert.Equal(t, 3, gfs.NumCols())

	row, err := gfs.NextRow()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, row)
	row, err = gfs.NextRow()
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2, 0}, row)
	assert.Equal(t, 2, gfs.LineCount())

	row, err = gfs.NextRow()
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, gfs.Reset())
	row, err = gfs.NextRow()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, row)
}

func TestGenoFileStreamMissing(t *testing.T) {
	p := writeGeno(t, []int8{0, -1, 2, -1, 2, 1, -1, -1})
	gfs, err := NewGenoFileStream(p, 4, 2, true)
	require.NoError(t, err)

	means, err := gfs.ColumnMeans()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4.0 / 3, 1}, means, 1e-12)

	G, err := gfs.ToMatDense()
	require.NoError(t, err)
	assert.Equal(t, 0.0, G.At(0, 1))

	gfs.SetColMissingReplace(means)
	assert.Equal(t, means, gfs.ColMissingReplace())
	G, err = gfs.ToMatDense()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, G.At(0, 1), 1e-12)
	assert.InDelta(t, 4.0/3, G.At(3, 0), 1e-12)
	assert.Equal(t, 2.0, G.At(1, 0))
}

func TestGenoFileStreamSizeMismatch(t *testing.T) {
	p := writeGeno(t, []int8{0, 1, 2})
	_, err := NewGenoFileStream(p, 2, 2, false)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = LoadGenoBinary(p, 2)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestGenoFileStreamClosesOnReadError(t *testing.T) {
	p := writeGeno(t, []int8{0, 1, 2, 1})
	gfs, err := NewGenoFileStream(p, 2, 2, true)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(p, 3))

	_, err = gfs.ToMatDense()
	assert.Error(t, err)
	assert.Nil(t, gfs.file)

	_, err = gfs.ColumnMeans()
	assert.Error(t, err)
	assert.Nil(t, gfs.file)
	assert.NoError(t, gfs.Close())
}

func TestLoadGenoBinary(t *testing.T) {
	p := writeGeno(t, []int8{1, 0, -1, 2, 1, 0})
	G, err := LoadGenoBinary(p, 3)
	require.NoError(t, err)
	r, c := G.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 1.0, G.At(1, 0))
	assert.Equal(t, 2.0, G.At(1, 1))
}
