package gwas

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// GenoFileStream reads a binary candidate matrix one sample row at a time.
// Each entry is a signed byte; negative entries are missing calls.
type GenoFileStream struct {
	filename  string
	file      *os.File
	reader    *bufio.Reader
	numRows   int
	numCols   int
	lineCount int
	buf       []byte

	missingColReplace []float64
	replaceMissing    bool
}

// NewGenoFileStream opens a numRow x numCol stream. With replaceMissing set,
// missing calls read as the column replacement (zero until one is set).
func NewGenoFileStream(filename string, numRow, numCol int, replaceMissing bool) (*GenoFileStream, error) {
	if numRow <= 0 || numCol <= 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%s: %dx%d stream", filename, numRow, numCol)
	}
	info, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	if info.Size() != int64(numRow)*int64(numCol) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%s holds %d bytes, want %dx%d", filename, info.Size(), numRow, numCol)
	}
	gfs := &GenoFileStream{
		filename:       filename,
		buf:            make([]byte, numCol),
		numRows:        numRow,
		numCols:        numCol,
		replaceMissing: replaceMissing,
	}
	if err := gfs.Reset(); err != nil {
		return nil, err
	}
	return gfs, nil
}

func (gfs *GenoFileStream) readRow() ([]float64, error) {
	if _, err := io.ReadFull(gfs.reader, gfs.buf); err != nil {
		return nil, errors.Wrapf(err, "%s row %d", gfs.filename, gfs.lineCount)
	}
	row := make([]float64, gfs.numCols)
	for i, b := range gfs.buf {
		row[i] = float64(int8(b))
		if gfs.replaceMissing && row[i] < 0 {
			if gfs.missingColReplace != nil {
				row[i] = gfs.missingColReplace[i]
			} else {
				row[i] = 0
			}
		}
	}
	gfs.lineCount++
	return row, nil
}

// Reset rewinds the stream to the first row.
func (gfs *GenoFileStream) Reset() error {
	var err error
	if gfs.file == nil {
		gfs.file, err = os.Open(gfs.filename)
	} else {
		_, err = gfs.file.Seek(0, io.SeekStart)
	}
	if err != nil {
		return err
	}
	gfs.reader = bufio.NewReader(gfs.file)
	gfs.lineCount = 0
	return nil
}

func (gfs *GenoFileStream) NumRows() int {
	return gfs.numRows
}

func (gfs *GenoFileStream) NumCols() int {
	return gfs.numCols
}

func (gfs *GenoFileStream) LineCount() int {
	return gfs.lineCount
}

// CheckEOF reports whether every row has been read, closing the file once
// it has.
func (gfs *GenoFileStream) CheckEOF() bool {
	if gfs.lineCount >= gfs.numRows {
		gfs.Close()
		return true
	}
	return false
}

// Close releases the file. A later Reset reopens it.
func (gfs *GenoFileStream) Close() error {
	if gfs.file == nil {
		return nil
	}
	err := gfs.file.Close()
	gfs.file = nil
	gfs.reader = nil
	return err
}

// NextRow returns the next row, or nil at the end of the stream.
func (gfs *GenoFileStream) NextRow() ([]float64, error) {
	if gfs.CheckEOF() {
		return nil, nil
	}
	return gfs.readRow()
}

func (gfs *GenoFileStream) SetColMissingReplace(a []float64) {
	if a != nil && len(a) != gfs.numCols {
		panic("Invalid length of input array")
	}
	gfs.missingColReplace = a
}

func (gfs *GenoFileStream) ColMissingReplace() []float64 {
	return gfs.missingColReplace
}

// ColumnMeans makes one pass over the stream and returns the mean of the
// observed calls of every column. A column with no observed call has mean
// zero. The stream is rewound afterwards.
func (gfs *GenoFileStream) ColumnMeans() ([]float64, error) {
	if err := gfs.Reset(); err != nil {
		return nil, err
	}
	sum := make([]float64, gfs.numCols)
	count := make([]int, gfs.numCols)
	for gfs.lineCount < gfs.numRows {
		if _, err := io.ReadFull(gfs.reader, gfs.buf); err != nil {
			gfs.Close()
			return nil, errors.Wrapf(err, "%s row %d", gfs.filename, gfs.lineCount)
		}
		for i, b := range gfs.buf {
			if v := int8(b); v >= 0 {
				sum[i] += float64(v)
				count[i]++
			}
		}
		gfs.lineCount++
	}
	for i := range sum {
		if count[i] > 0 {
			sum[i] /= float64(count[i])
		}
	}
	return sum, gfs.Reset()
}

// ToMatDense reads the whole stream from the start.
func (gfs *GenoFileStream) ToMatDense() (*mat.Dense, error) {
	if err := gfs.Reset(); err != nil {
		return nil, err
	}
	A := mat.NewDense(gfs.numRows, gfs.numCols, nil)
	for i := 0; i < gfs.numRows; i++ {
		row, err := gfs.NextRow()
		if err != nil {
			gfs.Close()
			return nil, err
		}
		A.SetRow(i, row)
	}
	gfs.CheckEOF()
	return A, nil
}

// LoadGenoBinary reads a samples x candidates binary file whose sample count
// is known, imputing missing calls with the candidate mean.
func LoadGenoBinary(filename string, numSamples int) (*mat.Dense, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	if numSamples <= 0 || info.Size()%int64(numSamples) != 0 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%s holds %d bytes, not a multiple of %d samples", filename, info.Size(), numSamples)
	}
	gfs, err := NewGenoFileStream(filename, numSamples, int(info.Size()/int64(numSamples)), true)
	if err != nil {
		return nil, err
	}
	defer gfs.Close()
	means, err := gfs.ColumnMeans()
	if err != nil {
		return nil, err
	}
	gfs.SetColMissingReplace(means)
	return gfs.ToMatDense()
}
