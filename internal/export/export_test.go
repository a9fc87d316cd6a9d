package export

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepywoodpecker/rp-goes-plot/internal/processing"
)

var snap = processing.Snapshot{
	Channels: []int{1, 3},
	X:        []float64{0, 0.25, 0.5},
	Series: [][]float64{
		{1.0, 1.1, 1.2},
		{2.0, 2.1, 2.2},
	},
}

type fakePNG struct {
	err error
}

func (f fakePNG) WritePNG(w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("\x89PNG"))
	return err
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, snap, "time", []string{"Channel 2", "Channel 4"}))

	assert.Equal(t, "time,Channel 2,Channel 4\n0,1,2\n0.25,1.1,2.1\n0.5,1.2,2.2\n", buf.String())
}

func TestCSVRejectsEmptyAndMismatchedNames(t *testing.T) {
	assert.ErrorIs(t, CSV(io.Discard, processing.Snapshot{}, "time", nil), ErrNoData)
	assert.Error(t, CSV(io.Discard, snap, "time", []string{"only one"}))
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	csvPath, pngPath, err := Files(dir, "run", snap, "time", []string{"a", "b"}, fakePNG{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "run.csv"), csvPath)
	assert.Equal(t, filepath.Join(dir, "run.png"), pngPath)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "time,a,b")

	data, err = os.ReadFile(pngPath)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(data))
}

func TestFilesPropagatesRenderError(t *testing.T) {
	_, _, err := Files(t.TempDir(), "run", snap, "time", []string{"a", "b"}, fakePNG{err: errors.New("boom")})
	assert.EqualError(t, err, "boom")
}

func TestDefaultName(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "plot_2024-03-09_14-05-07", DefaultName(now))
}
