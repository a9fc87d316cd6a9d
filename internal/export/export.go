// Package export writes a finished session to flat files.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"sleepywoodpecker/rp-goes-plot/internal/processing"
)

const DefaultNameLayout = "plot_2006-01-02_15-04-05"

var (
	ErrPlotting = errors.New("stop plotting before exporting")
	ErrNoData   = errors.New("there is no data to export")
)

// PNGWriter renders the current plot.
type PNGWriter interface {
	WritePNG(w io.Writer) error
}

type PNGFunc func(w io.Writer) error

func (f PNGFunc) WritePNG(w io.Writer) error {
	return f(w)
}

// DefaultName is the file stem used when the user gives none.
func DefaultName(now time.Time) string {
	return now.Format(DefaultNameLayout)
}

// CSV writes one row per sample index: the x value followed by one column
// per plotted channel.
func CSV(w io.Writer, snap processing.Snapshot, xLabel string, names []string) error {
	if len(snap.X) == 0 {
		return ErrNoData
	}
	if len(names) != len(snap.Series) {
		return fmt.Errorf("[export] %d column names for %d series", len(names), len(snap.Series))
	}

	cw := csv.NewWriter(w)
	header := append([]string{xLabel}, names...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, x := range snap.X {
		row[0] = strconv.FormatFloat(x, 'g', -1, 64)
		for ch, series := range snap.Series {
			row[ch+1] = strconv.FormatFloat(series[i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Files writes <dir>/<name>.csv and <dir>/<name>.png and returns their paths.
func Files(dir, name string, snap processing.Snapshot, xLabel string, names []string, img PNGWriter) (csvPath, pngPath string, err error) {
	if len(snap.X) == 0 {
		return "", "", ErrNoData
	}
	if name == "" {
		name = DefaultName(time.Now())
	}

	csvPath = filepath.Join(dir, name+".csv")
	if err := writeFile(csvPath, func(w io.Writer) error {
		return CSV(w, snap, xLabel, names)
	}); err != nil {
		return "", "", err
	}

	if img == nil {
		return csvPath, "", nil
	}
	pngPath = filepath.Join(dir, name+".png")
	if err := writeFile(pngPath, img.WritePNG); err != nil {
		return csvPath, "", err
	}
	return csvPath, pngPath, nil
}

func writeFile(path string, fill func(io.Writer) error) (err error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	writer := bufio.NewWriter(file)
	if err := fill(writer); err != nil {
		return err
	}
	return writer.Flush()
}
