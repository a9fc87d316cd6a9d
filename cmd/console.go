package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/export"
	"sleepywoodpecker/rp-goes-plot/internal/plot"
	"sleepywoodpecker/rp-goes-plot/internal/processing"
	"sleepywoodpecker/rp-goes-plot/internal/sample"
	"sleepywoodpecker/rp-goes-plot/internal/session"
)

const HELP = `commands:
  start | stop | clear
  channels <n>[,<n>...]       plot these channels (1-4)
  xaxis time|channel<n>
  range <seconds>             trailing window in time mode
  ybounds <lo> <hi> | xbounds <lo> <hi>
  autoscale x|y on|off
  style line|scatter|both
  labels <x label>; <y label>
  export [name]
  status | help | quit`

var errUsage = errors.New("usage")

// console binds text commands to the session controller.
type console struct {
	ctrl				*session.Controller
	png					export.PNGWriter
	exportDir		string
	out					io.Writer
	logger			*zap.Logger
}

// Run executes lines from in until quit, EOF or ctx is done.
func (c *console) Run(ctx context.Context, in io.Reader) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := c.Execute(line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
				c.logger.Debug("[console] command failed", zap.String("command", line), zap.Error(err))
			}
			if quit {
				return
			}
		}
	}
}

func (c *console) Execute(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(c.out, HELP)
		return false, nil
	case "start":
		return false, c.ctrl.Start()
	case "stop":
		return false, c.ctrl.Stop()
	case "clear":
		return false, c.ctrl.Clear()
	case "status":
		c.printStatus()
		return false, nil
	case "channels":
		sel, err := parseSelection(args)
		if err != nil {
			return false, err
		}
		return false, c.ctrl.ReconfigureChannels(sel)
	case "xaxis":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: xaxis time|channel<n>", errUsage)
		}
		mode, err := sample.ParseXAxisMode(args[0])
		if err != nil {
			return false, err
		}
		return false, c.ctrl.ChangeXAxisMode(mode)
	case "range":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: range <seconds>", errUsage)
		}
		r, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, err
		}
		return false, c.ctrl.SetWindowRange(r)
	case "ybounds", "xbounds":
		lo, hi, err := parseBounds(args)
		if err != nil {
			return false, err
		}
		if cmd == "ybounds" {
			return false, c.ctrl.SetYBounds(lo, hi)
		}
		return false, c.ctrl.SetXBounds(lo, hi)
	case "autoscale":
		axis, on, err := parseAutoscale(args)
		if err != nil {
			return false, err
		}
		c.ctrl.SetAutoscale(axis, on)
		return false, nil
	case "style":
		style, err := parseStyle(args)
		if err != nil {
			return false, err
		}
		c.ctrl.SetPlotStyle(style)
		return false, nil
	case "labels":
		xLabel, yLabel, ok := strings.Cut(strings.Join(args, " "), ";")
		if !ok {
			return false, fmt.Errorf("%w: labels <x label>; <y label>", errUsage)
		}
		c.ctrl.SetLabels(strings.TrimSpace(xLabel), strings.TrimSpace(yLabel))
		return false, nil
	case "export":
		name := export.DefaultName(time.Now())
		if len(args) > 0 {
			name = args[0]
		}
		csvPath, pngPath, err := c.ctrl.Export(c.exportDir, name, c.png)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "wrote %s and %s\n", csvPath, pngPath)
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q, try help", cmd)
}

func (c *console) printStatus() {
	w := c.ctrl.Window()
	fmt.Fprintf(c.out, "state=%s session=%s xaxis=%s channels=%v samples=%d range=%g\n",
		c.ctrl.State(), c.ctrl.SessionID(), c.ctrl.XAxisMode(), oneBased(c.ctrl.Selection().Indices()), c.ctrl.Snapshot().Len(), w.Range)
	if err := c.ctrl.LastError(); err != nil {
		fmt.Fprintf(c.out, "last error: %v\n", err)
	}
}

func oneBased(indices []int) []int {
	out := make([]int, len(indices))
	for i, idx := range indices {
		out[i] = idx + 1
	}
	return out
}

// parseSelection accepts "1,3" or "1 3".
func parseSelection(args []string) (sample.Selection, error) {
	var sel sample.Selection
	fields := strings.FieldsFunc(strings.Join(args, " "), func(r rune) bool { return r == ',' || r == ' ' })
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > sample.NumChannels {
			return sel, fmt.Errorf("%w: channel numbers are 1-%d, got %q", errUsage, sample.NumChannels, f)
		}
		sel[n-1] = true
	}
	return sel, nil
}

func parseBounds(args []string) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%w: <lo> <hi>", errUsage)
	}
	lo, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, err
	}
	hi, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

func parseAutoscale(args []string) (processing.Axis, bool, error) {
	if len(args) != 2 {
		return 0, false, fmt.Errorf("%w: autoscale x|y on|off", errUsage)
	}

	var axis processing.Axis
	switch strings.ToLower(args[0]) {
	case "x":
		axis = processing.AxisX
	case "y":
		axis = processing.AxisY
	default:
		return 0, false, fmt.Errorf("%w: unknown axis %q", errUsage, args[0])
	}

	switch strings.ToLower(args[1]) {
	case "on":
		return axis, true, nil
	case "off":
		return axis, false, nil
	}
	return 0, false, fmt.Errorf("%w: autoscale takes on or off", errUsage)
}

func parseStyle(args []string) (plot.Style, error) {
	if len(args) != 1 {
		return plot.Style{}, fmt.Errorf("%w: style line|scatter|both", errUsage)
	}
	switch strings.ToLower(args[0]) {
	case "line":
		return plot.Style{Line: true}, nil
	case "scatter":
		return plot.Style{Scatter: true}, nil
	case "both":
		return plot.Style{Line: true, Scatter: true}, nil
	}
	return plot.Style{}, fmt.Errorf("%w: unknown style %q", errUsage, args[0])
}
