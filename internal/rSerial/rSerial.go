// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
	"sleepywoodpecker/rp-goes-plot/internal/source"
)

type Framing string

const (
	FramingLine		Framing = "line"
	FramingPacket	Framing = "packet"
)

const DEFAULT_READ_TIMEOUT = 5 * time.Millisecond
const DEFAULT_FRAME_TIMEOUT = time.Second
const MAX_LINE_LENGTH = 256

var errNoFrame = errors.New("no frame received from device")

type OutOfSyncError struct {
	ByteSequence 	[]byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] incorrect stop sequence detected: %v", e.ByteSequence)
}

// Source reads a serial-connected microcontroller. A background reader keeps
// the most recent frame; every tick takes the next fresh one.
type Source struct {
	serial.Port
	portName			string
	baudrate			int
	framing				Framing
	FrameTimeout	time.Duration
	RawLog				io.Writer
	open					func(name string, mode *serial.Mode) (serial.Port, error)
	logger				*zap.Logger

	mu						sync.Mutex
	columns				[]int
	axisColumn		int
	start					time.Time
	cancel				context.CancelFunc
	done					chan struct{}

	latestMutex		sync.Mutex
	latest				Frame
	fresh					chan struct{}
	lastNumber		int64
}

func NewSource(portName string, baudrate int, framing Framing, logger *zap.Logger) *Source {
	return &Source{
		portName:     portName,
		baudrate:     baudrate,
		framing:      framing,
		FrameTimeout: DEFAULT_FRAME_TIMEOUT,
		open:         serial.Open,
		logger:       logger,
		axisColumn:   -1,
		lastNumber:   -1,
	}
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func column(ch sample.Channel) (int, error) {
	if ch.Port == "" {
		return ch.Index, nil
	}
	col, err := strconv.Atoi(ch.Port)
	if err != nil || col < 0 {
		return 0, fmt.Errorf("column %q is not a non-negative integer", ch.Port)
	}
	return col, nil
}

// Configure (re)opens the port, resyncs on the stop sequence and starts the
// background reader.
func (r *Source) Configure(channels []sample.Channel, mode sample.XAxisMode) error {
	plotted, axis := source.Plan(channels, mode)

	columns := make([]int, 0, len(plotted))
	for _, ch := range plotted {
		col, err := column(ch)
		if err != nil {
			return &source.DeviceConfigError{Channel: ch.Name, Err: err}
		}
		if r.framing == FramingPacket && col >= NumReadingsPerPacket {
			return &source.DeviceConfigError{Channel: ch.Name, Err: fmt.Errorf("packet has no column %d", col)}
		}
		columns = append(columns, col)
	}
	axisColumn := -1
	if axis != nil {
		col, err := column(*axis)
		if err != nil {
			return &source.DeviceConfigError{Channel: axis.Name, Err: err}
		}
		axisColumn = col
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()

	port, err := r.open(r.portName, &serial.Mode{BaudRate: r.baudrate})
	if err != nil {
		r.logger.Warn("[rserial] error opening serial port", zap.Error(err), zap.String("portName", r.portName))
		return &source.DeviceConfigError{Channel: r.portName, Err: err}
	}
	r.Port = port
	r.columns = columns
	r.axisColumn = axisColumn
	r.start = time.Now()
	r.fresh = make(chan struct{}, 1)
	r.lastNumber = -1

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.Run(ctx, r.done)

	r.logger.Info("[rserial] configured", zap.String("portName", r.portName), zap.Ints("columns", columns), zap.Int("axisColumn", axisColumn))
	return nil
}

func (r *Source) initialize(ctx context.Context) {
	if err := r.SetReadTimeout(DEFAULT_READ_TIMEOUT); err != nil {
		r.logger.Warn("[rserial] could not set read timeout", zap.Error(err), zap.String("portName", r.portName))
	}
	if err := r.ResetInputBuffer(); err != nil {
		r.logger.Warn("[rserial] could not reset input buffer", zap.Error(err), zap.String("portName", r.portName))
	}
	r.sync(ctx)
}

// Run reads frames until ctx is cancelled or the port is closed.
func (r *Source) Run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	r.initialize(ctx)

	for {
		select {
		case <- ctx.Done():
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.portName))
			return
		default:
			frame, err := r.ReadFrame(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				var oosError *OutOfSyncError
				if errors.As(err, &oosError) {
					r.logger.Warn("Error while attempting to read packet from serial", zap.Error(err) ,zap.String("portName", r.portName), zap.ByteString("payload", oosError.ByteSequence))
					r.sync(ctx)
					continue
				}
				var decodeError *DecodeError
				if errors.As(err, &decodeError) {
					r.logger.Warn("Error while attempting to decode packet from serial", zap.Error(err) ,zap.String("portName", r.portName))
					continue
				}
				// the port is gone, ticks time out until the pump reconfigures
				r.logger.Error("[rserial] serial port failed", zap.Error(err), zap.String("portName", r.portName))
				return
			}
			r.store(frame)
		}
	}
}

func (r *Source) store(frame Frame) {
	r.latestMutex.Lock()
	if r.framing == FramingPacket && r.lastNumber >= 0 && int64(frame.Number) != r.lastNumber + 1 {
		r.logger.Warn("[rserial] packets dropped", zap.Int64("expected", r.lastNumber + 1), zap.Uint32("got", frame.Number))
	}
	r.lastNumber = int64(frame.Number)
	r.latest = frame
	r.latestMutex.Unlock()

	if r.RawLog != nil {
		if err := WriteRaw(r.RawLog, frame); err != nil {
			r.logger.Warn("[rserial] error writing raw log", zap.Error(err))
		}
	}

	select {
	case r.fresh <- struct{}{}:
	default:
	}
}

func (r *Source) ReadFrame(ctx context.Context) (Frame, error) {
	if r.framing == FramingPacket {
		return r.ReadPacket(ctx)
	}
	return r.ReadLine(ctx)
}

func (r *Source) ReadPacket(ctx context.Context) (Frame, error) {
	rawPacketSize := PacketSize + len(StopSequence)
	tempBuff := make([]byte, rawPacketSize)

	count := 0
	for count < rawPacketSize {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		n, err := r.Read(tempBuff[count:])
		if err != nil {
			return Frame{}, err
		}
		count += n
	}

	// validate that the packet is valid by checking the last 2 characters of the packet
	if !bytes.Equal(tempBuff[rawPacketSize - len(StopSequence):], StopSequence) {
		return Frame{}, &OutOfSyncError{
			ByteSequence: tempBuff,
		}
	}

	return DecodePacket(tempBuff)
}

func (r *Source) ReadLine(ctx context.Context) (Frame, error) {
	line := make([]byte, 0, 64)
	onebyte := make([]byte, 1)

	for {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		n, err := r.Read(onebyte)
		if err != nil {
			return Frame{}, err
		}
		if n == 0 {
			continue
		}
		if onebyte[0] == '\n' {
			return DecodeLine(line)
		}
		line = append(line, onebyte[0])
		if len(line) > MAX_LINE_LENGTH {
			return Frame{}, &OutOfSyncError{ByteSequence: line}
		}
	}
}

func (r *Source) sync(ctx context.Context) {
	r.logger.Warn("Resyncing serial port", zap.String("portName", r.portName))
	onebyte := make([]byte, 1)

	for onebyte[0] != StopSequence[len(StopSequence) - 1] {
		if ctx.Err() != nil {
			return
		}
		_, err := r.Read(onebyte)
		if err != nil {
			r.logger.Warn("Error while resyncing serial port", zap.Error(err) ,zap.String("portName", r.portName))
			return
		}
	}
}

// ReadOneTick waits for a frame newer than the last tick and maps its
// columns onto the configured channels.
func (r *Source) ReadOneTick() (sample.Sample, error) {
	r.mu.Lock()
	columns, axisColumn, start, fresh := r.columns, r.axisColumn, r.start, r.fresh
	r.mu.Unlock()

	if fresh == nil {
		return sample.Sample{}, &source.AcquisitionError{Source: r.portName, Err: errors.New("port not configured")}
	}

	select {
	case <-fresh:
	case <-time.After(r.FrameTimeout):
		return sample.Sample{}, &source.AcquisitionError{Source: r.portName, Err: errNoFrame}
	}

	r.latestMutex.Lock()
	frame := r.latest
	r.latestMutex.Unlock()

	s := sample.Sample{
		Readings: make([]float64, len(columns)),
		X:        time.Since(start).Seconds(),
	}
	for i, col := range columns {
		if col >= len(frame.Values) {
			return sample.Sample{}, &source.AcquisitionError{
				Source: r.portName,
				Err:    fmt.Errorf("frame has %d columns, need column %d", len(frame.Values), col),
			}
		}
		s.Readings[i] = frame.Values[col]
	}
	if err := checkFinite(s.Readings); err != nil {
		return sample.Sample{}, &source.AcquisitionError{Source: r.portName, Err: err}
	}
	if axisColumn >= 0 {
		if axisColumn >= len(frame.Values) {
			return sample.Sample{}, &source.AcquisitionError{
				Source: r.portName,
				Err:    fmt.Errorf("frame has %d columns, need axis column %d", len(frame.Values), axisColumn),
			}
		}
		s.X = frame.Values[axisColumn]
		if err := checkFinite([]float64{s.X}); err != nil {
			return sample.Sample{}, &source.AcquisitionError{Source: r.portName, Err: err}
		}
	}
	return s, nil
}

// checkFinite guards binary frames, which carry raw float32 values.
func checkFinite(values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("value %d: %w", i, errNonFinite)
		}
	}
	return nil
}

func (r *Source) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
}

// closeLocked stops the reader and closes the port. Closing the port
// unblocks a pending Read.
func (r *Source) closeLocked() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Port != nil {
		if err := r.Port.Close(); err != nil {
			r.logger.Warn("[rserial] error closing serial port", zap.Error(err), zap.String("portName", r.portName))
		}
	}
	if r.done != nil {
		<-r.done
	}
	r.Port = nil
	r.cancel = nil
	r.done = nil
	r.fresh = nil
}
