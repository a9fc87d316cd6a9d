package rserial

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unsafe"
)

const NumReadingsPerPacket = 8

type DataPacket struct {
	PacketNumber	uint32
	Timestamp    	uint32
	RawReadings 	[NumReadingsPerPacket]float32
}

const PacketSize = int(unsafe.Sizeof(DataPacket{}))

var StopSequence = []byte{'\r', '\n'}

var errEmptyLine = errors.New("empty line")
var errNonFinite = errors.New("reading is not a finite number")

// Frame is one decoded message from the device: the value of every column
// it reports.
type Frame struct {
	Number	uint32
	Values	[]float64
}

type DecodeError struct {
	Payload	[]byte
	Err			error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("[rserial] could not decode %q: %v", e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func DecodePacket(packet []byte) (Frame, error) {
	if len(packet) < PacketSize {
		return Frame{}, &DecodeError{Payload: packet, Err: fmt.Errorf("packet has %d bytes, need %d", len(packet), PacketSize)}
	}

	var decoded DataPacket
	if err := binary.Read(bytes.NewReader(packet[:PacketSize]), binary.LittleEndian, &decoded); err != nil {
		return Frame{}, &DecodeError{Payload: packet, Err: err}
	}

	frame := Frame{
		Number: decoded.PacketNumber,
		Values: make([]float64, NumReadingsPerPacket),
	}
	for i, reading := range decoded.RawReadings {
		frame.Values[i] = float64(reading)
	}
	return frame, nil
}

// DecodeLine parses a text line of comma separated readings, the format a
// microcontroller printing with println produces.
func DecodeLine(line []byte) (Frame, error) {
	text := strings.TrimSpace(string(line))
	if text == "" {
		return Frame{}, &DecodeError{Payload: line, Err: errEmptyLine}
	}

	fields := strings.Split(text, ",")
	frame := Frame{Values: make([]float64, len(fields))}
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Frame{}, &DecodeError{Payload: line, Err: err}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Frame{}, &DecodeError{Payload: line, Err: fmt.Errorf("column %d: %w", i, errNonFinite)}
		}
		frame.Values[i] = v
	}
	return frame, nil
}

// WriteRaw appends the frame to a raw CSV log.
func WriteRaw(out io.Writer, frame Frame) error {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(frame.Number), 10))
	for _, v := range frame.Values {
		fmt.Fprintf(&b, ",%.2f", v)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(out, b.String())
	return err
}
