package source

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

const DEFAULT_CARD_TIMEOUT = 2 * time.Second

// Card reads a SCPI data-acquisition card (DAQ973A style) over TCP. Channel
// ports are scan-list addresses such as "101".
type Card struct {
	Address	string
	Timeout	time.Duration
	Dial		func(address string, timeout time.Duration) (net.Conn, error)

	mu				sync.Mutex
	conn			net.Conn
	reader		*bufio.Reader
	scanSize	int
	hasAxis		bool
	start			time.Time
	clock			func() time.Time
	logger		*zap.Logger
}

func NewCard(address string, logger *zap.Logger) *Card {
	return &Card{
		Address: address,
		Timeout: DEFAULT_CARD_TIMEOUT,
		Dial: func(address string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", address, timeout)
		},
		clock:  time.Now,
		logger: logger,
	}
}

func (c *Card) WithClock(clock func() time.Time) *Card {
	c.clock = clock
	return c
}

func (c *Card) Configure(channels []sample.Channel, mode sample.XAxisMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	plotted, axis := Plan(channels, mode)
	ordered := plotted
	if axis != nil {
		ordered = append(append([]sample.Channel(nil), plotted...), *axis)
	}

	if len(ordered) == 0 {
		return &DeviceConfigError{Channel: "none", Err: errors.New("empty scan list")}
	}

	ports := make([]string, 0, len(ordered))
	for _, ch := range ordered {
		if ch.Port == "" {
			return &DeviceConfigError{Channel: ch.Name, Err: errors.New("no card port mapped")}
		}
		ports = append(ports, ch.Port)
	}

	if c.conn == nil {
		conn, err := c.Dial(c.Address, c.Timeout)
		if err != nil {
			return &DeviceConfigError{Channel: strings.Join(ports, ","), Err: err}
		}
		c.conn = conn
		c.reader = bufio.NewReader(conn)
	}

	scanList := "(@" + strings.Join(ports, ",") + ")"
	if err := c.write("*CLS"); err != nil {
		return &DeviceConfigError{Channel: scanList, Err: err}
	}
	if err := c.write("CONF:VOLT:DC AUTO," + scanList); err != nil {
		return &DeviceConfigError{Channel: scanList, Err: err}
	}
	if err := c.write("ROUT:SCAN " + scanList); err != nil {
		return &DeviceConfigError{Channel: scanList, Err: err}
	}
	reply, err := c.query("SYST:ERR?")
	if err != nil {
		return &DeviceConfigError{Channel: scanList, Err: err}
	}
	if !strings.HasPrefix(reply, "+0") && !strings.HasPrefix(reply, "0") {
		return &DeviceConfigError{Channel: scanList, Err: fmt.Errorf("instrument error %s", reply)}
	}

	c.scanSize = len(ports)
	c.hasAxis = axis != nil
	c.start = c.clock()
	c.logger.Info("[card] configured scan list", zap.String("address", c.Address), zap.String("scanList", scanList))
	return nil
}

func (c *Card) ReadOneTick() (sample.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.scanSize == 0 {
		return sample.Sample{}, &AcquisitionError{Source: "card", Err: errNotConfigured}
	}

	reply, err := c.query("READ?")
	if err != nil {
		return sample.Sample{}, &AcquisitionError{Source: "card", Err: err}
	}
	values, err := parseReadings(reply)
	if err != nil {
		return sample.Sample{}, &AcquisitionError{Source: "card", Err: err}
	}
	if len(values) != c.scanSize {
		return sample.Sample{}, &AcquisitionError{
			Source: "card",
			Err:    fmt.Errorf("scan returned %d values, expected %d", len(values), c.scanSize),
		}
	}

	s := sample.Sample{X: c.clock().Sub(c.start).Seconds()}
	if c.hasAxis {
		s.X = values[len(values) - 1]
		values = values[:len(values) - 1]
	}
	s.Readings = values
	return s, nil
}

// Stop aborts any running scan and drops the connection. Teardown is
// best-effort; failures are only logged.
func (c *Card) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	err := multierr.Append(c.write("ABOR"), c.conn.Close())
	if err != nil {
		c.logger.Warn("[card] error during teardown", zap.Error(err), zap.String("address", c.Address))
	}
	c.conn = nil
	c.reader = nil
	c.scanSize = 0
}

func (c *Card) write(cmd string) error {
	if err := c.conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(cmd + "\n"))
	return err
}

func (c *Card) query(cmd string) (string, error) {
	if err := c.write(cmd); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseReadings(reply string) ([]float64, error) {
	fields := strings.Split(reply, ",")
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("bad reading %q: %w", field, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("bad reading %q: not a finite number", field)
		}
		values = append(values, v)
	}
	return values, nil
}
