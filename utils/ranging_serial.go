package utils

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// RangingReader turns a line-oriented distance stream (one comma-separated
// scan per line, indexed by angle) into []float64 scans.
type RangingReader struct {
	src   io.ReadCloser
	scans chan []float64
	log   *Logger
}

// OpenRangingPort opens a serial ranging bridge at 8N1.
func OpenRangingPort(portName string, baud int, log *Logger) (*RangingReader, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open ranging port %s: %w", portName, err)
	}
	return NewRangingReader(port, log), nil
}

// NewRangingReader wraps any line source, e.g. a pipe in tests.
func NewRangingReader(src io.ReadCloser, log *Logger) *RangingReader {
	return &RangingReader{
		src:   src,
		scans: make(chan []float64, 1),
		log:   log,
	}
}

func (r *RangingReader) Scans() <-chan []float64 {
	return r.scans
}

// Monitor reads until ctx is cancelled or the source ends. Malformed lines are
// logged and skipped. The scans channel is closed on return.
func (r *RangingReader) Monitor(ctx context.Context) error {
	defer close(r.scans)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.src.Close()
		case <-stop:
		}
	}()

	scan := bufio.NewScanner(r.src)
	scan.Buffer(make([]byte, 0, 4096), 1<<20)

	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		values, err := ParseScan(line)
		if err != nil {
			if r.log != nil {
				r.log.Warn("ranging: dropping line: %v", err)
			}
			continue
		}

		select {
		case r.scans <- values:
		case <-ctx.Done():
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scan.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("ranging read: %w", err)
	}
	return nil
}

func (r *RangingReader) Close() error {
	return r.src.Close()
}

// ParseScan parses "d0,d1,...". Empty fields and "inf" mean no return and are
// read as +Inf; NaN is rejected.
func ParseScan(line string) ([]float64, error) {
	fields := strings.Split(line, ",")
	out := make([]float64, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			out[i] = math.Inf(1)
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		if math.IsNaN(v) {
			return nil, fmt.Errorf("field %d: NaN distance", i)
		}
		out[i] = v
	}
	return out, nil
}
