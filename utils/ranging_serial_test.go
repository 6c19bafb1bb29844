package utils

import (
	"bytes"
	"context"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScan(t *testing.T) {
	got, err := ParseScan("700, 650.5,,inf,12")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 700.0, got[0])
	assert.Equal(t, 650.5, got[1])
	assert.True(t, math.IsInf(got[2], 1))
	assert.True(t, math.IsInf(got[3], 1))
	assert.Equal(t, 12.0, got[4])

	_, err = ParseScan("1,two,3")
	assert.ErrorContains(t, err, "field 1")

	_, err = ParseScan("1,NaN")
	assert.ErrorContains(t, err, "NaN")
}

func TestRangingReaderMonitor(t *testing.T) {
	var logs bytes.Buffer
	log := NewWriterLogger(&logs, DEBUG)

	src := io.NopCloser(strings.NewReader("1,2,3\n\ngarbage,x\n4,5\n"))
	r := NewRangingReader(src, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- r.Monitor(ctx) }()

	var scans [][]float64
	for s := range r.Scans() {
		scans = append(scans, s)
	}

	require.NoError(t, <-errc)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5}}, scans)
	assert.Contains(t, logs.String(), "ranging: dropping line")
}

func TestRangingReaderStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewRangingReader(pr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Monitor(ctx) }()

	_, err := pw.Write([]byte("9,9\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 9}, <-r.Scans())

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}
