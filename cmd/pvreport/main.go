// Main package in pvreport implements a command line tool for converting a
// saved rate-history snapshot (one JSON object per line, each with
// "elapsed_sec" and "transferred" fields, matching state.HistorySample) into
// a CSV file suitable for spreadsheet analysis.
package main

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	// A variable to enable mocking for testing.
	logFatal = log.Fatal
)

// record is the CSV row shape for one rate-history sample.
type record struct {
	ElapsedSeconds float64 `json:"elapsed_sec" csv:"elapsed_seconds"`
	Transferred    int64   `json:"transferred" csv:"transferred"`
	RateBytesPerSec float64 `csv:"rate_bytes_per_sec"`
}

// readSamples parses one JSON object per line from rdr into records,
// leaving RateBytesPerSec computed by addRates below.
func readSamples(rdr io.Reader) ([]*record, error) {
	var out []*record
	s := bufio.NewScanner(rdr)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// addRates fills in RateBytesPerSec for each record from the delta to its
// predecessor, leaving the first record's rate at zero.
func addRates(samples []*record) {
	for i := 1; i < len(samples); i++ {
		dt := samples[i].ElapsedSeconds - samples[i-1].ElapsedSeconds
		if dt <= 0 {
			continue
		}
		db := samples[i].Transferred - samples[i-1].Transferred
		samples[i].RateBytesPerSec = float64(db) / dt
	}
}

func toCSV(samples []*record, wtr io.Writer) error {
	return gocsv.Marshal(samples, wtr)
}

// openFile opens fn, or returns stdin if fn is empty.
func openFile(fn string) (io.ReadCloser, error) {
	if fn == "" {
		return os.Stdin, nil
	}
	return os.Open(fn)
}

func main() {
	args := os.Args[1:]

	var filename string
	if len(args) == 1 {
		filename = args[0]
	} else if len(args) > 1 {
		logFatal("Too many command-line arguments.")
	}

	source, err := openFile(filename)
	rtx.Must(err, "Could not open file %q", filename)
	defer source.Close()

	samples, err := readSamples(source)
	rtx.Must(err, "Could not read rate-history snapshot")
	addRates(samples)
	rtx.Must(toCSV(samples, os.Stdout), "Could not convert input to CSV")
}
