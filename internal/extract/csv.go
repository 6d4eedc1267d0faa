package extract

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

// csvExtractor streams a delimited-text file. The first row is a header
// defining column names; column order in the file is irrelevant because
// downstream mapping matches by name.
type csvExtractor struct {
	path  string
	opt   Options
	comma rune
}

func newCSVExtractor(path string, opt Options, comma rune) *csvExtractor {
	if opt.Comma != 0 {
		comma = opt.Comma
	}
	return &csvExtractor{path: path, opt: opt, comma: comma}
}

// newReader applies the tolerant reader settings used for real-world listing
// exports: variable field counts, reused record buffers, optional lazy
// quotes. Quote damage on a row is a per-row parse error that the stream
// soft-drops, so strict quoting loses the row rather than the run.
func (e *csvExtractor) newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = e.comma
	cr.ReuseRecord = true
	cr.LazyQuotes = e.opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

func (e *csvExtractor) Stream(ctx context.Context, out chan<- Batch, onErr func(int, error)) error {
	f, err := os.Open(e.path)
	if err != nil {
		return &SourceFormatError{Path: e.path, Reason: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	cr := e.newReader(bufio.NewReaderSize(f, 1<<16))
	line := 0
	read := func() ([]string, error) { line++; return cr.Read() }

	hdr, err := read()
	if err != nil {
		return &SourceFormatError{Path: e.path, Reason: fmt.Sprintf("read header: %v", err)}
	}
	header := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF") // strip BOM
		}
		header[i] = strings.TrimSpace(h)
	}

	// Skip exactly ResumeFrom data rows. Unreadable lines count as skipped
	// rows here too: they occupied a row slot in the previous run.
	skipped := 0
	for skipped < e.opt.ResumeFrom {
		if _, err := read(); err != nil {
			if err == io.EOF {
				return nil // resume offset beyond EOF: nothing left to do
			}
			if _, ok := err.(*csv.ParseError); !ok {
				return fmt.Errorf("csv: skip to offset %d: %w", e.opt.ResumeFrom, err)
			}
		}
		skipped++
	}

	size := e.opt.batchSize()
	batch := Batch{Index: 0, Offset: e.opt.ResumeFrom, Records: make([]records.Record, 0, size)}
	rows := e.opt.ResumeFrom

	flush := func() error {
		if len(batch.Records) == 0 && batch.Skipped == 0 {
			return nil
		}
		if err := emit(ctx, out, batch); err != nil {
			return err
		}
		batch = Batch{
			Index:   batch.Index + 1,
			Offset:  rows,
			Records: make([]records.Record, 0, size),
		}
		return nil
	}

	for {
		rec, err := read()
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				if onErr != nil {
					onErr(line, fmt.Errorf("csv read: %w", err))
				}
				rows++
				batch.Skipped++
				continue
			}
			return fmt.Errorf("csv read: %w", err)
		}

		row := make(records.Record, len(header))
		for i, h := range header {
			if h == "" || i >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[i])
			if v == "" {
				continue
			}
			row[h] = v
		}
		rows++
		batch.Records = append(batch.Records, row)

		if len(batch.Records) >= size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// Count scans the file once and returns the exact number of data rows
// (lines after the header). Blank trailing lines are not rows.
func (e *csvExtractor) Count(ctx context.Context) (int64, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return 0, fmt.Errorf("csv count: %w", err)
	}
	defer f.Close()

	var n int64
	sc := bufio.NewScanner(bufio.NewReaderSize(f, 1<<16))
	sc.Buffer(make([]byte, 1<<16), 1<<22)
	first := true
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if first {
			first = false
			continue
		}
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("csv count: %w", err)
	}
	return n, nil
}
