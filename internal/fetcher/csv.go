package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures StreamRecords.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
	TrimSpace  bool
}

// Record is one CSV row keyed by header name.
type Record map[string]string

// First returns the first non-empty value among the named columns.
func (r Record) First(names ...string) string {
	for _, n := range names {
		if v := r[n]; v != "" {
			return v
		}
	}
	return ""
}

// StreamRecords reads a headed CSV document and sends each data row as a
// Record. A UTF-8 byte order mark on the first header is dropped. Rows
// shorter than the header leave the missing columns unset.
//
// Both channels are closed when the stream ends; at most one error is sent.
func StreamRecords(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		var header []string
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				for i := range row {
					row[i] = strings.TrimSpace(row[i])
				}
			}

			if header == nil {
				header = row
				if len(header) > 0 {
					header[0] = strings.TrimPrefix(header[0], "\ufeff")
				}
				continue
			}

			rec := make(Record, len(header))
			for i, name := range header {
				if i < len(row) {
					rec[name] = row[i]
				}
			}

			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}
