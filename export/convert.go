package export

import (
	"encoding/csv"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
)

// MissingValue replaces nan cells in converted files.
const MissingValue = "-88"

// ConvertTSV re-encodes tab separated records from r as CSV on w, replacing nan
// cells with MissingValue. It returns the number of records written, header
// included.
func ConvertTSV(r io.Reader, w io.Writer) (int, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	writer := csv.NewWriter(w)
	n := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, goerr.Wrap(err, "failed to read tsv record", goerr.Value("record", n+1))
		}
		for i, cell := range record {
			if cell == "nan" {
				record[i] = MissingValue
			}
		}
		if err := writer.Write(record); err != nil {
			return n, goerr.Wrap(err, "failed to write csv record", goerr.Value("record", n+1))
		}
		n++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return n, goerr.Wrap(err, "failed to flush csv output")
	}
	return n, nil
}
