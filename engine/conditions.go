package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// LoadConditions reads the trial list from a CSV file with a header row. Columns:
// condition, optional item, c1..c6 and m1..m6. Rows without an item column are
// numbered from 1.
func LoadConditions(path string) ([]TrialSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open conditions file", goerr.Value("path", path))
	}
	defer f.Close()

	trials, err := ParseConditions(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load conditions", goerr.Value("path", path))
	}
	return trials, nil
}

// ParseConditions is LoadConditions on an already opened reader.
func ParseConditions(r io.Reader) ([]TrialSpec, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty conditions file")
	}

	index := map[string]int{}
	for i, name := range records[0] {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	condCol, ok := index["condition"]
	if !ok {
		return nil, fmt.Errorf("missing condition column")
	}
	itemCol, hasItem := index["item"]

	var left, right [OptionCount]int
	for i := 0; i < OptionCount; i++ {
		c, ok := index[fmt.Sprintf("c%d", i+1)]
		if !ok {
			return nil, fmt.Errorf("missing column c%d", i+1)
		}
		m, ok := index[fmt.Sprintf("m%d", i+1)]
		if !ok {
			return nil, fmt.Errorf("missing column m%d", i+1)
		}
		left[i], right[i] = c, m
	}

	var trials []TrialSpec
	for i, record := range records[1:] {
		line := i + 2
		t := TrialSpec{
			Condition:  record[condCol],
			ItemNumber: i + 1,
		}
		if hasItem {
			n, err := strconv.Atoi(strings.TrimSpace(record[itemCol]))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid item number: %v", line, err)
			}
			t.ItemNumber = n
		}
		if len(trials) > 0 && t.ItemNumber <= trials[len(trials)-1].ItemNumber {
			return nil, fmt.Errorf("line %d: %w", line, ErrItemOrder)
		}
		for j := 0; j < OptionCount; j++ {
			t.Left[j] = record[left[j]]
			t.Right[j] = record[right[j]]
		}
		trials = append(trials, t)
	}

	return trials, nil
}
