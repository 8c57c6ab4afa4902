package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadCSV reads rows of "label,f1,f2,..." into a dataset. A first row whose
// label column is not an integer is treated as a header.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	ds := &Dataset{}
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("data: row %d has %d columns", row+1, len(rec))
		}
		label, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			if row == 0 {
				continue
			}
			return nil, fmt.Errorf("data: row %d label: %w", row+1, err)
		}
		in := make([]float64, len(rec)-1)
		for j, v := range rec[1:] {
			if in[j], err = strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
				return nil, fmt.Errorf("data: row %d column %d: %w", row+1, j+2, err)
			}
		}
		ds.IDs = append(ds.IDs, len(ds.IDs))
		ds.Inputs = append(ds.Inputs, in)
		ds.Labels = append(ds.Labels, label)
	}
	return ds, ds.Check()
}
