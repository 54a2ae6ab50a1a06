package local

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

// Reader and writer options understood by the tabular formats.
const (
	optHeader      = "header"
	optDelimiter   = "delimiter"
	optInferSchema = "inferSchema"
	optSheet       = "sheet"
)

func boolOption(options map[string]string, key string, def bool) bool {
	v, ok := options[key]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func delimiterOption(options map[string]string) rune {
	if d, ok := options[optDelimiter]; ok && d != "" {
		return []rune(d)[0]
	}
	return ','
}

func (e *Engine) readCSV(path string, options map[string]string) (*dataframe.Dataset, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("source", path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "opening "+path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delimiterOption(options)
	r.FieldsPerRecord = -1
	raw, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidFormat, "parsing "+path)
	}
	if len(raw) == 0 {
		return dataframe.NewDataset(nil, nil), nil
	}

	var cols []string
	if boolOption(options, optHeader, true) {
		cols = raw[0]
		raw = raw[1:]
	} else {
		cols = make([]string, len(raw[0]))
		for i := range cols {
			cols[i] = fmt.Sprintf("c%d", i)
		}
	}

	infer := boolOption(options, optInferSchema, true)
	rows := make([]dataframe.Record, len(raw))
	for i, rec := range raw {
		row := make(dataframe.Record, len(cols))
		for j, c := range cols {
			if j >= len(rec) {
				row[c] = nil
				continue
			}
			if infer {
				row[c] = inferValue(rec[j])
			} else {
				row[c] = rec[j]
			}
		}
		rows[i] = row
	}
	return dataframe.NewDataset(cols, rows), nil
}

func (e *Engine) encodeCSV(path string, ds *dataframe.Dataset, options map[string]string) error {
	f, err := e.fs.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "creating "+path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = delimiterOption(options)
	if boolOption(options, optHeader, true) {
		if err := w.Write(ds.Columns); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "writing "+path)
		}
	}
	rec := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		for i, c := range ds.Columns {
			rec[i] = formatValue(row[c])
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "writing "+path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "writing "+path)
	}
	return nil
}

// inferValue parses a cell into int64, float64, bool or string. Empty cells
// become nil.
func inferValue(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	return s
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
