package local

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

// readJSON reads newline-delimited JSON: one object per line.
func (e *Engine) readJSON(path string) (*dataframe.Dataset, error) {
	rows, err := e.readJSONLines(path)
	if err != nil {
		return nil, err
	}
	return dataframe.FromRecords(rows), nil
}

func (e *Engine) encodeJSON(path string, ds *dataframe.Dataset, _ map[string]string) error {
	return e.writeJSONLines(path, ds.Rows)
}

// readJSONLines parses a JSON-lines file into records. DELTA part files use
// the same encoding.
func (e *Engine) readJSONLines(path string) ([]dataframe.Record, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("source", path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "opening "+path)
	}
	defer f.Close()

	var rows []dataframe.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := decodeJSONRecord(line)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidFormat, "parsing "+path)
		}
		rows = append(rows, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "reading "+path)
	}
	return rows, nil
}

func (e *Engine) writeJSONLines(path string, rows []dataframe.Record) error {
	if err := e.mkParent(path); err != nil {
		return err
	}
	f, err := e.fs.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "creating "+path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "writing "+path)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "writing "+path)
	}
	return nil
}

// decodeJSONRecord parses one JSON object, keeping integral numbers as int64
// instead of the encoding/json default of float64.
func decodeJSONRecord(line []byte) (dataframe.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	rec := make(dataframe.Record, len(raw))
	for k, v := range raw {
		rec[k] = normalizeJSONValue(v)
	}
	return rec, nil
}

func normalizeJSONValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalizeJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalizeJSONValue(val)
		}
		return out
	default:
		return v
	}
}
