package local

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"github.com/aviral-bhardwaj/laktory/dataframe"
	"github.com/aviral-bhardwaj/laktory/errors"
)

const defaultSheet = "Sheet1"

// readExcel reads one worksheet of an Excel workbook. The sheet option picks
// the worksheet, defaulting to the first one; header and inferSchema behave
// as for CSV.
func (e *Engine) readExcel(path string, options map[string]string) (*dataframe.Dataset, error) {
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("source", path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "opening "+path)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidFormat, "parsing "+path)
	}
	defer f.Close()

	sheet := options[optSheet]
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.InvalidInput("sheet", fmt.Sprintf("worksheet %q not found in %s", sheet, path)).WithCause(err)
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
			// GetRows trims trailing empty cells, so rows can be short.
			if j >= len(rec) || rec[j] == "" {
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

func (e *Engine) encodeExcel(path string, ds *dataframe.Dataset, options map[string]string) error {
	sheet := options[optSheet]
	if sheet == "" {
		sheet = defaultSheet
	}

	f := excelize.NewFile()
	defer f.Close()
	if sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "renaming worksheet")
		}
	}

	rowIdx := 1
	if boolOption(options, optHeader, true) {
		header := make([]any, len(ds.Columns))
		for i, c := range ds.Columns {
			header[i] = c
		}
		if err := e.setExcelRow(f, sheet, rowIdx, header); err != nil {
			return err
		}
		rowIdx++
	}
	for _, row := range ds.Rows {
		vals := make([]any, len(ds.Columns))
		for i, c := range ds.Columns {
			vals[i] = row[c]
		}
		if err := e.setExcelRow(f, sheet, rowIdx, vals); err != nil {
			return err
		}
		rowIdx++
	}

	out, err := e.fs.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "creating "+path)
	}
	defer out.Close()
	if err := f.Write(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "writing "+path)
	}
	return nil
}

func (e *Engine) setExcelRow(f *excelize.File, sheet string, rowIdx int, vals []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIdx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "addressing worksheet row")
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "writing worksheet row")
	}
	return nil
}
