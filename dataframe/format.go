package dataframe

import (
	"fmt"
	"strings"

	"github.com/aviral-bhardwaj/laktory/errors"
)

// Format identifies how data is persisted at a path.
type Format string

const (
	FormatCSV     Format = "CSV"
	FormatParquet Format = "PARQUET"
	FormatJSON    Format = "JSON"
	FormatDelta   Format = "DELTA"
	FormatExcel   Format = "EXCEL"
)

var allFormats = []Format{FormatCSV, FormatParquet, FormatJSON, FormatDelta, FormatExcel}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", errors.InvalidFormat("format", formatNames())
	}
	return f, nil
}

// Valid reports whether the format is one of the known formats.
func (f Format) Valid() bool {
	for _, v := range allFormats {
		if f == v {
			return true
		}
	}
	return false
}

// SupportsMerge reports whether the format supports CDC merge writes. Only
// versioned table formats do.
func (f Format) SupportsMerge() bool { return f == FormatDelta }

func formatNames() string {
	names := make([]string, len(allFormats))
	for i, f := range allFormats {
		names[i] = string(f)
	}
	return strings.Join(names, "|")
}

// WriteMode controls how a write applies to an existing target.
type WriteMode string

const (
	// ModeAppend adds rows to the existing target.
	ModeAppend WriteMode = "APPEND"
	// ModeOverwrite replaces the target's data and schema.
	ModeOverwrite WriteMode = "OVERWRITE"
	// ModeMerge upserts change rows per the sink's CDC options.
	ModeMerge WriteMode = "MERGE"
	// ModeComplete rewrites the target from the full streaming input.
	ModeComplete WriteMode = "COMPLETE"
	// ModeError fails the write if the target exists.
	ModeError WriteMode = "ERROR"
	// ModeIgnore skips the write if the target exists.
	ModeIgnore WriteMode = "IGNORE"
)

var allWriteModes = []WriteMode{ModeAppend, ModeOverwrite, ModeMerge, ModeComplete, ModeError, ModeIgnore}

// ParseWriteMode parses a write mode, case-insensitively.
func ParseWriteMode(s string) (WriteMode, error) {
	m := WriteMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", errors.InvalidFormat("mode", writeModeNames())
	}
	return m, nil
}

// Valid reports whether the mode is one of the known write modes.
func (m WriteMode) Valid() bool {
	for _, v := range allWriteModes {
		if m == v {
			return true
		}
	}
	return false
}

func writeModeNames() string {
	names := make([]string, len(allWriteModes))
	for i, m := range allWriteModes {
		names[i] = string(m)
	}
	return strings.Join(names, "|")
}

// ModeRequest carries everything mode resolution depends on.
type ModeRequest struct {
	// Configured is the sink's declared mode (APPEND when empty).
	Configured WriteMode
	// Explicit overrides Configured for this call when set.
	Explicit WriteMode
	// FullRefresh discards prior target state.
	FullRefresh bool
	// TargetExists reports whether the target is present and non-empty.
	TargetExists bool
	// Streaming reports whether the frame being written is streaming.
	Streaming bool
}

// ResolveWriteMode computes the effective write mode:
//
//   - the explicit mode beats the configured one;
//   - MERGE short-circuits, delegating entirely to the CDC policy;
//   - a full refresh or an absent target forces OVERWRITE (COMPLETE when
//     streaming) so stale checkpoints self-heal;
//   - ERROR fails when the target exists; IGNORE resolves to IGNORE, which
//     callers treat as a skipped write.
func ResolveWriteMode(req ModeRequest) (WriteMode, error) {
	mode := req.Configured
	if mode == "" {
		mode = ModeAppend
	}
	if req.Explicit != "" {
		mode = req.Explicit
	}
	if !mode.Valid() {
		return "", errors.InvalidFormat("mode", writeModeNames())
	}

	if mode == ModeMerge {
		return ModeMerge, nil
	}

	if req.FullRefresh || !req.TargetExists {
		if req.Streaming {
			return ModeComplete, nil
		}
		return ModeOverwrite, nil
	}

	if mode == ModeError {
		return "", errors.AlreadyExists("write target").
			WithDetail("reason", fmt.Sprintf("mode %s forbids writing to an existing target", ModeError))
	}

	return mode, nil
}

// Engine-level write option defaults; mode-implied values overrule them and
// user-supplied options overrule both.
const (
	OptionMergeSchema     = "mergeSchema"
	OptionOverwriteSchema = "overwriteSchema"
)

// ResolveWriteOptions layers write options: engine defaults, then the
// mode-implied flips for OVERWRITE/COMPLETE, then user options verbatim.
func ResolveWriteOptions(mode WriteMode, user map[string]string) map[string]string {
	opts := map[string]string{
		OptionMergeSchema:     "true",
		OptionOverwriteSchema: "false",
	}
	if mode == ModeOverwrite || mode == ModeComplete {
		opts[OptionMergeSchema] = "false"
		opts[OptionOverwriteSchema] = "true"
	}
	for k, v := range user {
		opts[k] = v
	}
	return opts
}
