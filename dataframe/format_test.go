package dataframe

import (
	"testing"

	"github.com/aviral-bhardwaj/laktory/errors"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"CSV", FormatCSV, false},
		{"csv", FormatCSV, false},
		{" delta ", FormatDelta, false},
		{"Excel", FormatExcel, false},
		{"JSON", FormatJSON, false},
		{"parquet", FormatParquet, false},
		{"orc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatSupportsMerge(t *testing.T) {
	if !FormatDelta.SupportsMerge() {
		t.Error("DELTA must support merge")
	}
	for _, f := range []Format{FormatCSV, FormatParquet, FormatJSON, FormatExcel} {
		if f.SupportsMerge() {
			t.Errorf("%s must not support merge", f)
		}
	}
}

func TestParseWriteMode(t *testing.T) {
	got, err := ParseWriteMode("overwrite")
	if err != nil {
		t.Fatalf("ParseWriteMode() error = %v", err)
	}
	if got != ModeOverwrite {
		t.Errorf("ParseWriteMode() = %q", got)
	}
	if _, err := ParseWriteMode("upsert"); !errors.HasCode(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("ParseWriteMode() error = %v, want INVALID_FORMAT", err)
	}
}

func TestResolveWriteMode(t *testing.T) {
	tests := []struct {
		name     string
		req      ModeRequest
		want     WriteMode
		wantCode errors.ErrorCode
	}{
		{
			name: "append to existing target",
			req:  ModeRequest{Configured: ModeAppend, TargetExists: true},
			want: ModeAppend,
		},
		{
			name: "empty configured defaults to append",
			req:  ModeRequest{TargetExists: true},
			want: ModeAppend,
		},
		{
			name: "absent target forces overwrite",
			req:  ModeRequest{Configured: ModeAppend, TargetExists: false},
			want: ModeOverwrite,
		},
		{
			name: "full refresh forces overwrite",
			req:  ModeRequest{Configured: ModeAppend, TargetExists: true, FullRefresh: true},
			want: ModeOverwrite,
		},
		{
			name: "streaming full refresh forces complete",
			req:  ModeRequest{Configured: ModeAppend, TargetExists: true, FullRefresh: true, Streaming: true},
			want: ModeComplete,
		},
		{
			name: "streaming absent target forces complete",
			req:  ModeRequest{Configured: ModeAppend, TargetExists: false, Streaming: true},
			want: ModeComplete,
		},
		{
			name: "explicit overrides configured",
			req:  ModeRequest{Configured: ModeAppend, Explicit: ModeOverwrite, TargetExists: true},
			want: ModeOverwrite,
		},
		{
			name: "merge wins over full refresh",
			req:  ModeRequest{Configured: ModeMerge, TargetExists: true, FullRefresh: true},
			want: ModeMerge,
		},
		{
			name: "explicit merge on absent target stays merge",
			req:  ModeRequest{Configured: ModeAppend, Explicit: ModeMerge, TargetExists: false},
			want: ModeMerge,
		},
		{
			name:     "error mode fails on existing target",
			req:      ModeRequest{Configured: ModeError, TargetExists: true},
			wantCode: errors.ErrCodeAlreadyExists,
		},
		{
			name: "error mode writes to absent target",
			req:  ModeRequest{Configured: ModeError, TargetExists: false},
			want: ModeOverwrite,
		},
		{
			name: "ignore mode resolves to ignore on existing target",
			req:  ModeRequest{Configured: ModeIgnore, TargetExists: true},
			want: ModeIgnore,
		},
		{
			name: "ignore mode writes to absent target",
			req:  ModeRequest{Configured: ModeIgnore, TargetExists: false},
			want: ModeOverwrite,
		},
		{
			name:     "unknown mode errors",
			req:      ModeRequest{Configured: "UPSERT", TargetExists: true},
			wantCode: errors.ErrCodeInvalidFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWriteMode(tt.req)
			if tt.wantCode != "" {
				if !errors.HasCode(err, tt.wantCode) {
					t.Fatalf("ResolveWriteMode() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveWriteMode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveWriteMode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveWriteOptions(t *testing.T) {
	t.Run("append keeps defaults", func(t *testing.T) {
		opts := ResolveWriteOptions(ModeAppend, nil)
		if opts[OptionMergeSchema] != "true" || opts[OptionOverwriteSchema] != "false" {
			t.Errorf("opts = %v", opts)
		}
	})

	t.Run("overwrite flips both", func(t *testing.T) {
		opts := ResolveWriteOptions(ModeOverwrite, nil)
		if opts[OptionMergeSchema] != "false" || opts[OptionOverwriteSchema] != "true" {
			t.Errorf("opts = %v", opts)
		}
	})

	t.Run("complete flips both", func(t *testing.T) {
		opts := ResolveWriteOptions(ModeComplete, nil)
		if opts[OptionMergeSchema] != "false" || opts[OptionOverwriteSchema] != "true" {
			t.Errorf("opts = %v", opts)
		}
	})

	t.Run("user options win over mode-implied", func(t *testing.T) {
		opts := ResolveWriteOptions(ModeOverwrite, map[string]string{
			OptionOverwriteSchema: "false",
			"custom":              "x",
		})
		if opts[OptionOverwriteSchema] != "false" {
			t.Errorf("overwriteSchema = %s, want user-supplied false", opts[OptionOverwriteSchema])
		}
		if opts["custom"] != "x" {
			t.Errorf("custom = %s", opts["custom"])
		}
	})
}
