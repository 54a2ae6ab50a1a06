package cdc

import (
	"github.com/aviral-bhardwaj/laktory/errors"
	"github.com/aviral-bhardwaj/laktory/util"
)

// Record is one row of data keyed by column name.
type Record = map[string]any

// Metadata columns maintained on SCD2 targets.
const (
	// ColStartAt marks the moment a row version became current.
	ColStartAt = "__start_at"
	// ColEndAt marks the moment a row version was superseded; nil while
	// the version is current.
	ColEndAt = "__end_at"
	// ColHash is a digest of the tracked columns, used to skip no-op
	// versions.
	ColHash = "__hash_cols"
)

// Options configures how a batch of changes merges into a target table.
type Options struct {
	// PrimaryKeys identify a row across change batches.
	PrimaryKeys []string `yaml:"primary_keys" json:"primary_keys" validate:"required,min=1"`

	// SCDType selects the history policy: 1 overwrites rows in place,
	// 2 preserves history with validity bounds. Defaults to 1.
	SCDType int `yaml:"scd_type" json:"scd_type" validate:"omitempty,oneof=1 2"`

	// OrderBy names the column ordering change events per key. Required
	// for SCDType 2; optional for SCDType 1 (last occurrence wins when
	// unset).
	OrderBy string `yaml:"order_by" json:"order_by"`

	// DeleteWhere is a boolean row expression; change rows matching it
	// are treated as deletions instead of upserts.
	DeleteWhere string `yaml:"delete_where" json:"delete_where"`

	// IncludeColumns restricts which columns updates touch. Mutually
	// exclusive with ExcludeColumns. Primary keys and OrderBy are always
	// retained.
	IncludeColumns []string `yaml:"include_columns" json:"include_columns"`

	// ExcludeColumns removes columns from updates. Mutually exclusive
	// with IncludeColumns.
	ExcludeColumns []string `yaml:"exclude_columns" json:"exclude_columns"`

	// IgnoreNullUpdates keeps the target value when the change value is
	// null.
	IgnoreNullUpdates bool `yaml:"ignore_null_updates" json:"ignore_null_updates"`
}

// ApplyDefaults applies default values to the options.
func (o *Options) ApplyDefaults() {
	if o.SCDType == 0 {
		o.SCDType = 1
	}
}

// Validate checks the options for internal consistency.
func (o *Options) Validate() error {
	if len(o.PrimaryKeys) == 0 {
		return errors.MissingField("merge_cdc_options.primary_keys")
	}
	if o.SCDType != 1 && o.SCDType != 2 {
		return errors.InvalidInput("merge_cdc_options.scd_type", "must be 1 or 2")
	}
	if o.SCDType == 2 && o.OrderBy == "" {
		return errors.InvalidInput("merge_cdc_options.order_by", "required when scd_type is 2")
	}
	if len(o.IncludeColumns) > 0 && len(o.ExcludeColumns) > 0 {
		return errors.InvalidInput("merge_cdc_options.include_columns", "mutually exclusive with exclude_columns")
	}
	for _, pk := range o.PrimaryKeys {
		if util.Contains(o.ExcludeColumns, pk) {
			return errors.InvalidInput("merge_cdc_options.exclude_columns", "primary key "+pk+" cannot be excluded")
		}
	}
	if o.OrderBy != "" && util.Contains(o.ExcludeColumns, o.OrderBy) {
		return errors.InvalidInput("merge_cdc_options.exclude_columns", "order_by column "+o.OrderBy+" cannot be excluded")
	}
	if o.DeleteWhere != "" {
		if _, err := compilePredicate(o.DeleteWhere); err != nil {
			return err
		}
	}
	return nil
}

// updateColumns returns the columns updates are allowed to touch, given the
// full set of columns present in the change batch. Primary keys and the
// OrderBy column are always retained.
func (o *Options) updateColumns(changeColumns []string) []string {
	var cols []string
	if len(o.IncludeColumns) > 0 {
		cols = append(cols, o.IncludeColumns...)
	} else {
		for _, c := range changeColumns {
			if !util.Contains(o.ExcludeColumns, c) {
				cols = append(cols, c)
			}
		}
	}
	for _, pk := range o.PrimaryKeys {
		if !util.Contains(cols, pk) {
			cols = append(cols, pk)
		}
	}
	if o.OrderBy != "" && !util.Contains(cols, o.OrderBy) {
		cols = append(cols, o.OrderBy)
	}
	return util.Unique(cols)
}
