// Package validation provides input validation for pipeline definitions.
//
// It supports both struct tag validation (using the validator library) and
// programmatic validation with error collection. Struct tag validation is
// recommended for declarative models; programmatic validation covers
// cross-field rules the tags cannot express.
//
// # Struct Tag Validation
//
//	type Sink struct {
//	    Path   string `yaml:"path" validate:"required"`
//	    Format string `yaml:"format" validate:"omitempty,oneof=CSV PARQUET DELTA JSON EXCEL"`
//	}
//	err := validation.Validate(sink)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Custom(len(opts.PrimaryKeys) > 0, "primary_keys", "is required")
//	err := v.Validate()
package validation
