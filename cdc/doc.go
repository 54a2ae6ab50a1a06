// Package cdc computes change-data-capture merge plans.
//
// Plan is a pure function: given the current target rows, a batch of change
// rows and merge options, it returns the insert/update/delete (SCD1) or
// expire/append (SCD2) sets keyed by the configured primary keys. Applying
// the plan transactionally is the table writer's job, not this package's.
//
//	opts := cdc.Options{PrimaryKeys: []string{"id"}, OrderBy: "updated_at"}
//	plan, err := cdc.Plan(target, changes, opts)
package cdc
