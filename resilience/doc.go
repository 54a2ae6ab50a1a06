// Package resilience provides retry with exponential backoff for operations
// that fail transiently, such as optimistic commits against a versioned table
// that lost the race to a concurrent writer.
//
//	result, err := resilience.Retry(ctx, cfg, func() (int64, error) {
//	    return table.Commit(ctx, actions)
//	})
package resilience
