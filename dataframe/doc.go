// Package dataframe defines the engine-facing data model: records and
// datasets with pure in-memory operations, the Frame handle passed between
// pipeline nodes, row expressions, formats and write modes, and the Engine
// interface every dataframe backend implements.
//
// A Frame is either materialized (a Dataset, operated on eagerly) or
// streaming (a scan descriptor plus a chain of pending operations the engine
// resolves against new data at write time).
package dataframe
