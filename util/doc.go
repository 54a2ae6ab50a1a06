// Package util provides generic utility functions shared across the module.
//
// It includes slice operations, pointer helpers, and map utilities used by
// the dataframe and merge-planning code.
package util
