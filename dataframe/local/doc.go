// Package local implements the dataframe.Engine interface against a local
// filesystem. It reads and writes CSV, JSON lines, Excel workbooks and a
// DELTA-style versioned table format with a commit log, and it supports
// incremental (streaming) reads from DELTA tables with per-sink checkpoints.
//
// The filesystem is abstracted behind afero.Fs, so tests run against an
// in-memory filesystem and production against the OS one:
//
//	eng := local.New()
//	frame, err := eng.Read(ctx, dataframe.ReadRequest{
//	    Path:   "./data/orders.csv",
//	    Format: dataframe.FormatCSV,
//	})
//
// DELTA commits are optimistic: concurrent writers race to create the next
// commit file and the loser retries with exponential backoff.
package local
