// Package pipeline orchestrates declarative data pipelines: named nodes,
// each reading one or more sources, applying a transformation chain,
// checking data-quality expectations and persisting results through sinks.
//
// Node source references induce a dependency graph; execution walks the
// nodes in a deterministic topological order, one node at a time, against a
// pluggable dataframe engine:
//
//	pl, err := pipeline.LoadPipeline("pipeline.yaml")
//	if err != nil {
//	    return err
//	}
//	result, err := pl.Execute(ctx, local.New())
//
// Pipelines are declared in YAML (or built directly as Go values):
//
//	name: sales
//	nodes:
//	  - name: brz_orders
//	    sources:
//	      - path: ./data/orders.csv
//	        format: CSV
//	    sinks:
//	      - path: ./tables/brz_orders
//	        format: DELTA
//	  - name: slv_orders
//	    sources:
//	      - node: brz_orders
//	        as_stream: true
//	    transformer:
//	      steps:
//	        - func: filter
//	          kwargs: {expr: "qty > 0"}
//	    sinks:
//	      - path: ./tables/slv_orders
//	        format: DELTA
//
// Incremental semantics follow the sinks: streaming sources resume from
// per-sink checkpoints, and a full refresh clears them so everything is
// re-read from scratch.
package pipeline
