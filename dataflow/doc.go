// Package dataflow is an in-process concurrent pipeline engine.
//
// A Graph is a DAG of stages. Each Stage owns a bounded queue and a fixed
// pool of workers that apply a transform to one item at a time. Links move
// a stage's outputs to its successors: several links from one stage
// broadcast, several links into one stage fan in, and link predicates route
// items conditionally. Completion flows along links: a stage drains and
// completes once every completion-propagating upstream has completed.
//
// Builder assembles linear pipelines of synchronous and asynchronous steps
// around an Envelope, which carries one item and its single-assignment
// completion Handle through the graph:
//
//	b := dataflow.NewBuilder[string, bool]("word-stats")
//	lengths := dataflow.AddStep(b, findMostCommonWord, dataflow.StageOptions{MaxDegreeOfParallelism: 3, BoundedCapacity: 5})
//	odd := dataflow.AddStep(dataflow.AddStep(lengths, wordLength), isOdd)
//	p, err := dataflow.Build(odd)
//
//	result, err := p.Execute(ctx, "The pipeline pattern is the best pattern").Wait(ctx)
//
// Branching topologies are wired directly with NewStage, Link and Graph.
package dataflow
