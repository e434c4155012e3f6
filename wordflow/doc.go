// Package wordflow holds the word-statistics transforms and the two
// reference topologies built on dataflow: a linear word-stats pipeline and
// a branching fan-out that splits, filters, crawls and appraises text.
package wordflow
