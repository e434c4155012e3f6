package wordflow

import (
	"time"

	"github.com/kbukum/flowkit/dataflow"
)

// WordStatsOptions sizes the word-stats pipeline.
type WordStatsOptions struct {
	FindMostCommon dataflow.StageOptions `yaml:"find_most_common" mapstructure:"find_most_common"`
	WordLength     dataflow.StageOptions `yaml:"word_length" mapstructure:"word_length"`
	IsOdd          dataflow.StageOptions `yaml:"is_odd" mapstructure:"is_odd"`
	// Async finds the most common word through an asynchronous step.
	Async      bool          `yaml:"async" mapstructure:"async"`
	Delay      time.Duration `yaml:"delay" mapstructure:"delay"`
	ShouldFail bool          `yaml:"should_fail" mapstructure:"should_fail"`
}

// DefaultWordStatsOptions returns the reference stage sizes.
func DefaultWordStatsOptions() WordStatsOptions {
	return WordStatsOptions{
		FindMostCommon: dataflow.StageOptions{MaxDegreeOfParallelism: 3, BoundedCapacity: 5},
		WordLength:     dataflow.StageOptions{MaxDegreeOfParallelism: 1, BoundedCapacity: 13},
		IsOdd:          dataflow.StageOptions{MaxDegreeOfParallelism: 11, BoundedCapacity: 6},
	}
}

// NewWordStatsPipeline builds find-most-common-word, word length and
// is-odd into a started pipeline that resolves whether the most common
// word of its input has an odd length.
func NewWordStatsPipeline(opts WordStatsOptions, options ...dataflow.Option) (*dataflow.Pipeline[string, bool], error) {
	t := Transforms{ShouldFail: opts.ShouldFail, Delay: opts.Delay}
	b := dataflow.NewBuilder[string, bool]("word-stats", options...)

	var words *dataflow.Builder[string, bool, string]
	if opts.Async {
		words = dataflow.AddAsyncStep(b, t.AsyncFindMostCommon, opts.FindMostCommon)
	} else {
		words = dataflow.AddStep(b, t.FindMostCommon, opts.FindMostCommon)
	}
	lengths := dataflow.AddStep(words, t.CountChars, opts.WordLength)
	odd := dataflow.AddStep(lengths, t.IsOdd, opts.IsOdd)
	return dataflow.Build(odd)
}
