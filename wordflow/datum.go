package wordflow

import (
	"fmt"
	"strconv"
)

// Kind identifies a Datum variant.
type Kind int

const (
	KindLength Kind = iota + 1
	KindText
	KindScore
)

func (k Kind) String() string {
	switch k {
	case KindLength:
		return "length"
	case KindText:
		return "text"
	case KindScore:
		return "score"
	default:
		return "unknown"
	}
}

// Datum is one crawled value. The set of variants is closed: LengthDatum,
// TextDatum and ScoreDatum.
type Datum interface {
	Kind() Kind
	datum()
}

// LengthDatum is the rune count of a word.
type LengthDatum struct{ Value int }

// TextDatum is a word itself.
type TextDatum struct{ Value string }

// ScoreDatum is a word's length plus ScoreOffset.
type ScoreDatum struct{ Value float64 }

func (LengthDatum) Kind() Kind { return KindLength }
func (TextDatum) Kind() Kind   { return KindText }
func (ScoreDatum) Kind() Kind  { return KindScore }

func (LengthDatum) datum() {}
func (TextDatum) datum()   {}
func (ScoreDatum) datum()  {}

// ScoreOffset is added to a word length by the score crawler.
const ScoreOffset = 42.5

// Batch is a slice of data of a single kind.
type Batch []Datum

// Kind returns the kind shared by the batch, or 0 when it is empty.
func (b Batch) Kind() Kind {
	if len(b) == 0 {
		return 0
	}
	return b[0].Kind()
}

// Crawl maps every word to a Datum of kind k.
func Crawl(k Kind, words []string) (Batch, error) {
	out := make(Batch, 0, len(words))
	for _, w := range words {
		switch k {
		case KindLength:
			out = append(out, LengthDatum{Value: CountChars(w)})
		case KindText:
			out = append(out, TextDatum{Value: w})
		case KindScore:
			out = append(out, ScoreDatum{Value: float64(CountChars(w)) + ScoreOffset})
		default:
			return nil, fmt.Errorf("crawl: unknown kind %d", k)
		}
	}
	return out, nil
}

// Appraise renders d followed by the appraiser tag, e.g. "7|11|".
func Appraise(tag string, d Datum) (string, error) {
	var value string
	switch v := d.(type) {
	case LengthDatum:
		value = strconv.Itoa(v.Value)
	case TextDatum:
		value = v.Value
	case ScoreDatum:
		value = strconv.FormatFloat(v.Value, 'f', -1, 64)
	default:
		return "", fmt.Errorf("appraise: unsupported datum %T", d)
	}
	return value + "|" + tag + "|", nil
}
