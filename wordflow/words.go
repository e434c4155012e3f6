package wordflow

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kbukum/flowkit/dataflow"
	"github.com/kbukum/flowkit/errors"
)

// MinWordLength is the shortest word FindMostCommonWord counts.
const MinWordLength = 4

// ErrCodeCritical marks failures injected through Transforms.ShouldFail.
const ErrCodeCritical errors.ErrorCode = "CRITICAL_FAILURE"

// ErrCritical is returned by transforms when failure injection is on.
var ErrCritical = errors.New(ErrCodeCritical, "it is a critical exception", 500)

// FindMostCommonWord returns the most frequent word of at least
// MinWordLength runes in text, splitting on single spaces and counting
// case-insensitively. Ties go to the word seen first, with the casing of
// its first occurrence.
func FindMostCommonWord(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.InvalidInput("text", "text is empty")
	}

	counts := make(map[string]int)
	var order []string
	first := make(map[string]string)
	for _, word := range strings.Split(text, " ") {
		if utf8.RuneCountInString(word) < MinWordLength {
			continue
		}
		key := strings.ToLower(word)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			first[key] = word
		}
		counts[key]++
	}
	if len(order) == 0 {
		return "", errors.InvalidInput("text", "no word has at least 4 letters")
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return first[best], nil
}

// CountChars returns the number of runes in word.
func CountChars(word string) int {
	return utf8.RuneCountInString(word)
}

// IsOdd reports whether n is odd.
func IsOdd(n int) bool {
	return n%2 == 1
}

// Transforms exposes the word functions as pipeline steps. When ShouldFail
// is set every step fails with ErrCritical.
type Transforms struct {
	ShouldFail bool
	// Delay is the latency of AsyncFindMostCommon.
	Delay time.Duration
}

func (t Transforms) fail() error {
	if t.ShouldFail {
		return errors.New(ErrCritical.Code, ErrCritical.Message, ErrCritical.HTTPStatus)
	}
	return nil
}

// FindMostCommon is the step form of FindMostCommonWord.
func (t Transforms) FindMostCommon(_ context.Context, text string) (string, error) {
	if err := t.fail(); err != nil {
		return "", err
	}
	return FindMostCommonWord(text)
}

// AsyncFindMostCommon resolves the most common word after Delay.
func (t Transforms) AsyncFindMostCommon(ctx context.Context, text string) *dataflow.Handle[string] {
	h := dataflow.NewHandle[string]()
	go func() {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			_ = h.Fault(ctx.Err())
			return
		case <-timer.C:
		}
		word, err := t.FindMostCommon(ctx, text)
		if err != nil {
			_ = h.Fault(err)
			return
		}
		_ = h.Fulfill(word)
	}()
	return h
}

// CountChars is the step form of CountChars.
func (t Transforms) CountChars(_ context.Context, word string) (int, error) {
	if err := t.fail(); err != nil {
		return 0, err
	}
	return CountChars(word), nil
}

// IsOdd is the step form of IsOdd.
func (t Transforms) IsOdd(_ context.Context, n int) (bool, error) {
	if err := t.fail(); err != nil {
		return false, err
	}
	return IsOdd(n), nil
}
