// Package chunker splits text into fixed-size overlapping windows.
//
// Windows are measured in runes so a chunk never ends inside a multi-byte
// UTF-8 sequence. For ASCII input a rune is a byte and the arithmetic below
// applies to byte offsets unchanged.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"unicode/utf8"
)

const (
	// DefaultSize is the default window length.
	DefaultSize = 4000
	// DefaultOverlap is the default number of runes shared by consecutive windows.
	DefaultOverlap = 200
)

// ErrInvalidArgument is returned for a non-positive size or an overlap
// outside [0, size).
var ErrInvalidArgument = errors.New("invalid chunking argument")

// Chunk splits text into windows of at most size runes, each starting
// size-overlap runes after the previous one. The window that reaches the end
// of text is the last. Empty text yields no chunks.
func Chunk(text string, size, overlap int) ([]string, error) {
	seq, err := Windows(text, size, overlap)
	if err != nil {
		return nil, err
	}

	n, _ := Count(utf8.RuneCountInString(text), size, overlap)
	chunks := make([]string, 0, n)
	for c := range seq {
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Windows returns the chunk sequence without materializing it. The sequence
// holds no state between iterations and may be ranged over repeatedly.
func Windows(text string, size, overlap int) (iter.Seq[string], error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	step := stepFor(size, overlap)

	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		offsets := runeOffsets(text)
		length := len(offsets) - 1

		for i := 0; i < length; i += step {
			end := min(i+size, length)
			if !yield(text[offsets[i]:offsets[end]]) {
				return
			}
			// Any later window would lie inside this one.
			if end == length {
				return
			}
		}
	}, nil
}

// Count returns the number of chunks produced for a text of length runes:
// ceil(max(length-overlap, 1) / step) when length > 0, otherwise 0.
func Count(length, size, overlap int) (int, error) {
	if err := validate(size, overlap); err != nil {
		return 0, err
	}
	if length <= 0 {
		return 0, nil
	}
	step := stepFor(size, overlap)
	span := max(length-overlap, 1)
	return (span + step - 1) / step, nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size must be > 0, got %d", ErrInvalidArgument, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidArgument, size, overlap)
	}
	return nil
}

func stepFor(size, overlap int) int {
	return max(1, size-overlap)
}

// runeOffsets returns the byte offset of every rune in text followed by
// len(text), so text[offsets[i]:offsets[j]] is the rune range [i, j).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
