package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reassemble joins chunks produced with the given overlap, dropping the
// shared prefix of every chunk after the first.
func reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c)
			continue
		}
		runes := []rune(c)
		prev := []rune(b.String())
		// The overlap may be shorter than requested when the final window
		// is short; measure what actually repeats.
		shared := min(overlap, len(runes))
		for shared > 0 && !strings.HasSuffix(string(prev), string(runes[:shared])) {
			shared--
		}
		b.WriteString(string(runes[shared:]))
	}
	return b.String()
}

func TestChunk_Coverage(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{name: "shorter than window", text: "hello world", size: 4000, overlap: 200},
		{name: "exact multiple", text: strings.Repeat("abcdefghij", 10), size: 10, overlap: 0},
		{name: "with overlap", text: "the quick brown fox jumps over the lazy dog", size: 10, overlap: 3},
		{name: "step of one", text: "abcdef", size: 2, overlap: 1},
		{name: "multibyte", text: strings.Repeat("привет мир ", 20), size: 16, overlap: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Chunk(tt.text, tt.size, tt.overlap)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), tt.size)
				assert.True(t, utf8.ValidString(c))
			}
			assert.True(t, strings.HasPrefix(tt.text, chunks[0]))
			assert.True(t, strings.HasSuffix(tt.text, chunks[len(chunks)-1]))
		})
	}
}

func TestChunk_ReconstructsWithoutOverlap(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 400)

	chunks, err := Chunk(text, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunk_ReconstructsWithOverlap(t *testing.T) {
	text := "0123456789abcdefghijklmnopqrstuvwxyz"

	chunks, err := Chunk(text, 8, 3)
	require.NoError(t, err)

	var b strings.Builder
	b.WriteString(chunks[0])
	step := 8 - 3
	for i := 1; i < len(chunks); i++ {
		// chunk i starts at i*step; everything before the previous end is shared.
		prevEnd := (i-1)*step + len(chunks[i-1])
		b.WriteString(chunks[i][prevEnd-i*step:])
	}
	assert.Equal(t, text, b.String())
	assert.Equal(t, text, reassemble(chunks, 3))
}

func TestChunk_CountFormula(t *testing.T) {
	for _, length := range []int{0, 1, 199, 200, 201, 3800, 3999, 4000, 4001, 7600, 7800, 7801, 12345, 40000} {
		text := strings.Repeat("x", length)

		chunks, err := Chunk(text, DefaultSize, DefaultOverlap)
		require.NoError(t, err)

		want := 0
		if length > 0 {
			span := max(length-200, 1)
			want = (span + 3799) / 3800
		}
		assert.Len(t, chunks, want, "length %d", length)

		n, err := Count(length, DefaultSize, DefaultOverlap)
		require.NoError(t, err)
		assert.Equal(t, want, n, "length %d", length)
	}
}

func TestChunk_Windows(t *testing.T) {
	chunks, err := Chunk("abcdefghij", 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, chunks)

	chunks, err = Chunk("abcdefghijk", 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "defg", "ghij", "jk"}, chunks)
}

func TestChunk_Empty(t *testing.T) {
	chunks, err := Chunk("", DefaultSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_InvalidArguments(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{name: "zero size", size: 0, overlap: 0},
		{name: "negative size", size: -5, overlap: 0},
		{name: "overlap equals size", size: 10, overlap: 10},
		{name: "overlap exceeds size", size: 10, overlap: 11},
		{name: "negative overlap", size: 10, overlap: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Chunk("some text", tt.size, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Nil(t, chunks)

			_, err = Count(100, tt.size, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	// Validation applies even when there is nothing to split.
	_, err := Chunk("", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWindows_Restartable(t *testing.T) {
	seq, err := Windows("restartable sequence of text", 6, 2)
	require.NoError(t, err)

	var first, second []string
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestWindows_EarlyStop(t *testing.T) {
	seq, err := Windows(strings.Repeat("a", 100), 10, 0)
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}
