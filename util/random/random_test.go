package random

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqLengthAndCharset(t *testing.T) {
	for _, n := range []int{0, 1, 16, 24} {
		s := Seq(n)
		assert.Len(t, s, n)
		for _, r := range s {
			assert.True(t, strings.ContainsRune(alphanum, r), "unexpected rune %q", r)
		}
	}
}

func TestSeqIsNotConstant(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[Seq(16)] = true
	}
	assert.Greater(t, len(seen), 1)
}
