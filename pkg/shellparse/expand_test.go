package shellparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	testCases := []struct {
		name     string
		declared []string
		supplied []string
		want     []string
	}{
		{
			name:     "positional reorder",
			declared: []string{"$2", "$1"},
			supplied: []string{"hi", "there"},
			want:     []string{"there", "hi"},
		},
		{
			name:     "star expansion",
			declared: []string{"--", "$*"},
			supplied: []string{"a", "b"},
			want:     []string{"--", "a", "b"},
		},
		{
			name:     "no references appends supplied",
			declared: []string{"serve", "--port=80"},
			supplied: []string{"extra"},
			want:     []string{"serve", "--port=80", "extra"},
		},
		{
			name:     "out of range dropped",
			declared: []string{"$3", "x"},
			supplied: []string{"one"},
			want:     []string{"x"},
		},
		{
			name:     "dollar word without digits is literal",
			declared: []string{"$HOME"},
			supplied: []string{"v"},
			want:     []string{"$HOME", "v"},
		},
		{
			name:     "empty declared",
			declared: nil,
			supplied: []string{"a"},
			want:     []string{"a"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Expand(tc.declared, tc.supplied))
		})
	}
}
