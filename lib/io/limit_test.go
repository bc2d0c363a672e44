package iolib

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitReader(t *testing.T) {
	b, err := io.ReadAll(LimitReader(strings.NewReader("Hello, World!"), 5))
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(b))
}

func TestMaxBytesReader(t *testing.T) {
	testcases := []struct {
		desc    string
		input   string
		max     uint
		want    string
		wantErr error
	}{
		{desc: "under limit", input: "abc", max: 10, want: "abc"},
		{desc: "exactly at limit", input: "abcde", max: 5, want: "abcde"},
		{desc: "over limit", input: "abcdef", max: 5, want: "abcde", wantErr: ErrTooLarge},
		{desc: "no limit", input: "abcdef", max: 0, want: "abcdef"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := io.ReadAll(MaxBytesReader(bytes.NewBufferString(tc.input), tc.max))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, string(got))
		})
	}
}
