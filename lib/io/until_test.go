package iolib

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadUntil(t *testing.T) {
	testcases := []struct {
		desc     string
		input    string
		delim    string
		max      uint
		expected string
		wantErr  error
	}{
		{desc: "single byte delim", input: "abc\ndef", delim: "\n", expected: "abc\n"},
		{desc: "multi byte delim", input: "a\nb\r\nc", delim: "\r\n", expected: "a\nb\r\n"},
		{desc: "eof before delim", input: "abc", delim: "\n", wantErr: io.ErrUnexpectedEOF},
		{desc: "within limit", input: "abc\n", delim: "\n", max: 4, expected: "abc\n"},
		{desc: "over limit", input: "abcdef\n", delim: "\n", max: 4, wantErr: ErrTooLarge},
		{desc: "longer than bufio buffer", input: strings.Repeat("x", 40) + "\n", delim: "\n", expected: strings.Repeat("x", 40) + "\n"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			br := bufio.NewReaderSize(strings.NewReader(tc.input), 16)
			got, err := ReadUntil(br, []byte(tc.delim), tc.max)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, string(got))
		})
	}
}
