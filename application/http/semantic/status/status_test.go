package status

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestFromCode(t *testing.T) {
	s, ok := FromCode(404)
	assert.True(t, ok)
	assert.Equal(t, NotFound, s)

	s, ok = FromCode(599)
	assert.False(t, ok)
	assert.Equal(t, Status{Code: 599}, s)
}

func TestText(t *testing.T) {
	assert.Equal(t, "Content Too Large", Text(413))
	assert.Equal(t, "Unknown", Text(999))
}

func TestIsError(t *testing.T) {
	assert.False(t, OK.IsError())
	assert.False(t, Found.IsError())
	assert.True(t, BadRequest.IsError())
	assert.True(t, InternalServerError.IsError())
}

func TestError(t *testing.T) {
	err := errors.Wrap(NewError(io.ErrUnexpectedEOF, BadRequest), "decoding")

	var se Error
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, BadRequest, se.Status)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, `400 Bad Request: "unexpected EOF"`, se.Error())
}
