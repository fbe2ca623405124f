package oml

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestHandleError(t *testing.T) {
	ran := false
	err := HandleError(func() {
		ran = true
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, ran, true)

	cause := errors.New("bad event")
	err = HandleError(func() {
		panic(cause)
	})
	assert.Equal(t, errors.Is(err, cause), true)

	err = HandleError(func() {
		var attributes map[string]any
		attributes["k"] = "v"
	})
	assert.NotEqual(t, err, nil)

	err = HandleError(func() {
		panic("text")
	})
	assert.Equal(t, err.Error(), "text")
}

func TestTraceWithReturn(t *testing.T) {
	assert.Equal(t, TraceWithReturn("[t]add", func() int {
		return 1 + 2
	}), 3)
}
