package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapfKeepsChain(t *testing.T) {
	err := Wrapf(ErrUnknownTool, "dispatch %q", "drop_table")

	assert.True(t, Is(err, ErrUnknownTool))
	assert.Contains(t, err.Error(), "errors_test.go:")
	assert.True(t, strings.HasSuffix(err.Error(), `dispatch "drop_table": unknown tool`))
}

func TestWrapfNil(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "nothing"))
}

func TestNewCarriesCallSite(t *testing.T) {
	err := New("bad budget %d", -1)
	assert.Contains(t, err.Error(), "[errors_test.go:")
	assert.Contains(t, err.Error(), "bad budget -1")
}
