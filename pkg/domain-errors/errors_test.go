package derrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("connection refused")
	err := Wrap(root, CodeUnavailable, "candidate lookup failed")

	require.Error(t, err)
	assert.True(t, errors.Is(err, root))
	assert.True(t, HasCode(err, CodeUnavailable))
	assert.False(t, HasCode(err, CodeNotFound))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "should vanish"))
}

func TestHasCodeSeesInnerCodes(t *testing.T) {
	inner := New(CodeIntegrityViolation, "duplicate identifier")
	outer := Wrap(inner, CodeInternal, "resolution failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeIntegrityViolation))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
	assert.Equal(t, CodeConflict, CodeOf(New(CodeConflict, "dup")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeValidation))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeIntegrityViolation))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeInternal))
}
