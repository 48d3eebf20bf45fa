package storeerr

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageWithAndWithoutCause(t *testing.T) {
	e := New(NotFound, "memory abc", nil)
	assert.Equal(t, "not_found: memory abc", e.Error())

	wrapped := New(StorageFatal, "insert failed", errors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "storage_fatal")
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := New(NotFound, "memory abc", nil)
	b := New(NotFound, "knowledge xyz", errors.New("boom"))
	assert.True(t, errors.Is(a, b))
	assert.True(t, errors.Is(a, ErrNotFound))
	assert.False(t, errors.Is(a, ErrStorageFatal))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := New(ExternalUnavailable, "embed call failed", cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestClassifyPassesThroughExistingError(t *testing.T) {
	orig := New(InvalidArgument, "bad vector length", nil)
	got := Classify(orig)
	assert.Same(t, orig, got)
}

func TestClassifySQLNoRows(t *testing.T) {
	got := Classify(sql.ErrNoRows)
	assert.Equal(t, NotFound, got.Kind)
}

func TestClassifyUnknownFallsBackToStorageFatal(t *testing.T) {
	got := Classify(errors.New("weird driver error"))
	assert.Equal(t, StorageFatal, got.Kind)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestWrap(t *testing.T) {
	cause := errors.New("constraint violated")
	e := Wrap(InvalidArgument, cause, "memory %s already exists", "abc-123")
	assert.Equal(t, "invalid_argument: memory abc-123 already exists: constraint violated", e.Error())
}
