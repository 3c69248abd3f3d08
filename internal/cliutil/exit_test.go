package cliutil_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpfed/mcpfed/internal/cliutil"
)

func TestCodeOfUnwrappedErrorIsGenericFailure(t *testing.T) {
	assert.Equal(t, cliutil.ExitFailure, cliutil.CodeOf(errors.New("boom")))
}

func TestCodeOfNilIsOK(t *testing.T) {
	assert.Equal(t, cliutil.ExitOK, cliutil.CodeOf(nil))
}

func TestCodeOfWrappedErrorReturnsItsCode(t *testing.T) {
	err := cliutil.Wrap(cliutil.ExitConfigInvalid, errors.New("bad config"))
	assert.Equal(t, cliutil.ExitConfigInvalid, cliutil.CodeOf(err))
	assert.Equal(t, "bad config", err.Error())
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, cliutil.Wrap(cliutil.ExitFailure, nil))
}

func TestCodeOfWrappedErrorUnwraps(t *testing.T) {
	cause := errors.New("root cause")
	err := cliutil.Wrap(cliutil.ExitDependency, cause)
	assert.True(t, errors.Is(err, cause))
}
