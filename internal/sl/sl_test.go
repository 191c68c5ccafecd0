package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())
	assert.Equal(t, "<nil>", Err(nil).Value.String())
}

func TestSecret(t *testing.T) {
	assert.Equal(t, "postg***", Secret("password", "postgres").Value.String())
	assert.Equal(t, "***", Secret("password", "abc").Value.String())
	assert.Equal(t, "?", Secret("password", "").Value.String())
}
