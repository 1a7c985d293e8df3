package testfixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDGeneratorIsSequential(t *testing.T) {
	gen := NewIDGenerator("room")

	assert.Equal(t, "room-2", gen.Peek(2))
	assert.Equal(t, "room-1", gen.Next())
	assert.Equal(t, "room-2", gen.Next())
	assert.Equal(t, 2, gen.Issued())
	assert.Equal(t, "room-3", gen.Peek(1))
}

func TestIDGeneratorDefaults(t *testing.T) {
	assert.Equal(t, "id-1", NewIDGenerator("").NextFunc()())

	var missing *IDGenerator
	assert.Empty(t, missing.NextFunc()())
}
