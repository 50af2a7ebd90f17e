package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespaced(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"matrixnet", []string{"board", "b1"}, "matrixnet:board:b1"},
		{"", []string{"lock", "alloc:b1:A"}, "lock:alloc:b1:A"},
		{"mx", []string{"cycles"}, "mx:cycles"},
		{"", []string{"placements"}, "placements"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, namespaced(tt.prefix, tt.parts...))
	}
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte("x"))
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}
