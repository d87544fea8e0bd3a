package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	first := New("ord")
	second := New("ord")

	assert.True(t, strings.HasPrefix(first, "ord-"))
	assert.Len(t, first, len("ord-")+26)
	assert.NotEqual(t, first, second)
}
