package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_Defaults(t *testing.T) {
	p := Parse("", "")
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Zero(t, p.Offset)
}

func TestParse_ClampsLimit(t *testing.T) {
	assert.Equal(t, MaxLimit, Parse("5000", "").Limit)
}

func TestParse_IgnoresMalformedValues(t *testing.T) {
	p := Parse("abc", "-3")
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Zero(t, p.Offset)
}

func TestParse_ValidValues(t *testing.T) {
	p := Parse("50", "10")
	assert.Equal(t, 50, p.Limit)
	assert.Equal(t, 10, p.Offset)
}
