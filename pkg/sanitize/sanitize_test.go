package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_StripsControlCharacters(t *testing.T) {
	assert.Equal(t, "hello world", Message("hello\x00 world\x07"))
}

func TestMessage_KeepsNewlinesAndTabs(t *testing.T) {
	assert.Equal(t, "line one\nline\ttwo", Message("  line one\nline\ttwo  "))
}

func TestMessage_WhitespaceOnlyBecomesEmpty(t *testing.T) {
	assert.Empty(t, Message(" \n\t "))
}

func TestTitle_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "Team standup call", Title("  Team \n standup\t call "))
}
