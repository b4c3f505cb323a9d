package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextReport(t *testing.T) {
	report := "# Laptops\n\nIntro paragraph.\n\n## Battery\n\n" + strings.Repeat("Battery life matters. ", 20) +
		"\n\n## Price\n\n" + strings.Repeat("Prices vary. ", 20)

	chunks, err := NewRecursiveCharacterTextSplitter(200, 20).SplitText(report)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c))
		assert.LessOrEqual(t, len(c), 200)
	}
	assert.Contains(t, strings.Join(chunks, " "), "Battery")
	assert.Contains(t, strings.Join(chunks, " "), "Prices vary.")
}

func TestSplitTextBlank(t *testing.T) {
	chunks, err := NewRecursiveCharacterTextSplitter(100, 10).SplitText("   \n\n  ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
