package chunk

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText_Passthrough(t *testing.T) {
	text, err := ExtractText("markdown", []byte("# hi"))
	require.NoError(t, err)
	assert.Equal(t, "# hi", text)

	text, err = ExtractText("text", []byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
}

func TestExtractText_UnknownFormat(t *testing.T) {
	_, err := ExtractText("epub", []byte("x"))
	require.Error(t, err)
}

func TestExtractHTML(t *testing.T) {
	page := []byte(`<!DOCTYPE html>
<html>
<head><title>Ignored</title><style>body { color: red }</style></head>
<body>
  <script>var hidden = 1;</script>
  <h1>Heading</h1>
  <p>First paragraph with <b>bold</b> text.</p>
  <p>Second paragraph.</p>
</body>
</html>`)

	text, err := extractHTML(page)
	require.NoError(t, err)

	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "First paragraph with bold text.")
	assert.Contains(t, text, "Second paragraph.")
	assert.NotContains(t, text, "hidden", "script content must not leak")
	assert.NotContains(t, text, "color: red", "style content must not leak")
	assert.NotContains(t, text, "Ignored", "head content must not leak")
}

// buildDOCX assembles a minimal docx container around the given body XML.
func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	body := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	text, err := extractDOCX(buildDOCX(t, body))
	require.NoError(t, err)

	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Second paragraph.")
}

func TestExtractDOCX_MissingBody(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, err := w.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = extractDOCX(buf.Bytes())
	require.Error(t, err)
}

func TestCollapseBlankRuns(t *testing.T) {
	got := collapseBlankRuns("a\n\n\n\nb  \n\nc\n")
	assert.Equal(t, "a\n\nb\n\nc", got)
}
