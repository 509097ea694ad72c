package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextPlainFile(t *testing.T) {
	out, err := Text("notes.txt", []byte("plain text content"))

	require.NoError(t, err)
	assert.Equal(t, "plain text content", out)
}

func TestTextExtensionCaseInsensitive(t *testing.T) {
	out, err := Text("NOTES.TXT", []byte("upper case name"))

	require.NoError(t, err)
	assert.Equal(t, "upper case name", out)
}

func TestTextStripsInvalidUTF8(t *testing.T) {
	out, err := Text("notes.txt", []byte{'o', 'k', 0xff, 0xfe, '!'})

	require.NoError(t, err)
	assert.Equal(t, "ok!", out)
}

func TestTextUnsupportedExtension(t *testing.T) {
	for _, name := range []string{"image.png", "sheet.xlsx", "noextension"} {
		_, err := Text(name, []byte("data"))
		assert.ErrorIs(t, err, ErrUnsupportedType, name)
	}
}

func TestTextCorruptPDF(t *testing.T) {
	_, err := Text("broken.pdf", []byte("not actually a pdf"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedType)
}

func TestTextCorruptDocx(t *testing.T) {
	_, err := Text("broken.docx", []byte("not actually a docx"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedType)
}
