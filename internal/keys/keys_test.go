package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateNamedKeys(t *testing.T) {
	cases := map[string][]byte{
		"Up":       []byte("\x1b[A"),
		"Down":     []byte("\x1b[B"),
		"Tab":      []byte("\t"),
		"Enter":    []byte("\r"),
		"Escape":   []byte("\x1b"),
		"F1":       []byte("\x1bOP"),
		"F5":       []byte("\x1b[15~"),
		"F12":      []byte("\x1b[24~"),
		"PageDown": []byte("\x1b[6~"),
	}

	for token, want := range cases {
		got, err := Translate(token)
		require.NoError(t, err)
		assert.Equal(t, want, got, "token %q", token)
	}
}

func TestTranslateControlKeys(t *testing.T) {
	got, err := Translate("C-c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, got)

	got, err = Translate("C-a")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)

	// Uppercase letter resolves the same control byte.
	got, err = Translate("C-C")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, got)
}

func TestTranslateMetaKeys(t *testing.T) {
	got, err := Translate("M-x")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1b, 'x'}, got)

	// Meta over a named key ESC-prefixes the named key's bytes.
	got, err = Translate("M-Enter")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1b, '\r'}, got)
}

func TestTranslateControlMeta(t *testing.T) {
	got, err := Translate("C-M-c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1b, 0x03}, got)

	got, err = Translate("M-C-c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1b, 0x03}, got)
}

func TestTranslateLiteralPassthrough(t *testing.T) {
	got, err := Translate("hello world")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestTranslateInvalidKey(t *testing.T) {
	_, err := Translate("C-1")
	require.Error(t, err)
	var invalidErr *InvalidKeyError
	require.ErrorAs(t, err, &invalidErr)
}

func TestTranslateEmptyToken(t *testing.T) {
	got, err := Translate("")
	require.NoError(t, err)
	assert.Nil(t, got)
}
