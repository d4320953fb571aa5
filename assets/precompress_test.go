package assets

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAsset(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestPrecompress(t *testing.T) {
	content := strings.Repeat("body { color: #f43f5e; }\n", 200)
	path := writeAsset(t, "app.css", content)

	written, err := Precompress(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path + ".gz", path + ".zst"}, written)

	gz, err := os.Open(path + ".gz")
	require.NoError(t, err)
	defer gz.Close()
	gr, err := gzip.NewReader(gz)
	require.NoError(t, err)
	got, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	zst, err := os.ReadFile(path + ".zst")
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	got, err = dec.DecodeAll(zst, nil)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	info, err := os.Stat(path + ".gz")
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(content)))
}

func TestPrecompress_SingleEncoding(t *testing.T) {
	path := writeAsset(t, "app.js", "console.log('hi')")

	written, err := Precompress(path, Zstd)
	require.NoError(t, err)
	assert.Equal(t, []string{path + ".zst"}, written)
	assert.NoFileExists(t, path+".gz")
}

func TestPrecompress_Errors(t *testing.T) {
	path := writeAsset(t, "app.js", "x")

	_, err := Precompress(path, Encoding("br"))
	assert.Error(t, err)

	missing := filepath.Join(t.TempDir(), "missing.js")
	_, err = Precompress(missing, Gzip)
	assert.Error(t, err)
	assert.NoFileExists(t, missing+".gz")
}

func TestCompressible(t *testing.T) {
	assert.True(t, Compressible("priv/static/assets/app.js"))
	assert.True(t, Compressible("app.CSS"))
	assert.True(t, Compressible("favicon.svg"))
	assert.False(t, Compressible("logo.png"))
	assert.False(t, Compressible("app.js.gz"))
}

func TestEncoding_Extension(t *testing.T) {
	assert.Equal(t, ".gz", Gzip.Extension())
	assert.Equal(t, ".zst", Zstd.Extension())
	assert.Equal(t, "", Encoding("br").Extension())
}
