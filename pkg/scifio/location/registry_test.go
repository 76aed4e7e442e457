package location

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappedID(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "plain.tif", r.MappedID("plain.tif"))

	r.MapID("alias.tif", "/data/real.tif")
	assert.Equal(t, "/data/real.tif", r.MappedID("alias.tif"))

	r.MapID("alias.tif", "")
	assert.Equal(t, "alias.tif", r.MappedID("alias.tif"))
}

func TestMappedSource(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.MappedSource("none"))

	r.MapBytes("synthetic.tif", []byte{1, 2, 3})
	h := r.MappedSource("synthetic.tif")
	require.NotNil(t, h)
	assert.Equal(t, int64(3), h.Length())

	id := r.RegisterBytes([]byte{9})
	assert.True(t, strings.HasPrefix(id, "mem://"))
	require.NotNil(t, r.MappedSource(id))
}

func TestListLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif", ".hidden"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0}, 0o644))
	}

	r := NewRegistry()
	names, err := r.List(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tif", "b.tif"}, names)

	withHidden, err := r.List(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden", "a.tif", "b.tif"}, withHidden)
}

func TestListCacheIsExplicit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.tif"), []byte{0}, 0o644))

	r := NewRegistry()
	names, err := r.List(dir, false)
	require.NoError(t, err)
	require.Equal(t, []string{"one.tif"}, names)

	// a new file is invisible until the cache is cleared
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.tif"), []byte{0}, 0o644))
	names, err = r.List(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.tif"}, names)

	r.ClearCache()
	names, err = r.List(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.tif", "two.tif"}, names)
}

func TestListURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/data/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/data/" {
			fmt.Fprint(w, `<html><body>
<a href="first.tif">first.tif</a>
<a href="second.tif">second.tif</a>
<a href="?C=M;O=A">sort</a>
<a href="missing.tif">missing.tif</a>
</body></html>`)
			return
		}
		switch req.URL.Path {
		case "/data/first.tif", "/data/second.tif":
			w.Write([]byte("x"))
		default:
			http.NotFound(w, req)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewRegistry()
	r.SetHTTPClient(srv.Client())
	names, err := r.List(srv.URL+"/data/", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"first.tif", "second.tif"}, names)
}

func TestResolveLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.tif")
	require.NoError(t, os.WriteFile(path, []byte("abcd"), 0o644))

	r := NewRegistry()
	loc, err := r.Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, KindFile, loc.Kind)
	assert.False(t, loc.IsDirectory)
	assert.Equal(t, int64(4), loc.Length)

	other, err := r.Resolve(path)
	require.NoError(t, err)
	assert.True(t, loc.Equal(other))
}

func TestOpenMappedAndSuffix(t *testing.T) {
	r := NewRegistry()
	r.MapBytes("in-memory.raw", []byte{5, 6, 7})

	h, err := r.Open("in-memory.raw")
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, int64(3), h.Length())
}
