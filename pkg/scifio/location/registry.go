package location

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/RayPlante/scifio/pkg/scifio/dtools"
	"github.com/RayPlante/scifio/pkg/scifio/handle"
)

type listingKey struct {
	path          string
	includeHidden bool
}

// Registry maps aliases to canonical paths, paths to in-memory sources, and
// caches directory listings. All state is protected by a single mutex; the
// listing cache is invalidated only explicitly. Format detection lists the
// same directory many times in a session, so listings stay cached until
// ClearCache or Clear.
type Registry struct {
	mu       sync.Mutex
	idMap    map[string]string
	sources  map[string][]byte
	listings map[listingKey][]string
	httpc    *http.Client
}

// NewRegistry creates an empty registry using the default HTTP client.
func NewRegistry() *Registry {
	return &Registry{
		idMap:    make(map[string]string),
		sources:  make(map[string][]byte),
		listings: make(map[listingKey][]string),
	}
}

// SetHTTPClient overrides the client used for URL listings and resolution.
func (r *Registry) SetHTTPClient(c *http.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.httpc = c
}

func (r *Registry) client() *http.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.httpc != nil {
		return r.httpc
	}
	return http.DefaultClient
}

// MapID redirects alias to canonical. An empty canonical removes the alias.
func (r *Registry) MapID(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if canonical == "" {
		delete(r.idMap, alias)
		return
	}
	r.idMap[alias] = canonical
}

// MappedID returns the alias target if registered, else id unchanged.
func (r *Registry) MappedID(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mapped, ok := r.idMap[id]; ok {
		return mapped
	}
	return id
}

// MapBytes registers data as the in-memory source for id. Nil data removes
// the mapping.
func (r *Registry) MapBytes(id string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if data == nil {
		delete(r.sources, id)
		return
	}
	r.sources[id] = data
}

// RegisterBytes registers data under a fresh synthetic identifier and
// returns it.
func (r *Registry) RegisterBytes(data []byte) string {
	id := "mem://" + uuid.NewString()
	r.MapBytes(id, data)
	return id
}

// MappedSource returns a read-only stream over the in-memory source
// registered for id, or nil if none is registered.
func (r *Registry) MappedSource(id string) handle.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.sources[id]
	if !ok {
		return nil
	}
	return handle.NewBytes(data)
}

// List enumerates the children of a directory path or URL, excluding names
// beginning with a dot unless includeHidden is set. Results are cached
// under (absolute path, includeHidden).
func (r *Registry) List(path string, includeHidden bool) ([]string, error) {
	path = r.MappedID(path)
	if !IsURL(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	key := listingKey{path: path, includeHidden: includeHidden}

	r.mu.Lock()
	if cached, ok := r.listings[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	var names []string
	var err error
	if IsURL(path) {
		names, err = r.listURL(path, includeHidden)
	} else {
		names, err = listDir(path, includeHidden)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.listings[key] = names
	r.mu.Unlock()
	return names, nil
}

// ClearCache drops all cached directory listings.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings = make(map[listingKey][]string)
}

// Clear resets all registry state; called at process teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idMap = make(map[string]string)
	r.sources = make(map[string][]byte)
	r.listings = make(map[listingKey][]string)
}

func listDir(path string, includeHidden bool) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !includeHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// listURL applies the HTML directory-index convention: fetch the URL as
// text, scan for anchor targets, and probe each child for existence.
func (r *Registry) listURL(url string, includeHidden bool) ([]string, error) {
	resp, err := r.client().Get(url)
	if err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("location: GET %s: %s", url, resp.Status)
	}
	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}

	base := strings.TrimSuffix(url, "/")
	var names []string
	s := string(body)
	for {
		ndx := strings.Index(s, "a href")
		if ndx < 0 {
			break
		}
		s = s[ndx+8:]
		idx := strings.IndexByte(s, '"')
		if idx < 0 {
			break
		}
		name := s[:idx]
		s = s[idx+1:]
		if name == "" || strings.HasPrefix(name, "?") || strings.HasPrefix(name, "/") {
			continue
		}
		trimmed := strings.TrimSuffix(name, "/")
		if !includeHidden && strings.HasPrefix(trimmed, ".") {
			continue
		}
		// probe the child; index pages routinely link to parents and sorts
		head, err := r.client().Head(base + "/" + name)
		if err != nil {
			continue
		}
		head.Body.Close()
		if head.StatusCode < 400 {
			names = append(names, trimmed)
		}
	}
	return names, nil
}

// Open resolves id to an open source handle: a registered in-memory
// source, a URL, or a local file, transparently unwrapping gzip, bzip2 and
// zip archives by suffix.
func (r *Registry) Open(id string) (handle.Handle, error) {
	id = r.MappedID(id)
	var h handle.Handle
	if mapped := r.MappedSource(id); mapped != nil {
		h = mapped
	} else if IsURL(id) {
		url, err := handle.OpenURL(r.client(), id)
		if err != nil {
			return nil, err
		}
		h = url
	} else {
		fh, err := handle.OpenFile(filepath.Clean(id))
		if err != nil {
			return nil, err
		}
		h = fh
	}

	switch {
	case dtools.CheckSuffix(id, "gz"):
		return handle.NewGzip(h)
	case dtools.CheckSuffix(id, "bz2"):
		return handle.NewBzip2(h)
	case dtools.CheckSuffix(id, "zip"):
		return handle.NewZip(h, "")
	}
	return h, nil
}
