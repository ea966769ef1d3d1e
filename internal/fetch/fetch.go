// Package fetch resolves a model.Location to bytes, deterministically,
// with caching by canonical absolute identity (spec.md §4.A). Path
// locations are read from disk (recursing with karrick/godirwalk and
// honoring .dlignore via sabhiram/go-gitignore); Http locations are
// fetched with hashicorp/go-retryablehttp so transient network errors
// don't abort a corpus load outright - both teacher dependencies.
package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/adrg/xdg"
	"github.com/karrick/godirwalk"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/devloop-run/devloop/internal/diag"
	"github.com/devloop-run/devloop/internal/model"
)

// Fetcher resolves Locations to bytes, caching by canonical identity.
type Fetcher struct {
	client *retryablehttp.Client

	mu    sync.Mutex
	cache map[string]*fetchResult
}

type fetchResult struct {
	once sync.WaitGroup
	body []byte
	err  error
}

// New builds a Fetcher with a quiet retryable HTTP client (no built-in
// logging noise - the teacher silences this client's logger the same
// way in its API-client wiring).
func New() *Fetcher {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &Fetcher{client: client, cache: make(map[string]*fetchResult)}
}

// ResolvePath joins a Path location against its base directory. base is
// the directory of the file that introduced the location, or the
// project root for top-level locations.
func ResolvePath(base string, loc model.Location) string {
	if filepath.IsAbs(loc.At) {
		return loc.At
	}
	return filepath.Join(base, loc.At)
}

// Fetch resolves loc (relative to base, when it is a Path) to bytes. For
// a recursing directory Path, use FetchRecursive instead.
func (f *Fetcher) Fetch(base string, loc model.Location) ([]byte, error) {
	switch loc.Kind {
	case model.LocationPath:
		abs := ResolvePath(base, loc)
		return f.fetchCached(abs, func() ([]byte, error) {
			return os.ReadFile(abs)
		})
	case model.LocationHTTP:
		return f.fetchCached(loc.URL, func() ([]byte, error) {
			return f.fetchHTTP(loc.URL)
		})
	default:
		return nil, fmt.Errorf("fetch: unknown location kind %d", loc.Kind)
	}
}

// FetchRecursive resolves a recursing directory Path location to the
// lexicographically sorted list of file paths under it (contents are
// not read; call Fetch per path). The root's .dlignore file itself is
// not listed. Non-directory or non-recursing locations are an error;
// call Fetch for those instead.
func (f *Fetcher) FetchRecursive(base string, loc model.Location) ([]string, error) {
	if loc.Kind != model.LocationPath || !loc.Recurse {
		return nil, fmt.Errorf("fetch: FetchRecursive requires a recursing path location")
	}
	root := ResolvePath(base, loc)

	var ignoreMatcher *gitignore.GitIgnore
	if data, err := os.ReadFile(filepath.Join(root, ".dlignore")); err == nil {
		ignoreMatcher = gitignore.CompileIgnoreLines(splitLines(string(data))...)
	}

	var files []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			if rel == ".dlignore" {
				return nil
			}
			if ignoreMatcher != nil && ignoreMatcher.MatchesPath(rel) {
				return nil
			}
			files = append(files, path)
			return nil
		},
	})
	if err != nil {
		return nil, diag.Wrap(diag.KindFetch, "walk", err)
	}
	sort.Strings(files)
	return files, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func (f *Fetcher) fetchCached(key string, do func() ([]byte, error)) ([]byte, error) {
	f.mu.Lock()
	entry, found := f.cache[key]
	if !found {
		entry = &fetchResult{}
		entry.once.Add(1)
		f.cache[key] = entry
		f.mu.Unlock()

		entry.body, entry.err = do()
		entry.once.Done()
	} else {
		f.mu.Unlock()
		entry.once.Wait()
	}
	if entry.err != nil {
		return nil, diag.Wrap(diag.KindFetch, "read", entry.err)
	}
	return entry.body, nil
}

// fetchHTTP fetches url, consulting and populating the on-disk XDG cache
// (distinct from the in-process fetchCached memoization, which only
// lives for one invocation) so repeated `dl exec`s don't re-fetch an
// unchanged Http location every time.
func (f *Fetcher) fetchHTTP(url string) ([]byte, error) {
	cachePath, cacheErr := xdg.CacheFile(filepath.Join("devloop", "http", cacheKey(url)))
	if cacheErr == nil {
		if body, err := os.ReadFile(cachePath); err == nil {
			return body, nil
		}
	}

	resp, err := f.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if cacheErr == nil {
		_ = os.WriteFile(cachePath, body, 0o644)
	}
	return body, nil
}

// cacheKey derives a filesystem-safe cache file name from a fetched URL.
func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
