package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher performs one network attempt for a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (string, error)
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFetcher fetches locators over HTTP, resolving relative locators
// against Base (normally the page URL).
type HTTPFetcher struct {
	Client  HTTPClient
	Base    *url.URL
	Timeout time.Duration
}

// Resolve returns the absolute URL for locator.
func (f *HTTPFetcher) Resolve(locator string) (string, error) {
	ref, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse locator %q: %w", locator, err)
	}
	if f.Base == nil {
		return ref.String(), nil
	}
	return f.Base.ResolveReference(ref).String(), nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (string, error) {
	target, err := f.Resolve(locator)
	if err != nil {
		return "", err
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("creating request for %s: %w", target, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", &TransientFetchError{Locator: locator, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &TransientFetchError{
			Locator: locator,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("HTTP %d from %s", resp.StatusCode, target),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientFetchError{Locator: locator, Err: fmt.Errorf("reading response: %w", err)}
	}
	return string(body), nil
}

// FileFetcher serves locators from a directory on disk. Used by the CLI to
// run pages without a server. Missing files behave like HTTP 404.
type FileFetcher struct {
	Dir string
}

// Fetch implements Fetcher.
func (f FileFetcher) Fetch(ctx context.Context, locator string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse locator %q: %w", locator, err)
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return "", &TransientFetchError{Locator: locator, Err: fmt.Errorf("scheme %q not served from disk", u.Scheme)}
	}

	rel := path.Clean("/" + u.Path)
	full := filepath.Join(f.Dir, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	data, err := os.ReadFile(full)
	if err != nil {
		status := http.StatusInternalServerError
		if os.IsNotExist(err) {
			status = http.StatusNotFound
		}
		return "", &TransientFetchError{Locator: locator, Status: status, Err: err}
	}
	return string(data), nil
}
