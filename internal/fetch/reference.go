package fetch

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const hrefMarker = "href"

// NormalizeReference turns a catalog source reference into a plain URL. References
// wrapped in an HTML anchor are unwrapped to the first quoted literal after href.
func NormalizeReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty source reference", ErrMalformedReference)
	}
	idx := strings.Index(strings.ToLower(ref), hrefMarker)
	if idx < 0 {
		return ref, nil
	}

	rest := ref[idx+len(hrefMarker):]
	open := strings.IndexAny(rest, `"'`)
	if open < 0 {
		return "", fmt.Errorf("%w: no quoted url in %q", ErrMalformedReference, ref)
	}
	quote := rest[open]
	rest = rest[open+1:]
	end := strings.IndexByte(rest, quote)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated quote in %q", ErrMalformedReference, ref)
	}
	out := strings.TrimSpace(rest[:end])
	if out == "" {
		return "", fmt.Errorf("%w: empty quoted url in %q", ErrMalformedReference, ref)
	}
	return out, nil
}

// FileName returns the final path segment of rawURL, ignoring any query or fragment.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	p = strings.TrimRight(p, "/")
	name := path.Base(p)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: no file name in %q", ErrMalformedReference, rawURL)
	}
	// u.Path is already decoded; the name must stay a single path segment.
	if name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: unsafe file name %q in %q", ErrMalformedReference, name, rawURL)
	}
	return name, nil
}

// ResolveReference normalizes ref and returns the URL together with its file name.
func ResolveReference(ref string) (string, string, error) {
	u, err := NormalizeReference(ref)
	if err != nil {
		return "", "", err
	}
	name, err := FileName(u)
	if err != nil {
		return "", "", err
	}
	return u, name, nil
}
