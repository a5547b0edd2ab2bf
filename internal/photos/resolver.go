// Package photos resolves opaque photo keys to client-usable URLs. The real
// resolver lives in the media service; this one prefixes a configured base
// URL, which is all the engine needs.
package photos

import (
	"context"
	"strings"
)

type URLResolver struct {
	baseURL string
}

func NewURLResolver(baseURL string) *URLResolver {
	return &URLResolver{baseURL: strings.TrimRight(baseURL, "/")}
}

func (r *URLResolver) Resolve(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	return r.baseURL + "/" + strings.TrimLeft(key, "/"), nil
}
