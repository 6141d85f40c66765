package resource

import (
	"strings"

	"finitefield.org/edu-storefront/internal/record"
)

const apiSuffix = "/api"

// Resolve turns a possibly server-relative resource path (image, PDF) into an absolute URL.
// Absolute http(s) URLs are returned untouched. A single trailing "/api" is stripped from base
// because static assets are served from the host root, not the API prefix.
func Resolve(path, base string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base = strings.TrimSuffix(base, apiSuffix)
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

// Resolver binds a configured backend base URL.
type Resolver struct {
	base string
}

// NewResolver constructs a Resolver for the given base URL.
func NewResolver(base string) Resolver {
	return Resolver{base: strings.TrimSpace(base)}
}

// Base returns the configured base URL.
func (r Resolver) Base() string { return r.base }

// Resolve resolves path against the configured base.
func (r Resolver) Resolve(path string) string {
	return Resolve(path, r.base)
}

// Field resolves the first non-empty path stored under keys.
func (r Resolver) Field(rec record.Record, keys ...string) string {
	return Resolve(rec.String(keys...), r.base)
}
