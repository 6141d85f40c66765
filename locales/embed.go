// Package locales embeds the default message catalogs consumed by the storefront.
package locales

import "embed"

//go:embed *.json
var FS embed.FS
