package i18n

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Bundle is the consumed message catalog: one flat JSON object per language.
type Bundle struct {
	dict      map[string]map[string]string
	fallback  string
	supported map[string]struct{}
}

// Load reads <dir>/<lang>.json for every supported language.
func Load(dir string, fallback string, supported []string) (*Bundle, error) {
	return LoadFS(os.DirFS(dir), fallback, supported)
}

// LoadFS reads <lang>.json files from fsys.
func LoadFS(fsys fs.FS, fallback string, supported []string) (*Bundle, error) {
	fallback = LocaleKey(fallback)
	if fallback == "" {
		fallback = defaultLocaleKey
	}
	b := &Bundle{
		dict:      map[string]map[string]string{},
		fallback:  fallback,
		supported: map[string]struct{}{},
	}
	if len(supported) == 0 {
		supported = []string{fallback}
	}
	for _, raw := range supported {
		l := LocaleKey(raw)
		if l == "" {
			continue
		}
		b.supported[l] = struct{}{}
		data, err := fs.ReadFile(fsys, l+".json")
		if err != nil {
			// allow missing file for non-default locales
			if l == fallback {
				return nil, fmt.Errorf("load locale %s: %w", l, err)
			}
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", l, err)
		}
		b.dict[l] = m
	}
	if _, ok := b.dict[fallback]; !ok {
		return nil, fmt.Errorf("fallback locale %s not loaded", fallback)
	}
	b.supported[fallback] = struct{}{}
	return b, nil
}

// NewBundle builds a catalog from in-memory messages.
func NewBundle(fallback string, messages map[string]map[string]string) *Bundle {
	fallback = LocaleKey(fallback)
	if fallback == "" {
		fallback = defaultLocaleKey
	}
	b := &Bundle{
		dict:      map[string]map[string]string{},
		fallback:  fallback,
		supported: map[string]struct{}{fallback: {}},
	}
	for lang, m := range messages {
		key := LocaleKey(lang)
		if key == "" {
			continue
		}
		b.dict[key] = m
		b.supported[key] = struct{}{}
	}
	return b
}

func (b *Bundle) Supported() []string {
	out := make([]string, 0, len(b.supported))
	for k := range b.supported {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fallback returns the configured fallback language.
func (b *Bundle) Fallback() string { return b.fallback }

// IsSupported reports whether the locale key of lang has a catalog.
func (b *Bundle) IsSupported(lang string) bool {
	_, ok := b.supported[LocaleKey(lang)]
	return ok
}

// T returns translation for key in lang, falling back to default and finally key.
func (b *Bundle) T(lang, key string) string {
	if b == nil {
		return key
	}
	if lang = LocaleKey(lang); lang != "" {
		if m, ok := b.dict[lang]; ok {
			if v, ok := m[key]; ok && v != "" {
				return v
			}
		}
	}
	if m, ok := b.dict[b.fallback]; ok {
		if v, ok := m[key]; ok && v != "" {
			return v
		}
	}
	return key
}

// Tf formats the translation for key with args.
func (b *Bundle) Tf(lang, key string, args ...any) string {
	return fmt.Sprintf(b.T(lang, key), args...)
}

// Resolve chooses best language from Accept-Language header.
func (b *Bundle) Resolve(acceptLang string) string {
	acceptLang = strings.TrimSpace(acceptLang)
	if acceptLang == "" {
		return b.fallback
	}
	// tags come back ordered by q-value, ties keep header order
	tags, weights, err := language.ParseAcceptLanguage(acceptLang)
	if err != nil {
		return b.fallback
	}
	for i, tag := range tags {
		if i < len(weights) && weights[i] <= 0 {
			continue
		}
		base, _ := tag.Base()
		if b.IsSupported(base.String()) {
			return LocaleKey(base.String())
		}
	}
	return b.fallback
}
