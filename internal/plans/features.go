package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/record"
	"finitefield.org/edu-storefront/internal/richtext"
)

// FeatureLabels holds the human-readable templates appended for plan flags.
type FeatureLabels struct {
	Devices         string `yaml:"devices"`
	Quality         string `yaml:"quality"`
	Downloads       string `yaml:"downloads"`
	Certificates    string `yaml:"certificates"`
	PrioritySupport string `yaml:"priority_support"`
	AdFree          string `yaml:"ad_free"`
}

// DefaultFeatureLabels returns the built-in English labels.
func DefaultFeatureLabels() FeatureLabels {
	return FeatureLabels{
		Devices:         "Watch on up to %d devices",
		Quality:         "%s video quality",
		Downloads:       "Downloadable content",
		Certificates:    "Certificates of completion",
		PrioritySupport: "Priority support",
		AdFree:          "Ad-free experience",
	}
}

func (l FeatureLabels) withDefaults(def FeatureLabels) FeatureLabels {
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	return FeatureLabels{
		Devices:         pick(l.Devices, def.Devices),
		Quality:         pick(l.Quality, def.Quality),
		Downloads:       pick(l.Downloads, def.Downloads),
		Certificates:    pick(l.Certificates, def.Certificates),
		PrioritySupport: pick(l.PrioritySupport, def.PrioritySupport),
		AdFree:          pick(l.AdFree, def.AdFree),
	}
}

// Features returns the explicit feature list of p followed by flag-derived entries in fixed order:
// devices, quality, downloads, certificates, priority support, ad-free.
func (l FeatureLabels) Features(p Plan) []string {
	out := explicitFeatures(p)
	if p.MaxDevices > 0 {
		out = append(out, fmt.Sprintf(l.Devices, p.MaxDevices))
	}
	if q := strings.TrimSpace(p.VideoQuality); q != "" {
		out = append(out, fmt.Sprintf(l.Quality, q))
	}
	if p.DownloadableContent {
		out = append(out, l.Downloads)
	}
	if p.Certificates {
		out = append(out, l.Certificates)
	}
	if p.PrioritySupport {
		out = append(out, l.PrioritySupport)
	}
	if p.AdFree {
		out = append(out, l.AdFree)
	}
	return out
}

func explicitFeatures(p Plan) []string {
	switch raw := p.FeaturesRaw.(type) {
	case []string:
		return append([]string{}, raw...)
	case string:
		if strings.TrimSpace(raw) == "" {
			break
		}
		var list []any
		if err := json.Unmarshal([]byte(raw), &list); err != nil || list == nil {
			return []string{raw}
		}
		return verbatim(list)
	case nil:
	default:
		if list, ok := record.List(raw); ok {
			return verbatim(list)
		}
	}
	return richtext.Lines(richtext.PlainText(p.Description))
}

func verbatim(list []any) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if text := record.Text(item); strings.TrimSpace(text) != "" {
			out = append(out, text)
		}
	}
	return out
}

// LabelCatalog maps locale keys to feature labels.
type LabelCatalog struct {
	byLocale map[string]FeatureLabels
}

// NewLabelCatalog builds a catalog; missing entries fall back to English defaults.
func NewLabelCatalog(byLocale map[string]FeatureLabels) LabelCatalog {
	def := DefaultFeatureLabels()
	if en, ok := byLocale["en"]; ok {
		def = en.withDefaults(def)
	}
	c := LabelCatalog{byLocale: map[string]FeatureLabels{"en": def}}
	for locale, labels := range byLocale {
		key := i18n.LocaleKey(locale)
		if key == "" {
			continue
		}
		c.byLocale[key] = labels.withDefaults(def)
	}
	return c
}

// LoadLabelCatalog reads a YAML document keyed by locale:
//
//	en:
//	  devices: "Watch on up to %d devices"
//	es:
//	  devices: "Hasta %d dispositivos"
func LoadLabelCatalog(path string) (LabelCatalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewLabelCatalog(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return LabelCatalog{}, fmt.Errorf("plans: read labels %s: %w", path, err)
	}
	var byLocale map[string]FeatureLabels
	if err := yaml.Unmarshal(data, &byLocale); err != nil {
		return LabelCatalog{}, fmt.Errorf("plans: parse labels %s: %w", path, err)
	}
	return NewLabelCatalog(byLocale), nil
}

// For returns the labels for locale, falling back to English.
func (c LabelCatalog) For(locale string) FeatureLabels {
	if labels, ok := c.byLocale[i18n.LocaleKey(locale)]; ok {
		return labels
	}
	if labels, ok := c.byLocale["en"]; ok {
		return labels
	}
	return DefaultFeatureLabels()
}
