package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordStringTreatsEmptyAsAbsent(t *testing.T) {
	rec := Record{
		"title":    "",
		"title_en": nil,
		"name":     "Watercolor",
		"id":       json.Number("42"),
	}

	require.Equal(t, "Watercolor", rec.String("title", "title_en", "name"))
	require.Equal(t, "42", rec.ID())
	require.Equal(t, "", rec.String("missing"))
	require.False(t, rec.Has("title_en"))
}

func TestRecordNumbers(t *testing.T) {
	rec := Record{
		"price":      "9.99",
		"sortOrder":  json.Number("3"),
		"maxDevices": float64(2),
		"label":      "n/a",
	}

	price, ok := rec.Float("price")
	require.True(t, ok)
	require.InDelta(t, 9.99, price, 0.0001)

	order, ok := rec.Int("sort_order", "sortOrder")
	require.True(t, ok)
	require.Equal(t, 3, order)

	devices, ok := rec.Int("maxDevices")
	require.True(t, ok)
	require.Equal(t, 2, devices)

	_, ok = rec.Float("label")
	require.False(t, ok)
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero", float64(0), false},
		{"zero number", json.Number("0"), false},
		{"one number", json.Number("1"), true},
		{"empty string", "", false},
		{"text", "no", true},
		{"empty object", map[string]any{}, true},
		{"empty array", []any{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Truthy(tc.value))
		})
	}
}

func TestRecordTimeParsesCommonLayouts(t *testing.T) {
	rec := Record{
		"created_at": "2024-05-01 10:30:00",
		"updatedAt":  "2024-05-02T08:00:00Z",
		"bad":        "yesterday",
	}

	require.Equal(t, time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC), rec.Time("createdAt", "created_at"))
	require.Equal(t, time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC), rec.Time("updatedAt"))
	require.True(t, rec.Time("bad").IsZero())
}

func TestNestedAccessors(t *testing.T) {
	rec := Record{
		"translations": map[string]any{"title": map[string]any{"en": "Hello"}},
		"items":        []any{map[string]any{"id": 1}},
		"plain":        "x",
	}

	translations, ok := rec.Map("translations")
	require.True(t, ok)
	title, ok := translations.Map("title")
	require.True(t, ok)
	require.Equal(t, "Hello", title.String("en"))

	items, ok := rec.Slice("items")
	require.True(t, ok)
	require.Len(t, items, 1)

	_, ok = rec.Map("plain")
	require.False(t, ok)
	_, ok = rec.Slice("plain")
	require.False(t, ok)
}
