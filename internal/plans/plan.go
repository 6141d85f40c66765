package plans

import (
	"sort"
	"strings"

	"finitefield.org/edu-storefront/internal/record"
)

// Tier is the normalized subscription plan name.
type Tier string

const (
	TierFreemium Tier = "freemium"
	TierBasic    Tier = "basic"
	TierPremium  Tier = "premium"
)

var tierRank = map[Tier]int{
	TierFreemium: 0,
	TierBasic:    1,
	TierPremium:  2,
}

// Plan is a subscription plan snapshot.
type Plan struct {
	ID                  string
	Name                string
	DisplayName         string
	Description         string
	Price               float64
	Currency            string
	StripePriceID       string
	MaxDevices          int
	VideoQuality        string
	DownloadableContent bool
	Certificates        bool
	PrioritySupport     bool
	AdFree              bool
	// FeaturesRaw is the upstream "features" value as decoded: nil, a list, or a string.
	FeaturesRaw any
	Raw         record.Record
}

// FromRecord maps a backend plan record, accepting snake_case and camelCase spellings.
func FromRecord(rec record.Record) Plan {
	p := Plan{
		ID:                  rec.ID(),
		Name:                strings.TrimSpace(rec.String("name")),
		DisplayName:         rec.String("display_name", "displayName"),
		Description:         rec.String("description"),
		Currency:            rec.String("currency"),
		StripePriceID:       strings.TrimSpace(rec.String("stripe_price_id", "stripePriceId")),
		VideoQuality:        rec.String("video_quality", "videoQuality"),
		DownloadableContent: rec.Bool("downloadable_content", "downloadableContent"),
		Certificates:        rec.Bool("certificates"),
		PrioritySupport:     rec.Bool("priority_support", "prioritySupport"),
		AdFree:              rec.Bool("ad_free", "adFree"),
		Raw:                 rec,
	}
	if price, ok := rec.Float("price"); ok {
		p.Price = price
	}
	if devices, ok := rec.Int("max_devices", "maxDevices"); ok {
		p.MaxDevices = devices
	}
	if raw, ok := rec.Lookup("features", "featuresRaw"); ok {
		p.FeaturesRaw = raw
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	return p
}

// Tier returns the case-insensitive plan name.
func (p Plan) Tier() Tier {
	return Tier(strings.ToLower(strings.TrimSpace(p.Name)))
}

// IsFree reports whether the plan is the freemium tier.
func (p Plan) IsFree() bool { return p.Tier() == TierFreemium }

func rank(p Plan) int {
	if r, ok := tierRank[p.Tier()]; ok {
		return r
	}
	return len(tierRank)
}

// Sort orders plans freemium, basic, premium; unknown names go last and keep their relative order.
func Sort(plans []Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		return rank(plans[i]) < rank(plans[j])
	})
}
