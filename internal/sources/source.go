package sources

// Tier grades how authoritative a source is for vessel facts.
type Tier string

const (
	// TierPrimary covers AIS trackers, ship registries, and class societies.
	TierPrimary Tier = "T1"
	// TierSecondary covers operator sites, OEMs, and maritime press.
	TierSecondary Tier = "T2"
	// TierTertiary covers forums and anything unrecognized.
	TierTertiary Tier = "T3"
)

// Source is one candidate document returned by the search provider.
// The decision pipeline reads it and never mutates it.
type Source struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Content   string  `json:"content,omitempty"`
	Relevance float64 `json:"relevance,omitempty"`
	Tier      Tier    `json:"tier,omitempty"`
}

// Category is the coverage bucket a source URL falls into.
type Category string

const (
	CategoryAIS           Category = "ais"
	CategoryRegistry      Category = "registry"
	CategoryOwner         Category = "owner"
	CategoryClass         Category = "class"
	CategoryDirectoryNews Category = "directory_news"
	CategoryForum         Category = "forum"
	CategoryOEM           Category = "oem"
	CategoryOther         Category = "other"
)

// RequiredVesselCoverage is the set of source types a complete vessel
// profile draws from, in reporting order.
var RequiredVesselCoverage = []Category{
	CategoryAIS,
	CategoryRegistry,
	CategoryOwner,
	CategoryClass,
	CategoryDirectoryNews,
}

// TierFor maps a category to its authority tier.
func TierFor(c Category) Tier {
	switch c {
	case CategoryAIS, CategoryRegistry, CategoryClass:
		return TierPrimary
	case CategoryOwner, CategoryOEM, CategoryDirectoryNews:
		return TierSecondary
	default:
		return TierTertiary
	}
}
