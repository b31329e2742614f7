package sources

import (
	"net/url"
	"strings"
)

// Domain tables for the category cascade. Order of evaluation matters and is
// fixed in Categorize: tracking sites first, registries second, press and
// vessel directories third (before owner rules, since operator-looking names
// are substrings of several news domains), then owner/operator patterns,
// class societies, forums, and equipment makers.
var (
	aisDomains = []string{
		"marinetraffic.com",
		"vesselfinder.com",
		"vesseltracker.com",
		"myshiptracking.com",
		"fleetmon.com",
		"shipfinder.co",
		"marinevesseltraffic.com",
	}

	registryDomains = []string{
		"equasis.org",
		"gisis.imo.org",
		"lrfairplay.com",
		"shipregister.dk",
		"nisregistry.no",
	}

	newsDirectoryDomains = []string{
		"tradewindsnews.com",
		"lloydslist.com",
		"maritimeintelligence.informa.com",
		"splash247.com",
		"maritime-executive.com",
		"seatrade-maritime.com",
		"marinelink.com",
		"shippingwatch.com",
		"gcaptain.com",
		"marineinsight.com",
		"offshore-energy.biz",
		"shipspotting.com",
		"balticshipping.com",
	}

	ownerDomains = []string{
		"maersk.com",
		"msc.com",
		"cma-cgm.com",
		"hapag-lloyd.com",
		"one-line.com",
		"evergreen-line.com",
		"coscoshipping.com",
		"wallenius-wilhelmsen.com",
		"stolt-nielsen.com",
		"angloeastern.com",
		"bernhard-schulte.com",
		"vships.com",
	}

	classDomains = []string{
		"dnv.com",
		"eagle.org",
		"lr.org",
		"bureauveritas.com",
		"veristar.com",
		"classnk.or.jp",
		"rina.org",
		"ccs.org.cn",
		"irclass.org",
		"prs.pl",
		"crs.hr",
	}

	forumDomains = []string{
		"reddit.com",
		"quora.com",
	}

	oemDomains = []string{
		"wartsila.com",
		"man-es.com",
		"cat.com",
		"caterpillar.com",
		"rolls-royce.com",
		"kongsberg.com",
		"alfalaval.com",
		"abb.com",
		"cummins.com",
		"yanmar.com",
	}

	// ownerHostMarkers flag fleet-operator hosts that are not in the named
	// list: "xyz-shipmanagement.com", "acme-tankers.de" and the like.
	ownerHostMarkers = []string{
		"shipmanagement",
		"shipping",
		"tankers",
		"carriers",
		"bulkers",
		"navigation",
	}

	// ownerPathMarkers flag fleet pages on otherwise unknown hosts.
	ownerPathMarkers = []string{
		"/fleet",
		"/our-fleet",
		"/vessels",
		"/our-vessels",
		"/ships",
	}

	// newsPathMarkers veto the owner path rule: a /news/ page about a fleet
	// is press coverage, not an operator profile.
	newsPathMarkers = []string{
		"/news",
		"/press",
		"/media",
		"/article",
	}
)

// Categorizer classifies source URLs into coverage buckets. The zero value
// uses the built-in domain tables; extra per-category domains can be layered
// on from configuration.
type Categorizer struct {
	extra map[Category][]string
}

// NewCategorizer builds a categorizer with optional extra domains per
// category, typically loaded from the vessel fields config file.
func NewCategorizer(extra map[Category][]string) *Categorizer {
	return &Categorizer{extra: extra}
}

var defaultCategorizer = &Categorizer{}

// Categorize classifies a URL with the default domain tables.
func Categorize(rawURL string) Category {
	return defaultCategorizer.Categorize(rawURL)
}

// Categorize classifies a single URL into a coverage bucket. URLs that
// cannot be parsed fall back to substring matching over the raw string in
// the same priority order; nothing here ever fails.
func (c *Categorizer) Categorize(rawURL string) Category {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Hostname() == "" {
		return c.categorizeBySubstring(rawURL)
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	path := strings.ToLower(parsed.Path)

	switch {
	case c.hostMatches(host, CategoryAIS, aisDomains):
		return CategoryAIS
	case c.hostMatches(host, CategoryRegistry, registryDomains):
		return CategoryRegistry
	case c.hostMatches(host, CategoryDirectoryNews, newsDirectoryDomains):
		return CategoryDirectoryNews
	case c.isOwnerOperator(host, path):
		return CategoryOwner
	case c.hostMatches(host, CategoryClass, classDomains):
		return CategoryClass
	case c.isForum(host):
		return CategoryForum
	case c.hostMatches(host, CategoryOEM, oemDomains):
		return CategoryOEM
	default:
		return CategoryOther
	}
}

// categorizeBySubstring handles unparseable URLs by scanning the raw
// lowercase string against the same tables in the same order.
func (c *Categorizer) categorizeBySubstring(rawURL string) Category {
	lower := strings.ToLower(rawURL)

	tables := []struct {
		category Category
		domains  []string
	}{
		{CategoryAIS, aisDomains},
		{CategoryRegistry, registryDomains},
		{CategoryDirectoryNews, newsDirectoryDomains},
		{CategoryOwner, ownerDomains},
		{CategoryClass, classDomains},
		{CategoryForum, forumDomains},
		{CategoryOEM, oemDomains},
	}

	for _, tbl := range tables {
		for _, d := range append(tbl.domains, c.extra[tbl.category]...) {
			if strings.Contains(lower, d) {
				return tbl.category
			}
		}
		if tbl.category == CategoryOwner {
			for _, marker := range ownerHostMarkers {
				if strings.Contains(lower, marker) {
					return CategoryOwner
				}
			}
		}
		if tbl.category == CategoryForum && strings.Contains(lower, "forum") {
			return CategoryForum
		}
	}
	return CategoryOther
}

func (c *Categorizer) hostMatches(host string, category Category, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	for _, d := range c.extra[category] {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (c *Categorizer) isOwnerOperator(host, path string) bool {
	if c.hostMatches(host, CategoryOwner, ownerDomains) {
		return true
	}
	for _, marker := range ownerHostMarkers {
		if strings.Contains(host, marker) {
			return true
		}
	}
	for _, marker := range ownerPathMarkers {
		if strings.Contains(path, marker) {
			// A fleet path inside press coverage stays with the news rules.
			for _, veto := range newsPathMarkers {
				if strings.Contains(path, veto) {
					return false
				}
			}
			return true
		}
	}
	return false
}

func (c *Categorizer) isForum(host string) bool {
	if strings.Contains(host, "forum") {
		return true
	}
	return c.hostMatches(host, CategoryForum, forumDomains)
}

// ComputeCoverage counts sources per category.
func ComputeCoverage(srcs []Source) map[Category]int {
	return defaultCategorizer.ComputeCoverage(srcs)
}

// ComputeCoverage counts sources per category using this categorizer.
func (c *Categorizer) ComputeCoverage(srcs []Source) map[Category]int {
	coverage := make(map[Category]int)
	for _, s := range srcs {
		coverage[c.Categorize(s.URL)]++
	}
	return coverage
}

// MissingVesselCoverage lists required categories absent from a coverage
// histogram, in the required set's order.
func MissingVesselCoverage(coverage map[Category]int) []Category {
	var missing []Category
	for _, required := range RequiredVesselCoverage {
		if coverage[required] == 0 {
			missing = append(missing, required)
		}
	}
	return missing
}

// Annotate fills in each source's tier from its category. The input slice
// is returned for chaining.
func Annotate(srcs []Source) []Source {
	return defaultCategorizer.Annotate(srcs)
}

// Annotate fills in tiers using this categorizer's tables.
func (c *Categorizer) Annotate(srcs []Source) []Source {
	for i := range srcs {
		srcs[i].Tier = TierFor(c.Categorize(srcs[i].URL))
	}
	return srcs
}
