// Package segment classifies visitors and decides experiment eligibility.
package segment

import (
	"net/url"
	"strings"

	"abtest-engine/internal/domain"
	"abtest-engine/internal/idhash"
)

// Derive builds a VisitorSegment from raw environment signals.
// The fingerprint comes from idhash; device class and traffic source are
// keyword classifications of the agent string and referrer host.
func Derive(signals idhash.Signals, isReturning bool) domain.VisitorSegment {
	return domain.VisitorSegment{
		Fingerprint:   idhash.Fingerprint(signals),
		DeviceType:    deviceTypeFromAgent(signals.Agent),
		TrafficSource: trafficSourceFromReferrer(signals.Referrer),
		IsReturning:   isReturning,
		SessionStart:  signals.CapturedAt,
	}
}

// Eligible decides whether the visitor's segment qualifies for an
// experiment's target segments. The wildcard "all" matches everyone;
// otherwise any tag match (device type, returning/new, traffic source)
// qualifies. Pure function.
func Eligible(seg domain.VisitorSegment, targetSegments []string) bool {
	for _, target := range targetSegments {
		if target == domain.SegmentAll {
			return true
		}
		for _, tag := range seg.Tags() {
			if target == tag {
				return true
			}
		}
	}
	return false
}

// deviceTypeFromAgent classifies the agent string.
// Tablet keywords are checked first: tablet agents usually also contain
// "Mobile".
func deviceTypeFromAgent(agent string) domain.DeviceType {
	a := strings.ToLower(agent)

	for _, kw := range []string{"ipad", "tablet", "kindle", "silk"} {
		if strings.Contains(a, kw) {
			return domain.DeviceTablet
		}
	}
	for _, kw := range []string{"mobile", "iphone", "android", "ipod", "windows phone"} {
		if strings.Contains(a, kw) {
			return domain.DeviceMobile
		}
	}
	return domain.DeviceDesktop
}

// searchHosts and socialHosts classify well-known referrer hosts.
var (
	searchHosts = []string{"google.", "bing.", "duckduckgo.", "yahoo.", "yandex.", "baidu.", "ecosia."}
	socialHosts = []string{"facebook.", "instagram.", "twitter.", "x.com", "t.co", "linkedin.", "reddit.", "tiktok.", "youtube.", "pinterest."}
)

// trafficSourceFromReferrer classifies the referrer into direct, search,
// social, or referral.
func trafficSourceFromReferrer(referrer string) string {
	if referrer == "" {
		return domain.TrafficDirect
	}

	host := referrer
	if u, err := url.Parse(referrer); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(strings.TrimPrefix(host, "www."))

	for _, s := range searchHosts {
		if strings.Contains(host, s) {
			return domain.TrafficSearch
		}
	}
	for _, s := range socialHosts {
		if strings.Contains(host, s) {
			return domain.TrafficSocial
		}
	}
	return domain.TrafficReferral
}
