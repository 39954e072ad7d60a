// Package store holds the Redis keyspace of the tracking core and the
// link/click stores built on it.
package store

import "strings"

const (
	KeySuspiciousActivities    = "fraud:suspicious_activities"
	KeyFailedEvents            = "events:failed"
	KeyFailedProcessing        = "events:failed:processing"
	KeyPendingCommissions      = "commissions:pending"
	KeyUnattributedConversions = "conversions:unattributed"
)

func LinkKey(trackingID string) string {
	return "tracking:link:" + trackingID
}

// PairLinkKey points at the tracking id reused for direct clicks on an affiliate/campaign pair.
func PairLinkKey(affiliateID, campaignID string) string {
	return "tracking:pair:" + affiliateID + ":" + campaignID
}

func ClickKey(trackingID, fingerprint string) string {
	return "tracking:click:" + trackingID + ":" + fingerprint
}

// FingerprintIndexKey is a sorted set of tracking ids clicked by a device, scored by click time.
func FingerprintIndexKey(fingerprint string) string {
	return "tracking:fingerprint:" + fingerprint
}

// UserIndexKey is a sorted set of "trackingId|fingerprint" members clicked by an authenticated user.
func UserIndexKey(userID string) string {
	return "tracking:user:" + userID
}

func UserIndexMember(trackingID, fingerprint string) string {
	return trackingID + "|" + fingerprint
}

// SplitUserIndexMember reverses UserIndexMember.
func SplitUserIndexMember(member string) (trackingID, fingerprint string, ok bool) {
	return strings.Cut(member, "|")
}

func IPClicksKey(ip string) string {
	return "fraud:ip:clicks:" + ip
}

func IPConversionsKey(ip string) string {
	return "fraud:ip:conversions:" + ip
}

func DeviceAffiliatesKey(fingerprint string) string {
	return "fraud:device:affiliates:" + fingerprint
}

func OrderKey(orderID string) string {
	return "fraud:order:" + orderID
}

// CampaignValuesKey holds count/sum/sumsq of a campaign's order values.
func CampaignValuesKey(campaignID string) string {
	return "fraud:campaign:values:" + campaignID
}

func CampaignMetricsKey(campaignID string) string {
	return "metrics:campaign:" + campaignID
}

func AffiliateMetricsKey(affiliateID string) string {
	return "metrics:affiliate:" + affiliateID
}

// SeriesKey is a time-ordered set of event ids for one scope/id/kind, e.g. campaign/c1/clicks.
func SeriesKey(scope, id, kind string) string {
	return "series:" + scope + ":" + id + ":" + kind
}

func ProcessedEventKey(eventID string) string {
	return "events:processed:" + eventID
}
