package fraud

import (
	"net/url"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

// referrerBlocklist answers "is this host (or a parent domain) blocklisted"
// from a bloom filter built once at startup.
type referrerBlocklist struct {
	filter *bloom.BloomFilter
}

func newReferrerBlocklist(hosts []string, fpRate float64) *referrerBlocklist {
	if len(hosts) == 0 {
		return &referrerBlocklist{}
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}

	filter := bloom.NewWithEstimates(uint(len(hosts)), fpRate)
	for _, h := range hosts {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.")
		if h != "" {
			filter.AddString(h)
		}
	}
	return &referrerBlocklist{filter: filter}
}

// match returns the matching host of referrer when it is blocklisted.
func (b *referrerBlocklist) match(referrer string) (string, bool) {
	if b == nil || b.filter == nil {
		return "", false
	}

	host := referrerHost(referrer)
	for host != "" {
		if b.filter.TestString(host) {
			return host, true
		}
		_, parent, ok := strings.Cut(host, ".")
		if !ok || !strings.Contains(parent, ".") {
			break
		}
		host = parent
	}
	return "", false
}

func referrerHost(referrer string) string {
	raw := strings.TrimSpace(referrer)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
