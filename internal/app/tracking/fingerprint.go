package tracking

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"

	"github.com/sifan077/PowerTrack/internal/app/useragent"
)

// FingerprintSignals are the request attributes a device fingerprint is
// derived from.
type FingerprintSignals struct {
	VisitorID      string
	UserAgent      string
	AcceptLanguage string
	IP             string
}

// Fingerprinter derives stable, non-reversible device identifiers.
type Fingerprinter struct {
	ua *useragent.Parser
}

func NewFingerprinter(ua *useragent.Parser) *Fingerprinter {
	if ua == nil {
		ua = useragent.NewParser()
	}
	return &Fingerprinter{ua: ua}
}

// Fingerprint prefers the client-supplied visitor id. Without one it hashes
// the browser and OS families with their major versions, the device family,
// the primary language and the network prefix of the IP.
func (f *Fingerprinter) Fingerprint(s FingerprintSignals) string {
	if id := strings.TrimSpace(s.VisitorID); id != "" {
		return digest("visitor|" + id)
	}

	device := f.ua.Parse(s.UserAgent)
	parts := []string{
		device.Browser, device.BrowserMajor,
		device.OS, device.OSMajor,
		device.Family,
		primaryLanguage(s.AcceptLanguage),
		networkPrefix(s.IP),
	}
	return digest(strings.Join(parts, "|"))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

func primaryLanguage(header string) string {
	lang, _, _ := strings.Cut(header, ",")
	lang, _, _ = strings.Cut(lang, ";")
	return strings.ToLower(strings.TrimSpace(lang))
}

// networkPrefix keeps the /24 of IPv4 and the /48 of IPv6 addresses so that
// address churn inside one network does not change the fingerprint.
func networkPrefix(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(48, 128)).String()
}
