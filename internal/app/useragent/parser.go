// Package useragent wraps uap-go with the device classification used for
// fingerprinting and bot detection.
package useragent

import (
	"strings"

	"github.com/ua-parser/uap-go/uaparser"
)

// Device is the normalised view of a User-Agent string.
type Device struct {
	Browser      string
	BrowserMajor string
	OS           string
	OSMajor      string
	Family       string
	Crawler      bool
}

// Parser classifies User-Agent strings. It is safe for concurrent use.
type Parser struct {
	parser *uaparser.Parser
}

// NewParser builds a parser from the regex definitions bundled with uap-go.
func NewParser() *Parser {
	return &Parser{parser: uaparser.NewFromSaved()}
}

// Parse returns the device classification for ua.
func (p *Parser) Parse(ua string) Device {
	if strings.TrimSpace(ua) == "" {
		return Device{Browser: "unknown", OS: "unknown", Family: "unknown"}
	}

	client := p.parser.Parse(ua)
	return Device{
		Browser:      formatString(client.UserAgent.Family),
		BrowserMajor: client.UserAgent.Major,
		OS:           formatString(client.Os.Family),
		OSMajor:      client.Os.Major,
		Family:       formatString(client.Device.Family),
		Crawler:      client.Device.Family == "Spider",
	}
}

// formatString replaces empty and "Other" with "unknown"
func formatString(s string) string {
	if s == "" || s == "Other" {
		return "unknown"
	}
	return s
}
