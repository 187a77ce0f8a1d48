package fakeserver

import (
	"strings"

	"github.com/mssola/useragent"
)

// describeDevice turns a User-Agent header into the short description
// shown in session listings, e.g. "Chrome 120.0.0.0 on Linux x86_64".
// Agents the parser does not recognise are reported verbatim.
func describeDevice(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return "unknown device"
	}
	ua := useragent.New(header)
	name, version := ua.Browser()
	if name == "" {
		return header
	}

	desc := name
	if version != "" {
		desc += " " + version
	}
	if platform := ua.OS(); platform != "" {
		desc += " on " + platform
	}
	if ua.Mobile() {
		desc += " (mobile)"
	}
	return desc
}
