package domain

import (
	"regexp"
	"strings"
)

const unknown = "Unknown"

// ClientInfo is the coarse classification of a user agent string.
type ClientInfo struct {
	Browser    string
	OS         string
	DeviceType string
}

type osRule struct {
	re   *regexp.Regexp
	name string
}

// Order matters: specific Windows versions are tested before the generic
// match, iPhone/iPad before Mac OS, Android before Linux.
var osRules = []osRule{
	{regexp.MustCompile(`windows nt 10`), "Windows 10"},
	{regexp.MustCompile(`windows nt 6\.3`), "Windows 8.1"},
	{regexp.MustCompile(`windows nt 6\.2`), "Windows 8"},
	{regexp.MustCompile(`windows nt 6\.1`), "Windows 7"},
	{regexp.MustCompile(`windows nt 6\.0`), "Windows Vista"},
	{regexp.MustCompile(`windows nt 5\.1`), "Windows XP"},
	{regexp.MustCompile(`windows`), "Windows"},
	{regexp.MustCompile(`iphone`), "iOS"},
	{regexp.MustCompile(`ipad`), "iPadOS"},
	{regexp.MustCompile(`android`), "Android"},
	{regexp.MustCompile(`mac os x|macintosh`), "macOS"},
	{regexp.MustCompile(`ubuntu`), "Ubuntu"},
	{regexp.MustCompile(`centos`), "CentOS"},
	{regexp.MustCompile(`linux`), "Linux"},
}

// ClassifyUserAgent derives browser, OS and device type from a raw
// User-Agent header. Empty input classifies as Unknown on every axis.
func ClassifyUserAgent(ua string) ClientInfo {
	if strings.TrimSpace(ua) == "" {
		return ClientInfo{Browser: unknown, OS: unknown, DeviceType: unknown}
	}
	s := strings.ToLower(ua)
	return ClientInfo{
		Browser:    browserOf(s),
		OS:         osOf(s),
		DeviceType: deviceOf(s),
	}
}

func browserOf(s string) string {
	switch {
	case strings.Contains(s, "edg"):
		return "Microsoft Edge"
	case strings.Contains(s, "opr/") || strings.Contains(s, "opera"):
		return "Opera"
	case strings.Contains(s, "chrome") || strings.Contains(s, "crios"):
		return "Chrome"
	case strings.Contains(s, "firefox") || strings.Contains(s, "fxios"):
		return "Firefox"
	case strings.Contains(s, "safari"):
		return "Safari"
	case strings.Contains(s, "msie") || strings.Contains(s, "trident"):
		return "Internet Explorer"
	}
	return unknown
}

func osOf(s string) string {
	for _, r := range osRules {
		if r.re.MatchString(s) {
			return r.name
		}
	}
	return unknown
}

func deviceOf(s string) string {
	switch {
	case strings.Contains(s, "ipad") || strings.Contains(s, "tablet"):
		return "Tablet"
	case strings.Contains(s, "mobile") || strings.Contains(s, "iphone") || strings.Contains(s, "android"):
		return "Mobile"
	}
	return "Desktop"
}
