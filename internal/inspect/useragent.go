package inspect

import "strings"

// SummarizeUserAgent reduces a User-Agent to "browser/os". The summary is a
// coarse grouping key, not a parser.
func SummarizeUserAgent(ua string) string {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return "unknown/unknown"
	}
	if isBot(ua) {
		return "bot/" + operatingSystem(ua)
	}
	return browser(ua) + "/" + operatingSystem(ua)
}

func isBot(ua string) bool {
	for _, marker := range []string{"bot", "crawler", "spider", "curl/", "wget/", "python-requests", "go-http-client", "headless"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Order matters: Edge and Opera embed "chrome", Chrome embeds "safari".
func browser(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"):
		return "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox/"):
		return "firefox"
	case strings.Contains(ua, "chrome/") || strings.Contains(ua, "crios/"):
		return "chrome"
	case strings.Contains(ua, "safari/"):
		return "safari"
	default:
		return "other"
	}
}

func operatingSystem(ua string) string {
	switch {
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		return "ios"
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "mac os x") || strings.Contains(ua, "macintosh"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "other"
	}
}
