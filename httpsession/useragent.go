package httpsession

// uaProfile is a full default outbound header set for one useragent identity.
type uaProfile map[string]string

// uaTable holds the useragent profiles a session can be assigned at
// construction. Two profiles, desktop and mobile, matching the spec's
// "at least two concrete profiles" requirement.
var uaTable = []uaProfile{
	{
		"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Encoding": "gzip,deflate",
		"Accept-Language": "en-US,en;q=0.8,de;q=0.6",
		"Connection":      "keep-alive",
		"Cache-Control":   "max-age=0",
	},
	{
		"User-Agent":      "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Encoding": "gzip,deflate",
		"Accept-Language": "de-DE,de;q=0.8,en-US;q=0.6,en;q=0.4",
		"Connection":      "keep-alive",
		"Cache-Control":   "max-age=0",
	},
}

// uaSeed is the shared state of the deterministic linear congruential
// generator used to pick a useragent profile once per session. A new
// profile is never chosen per request or per connection, only at session
// construction.
var uaSeed uint32 = 3552

func randomUA() uaProfile {
	uaSeed = (uaSeed * 31) % 32768
	random := float64(uaSeed) / 32768
	id := int(random * float64(len(uaTable)))
	if id >= len(uaTable) {
		id = len(uaTable) - 1
	}
	profile := make(uaProfile, len(uaTable[id]))
	for k, v := range uaTable[id] {
		profile[k] = v
	}
	return profile
}
