package browser

import "math/rand"

// defaultUserAgents is the rotation pool. One is picked per page so
// consecutive lookups do not present the same identity to the portal.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
}

func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return agents[rand.Intn(len(agents))]
}
