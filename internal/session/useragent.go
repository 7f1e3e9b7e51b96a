// internal/session/useragent.go
package session

import (
	"math/rand"
	"sync"
)

// UserAgentRotator hands out browser User-Agent strings.
type UserAgentRotator struct {
	agents []string
	mu     sync.Mutex
	index  int
	rnd    *rand.Rand
}

// NewUserAgentRotator creates a rotator. An empty list selects the defaults.
func NewUserAgentRotator(agents []string, seed int64) *UserAgentRotator {
	if len(agents) == 0 {
		agents = DefaultUserAgents()
	}
	return &UserAgentRotator{
		agents: agents,
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

// GetNext returns the next user agent in order.
func (r *UserAgentRotator) GetNext() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent := r.agents[r.index]
	r.index = (r.index + 1) % len(r.agents)
	return agent
}

// GetRandom returns a random user agent.
func (r *UserAgentRotator) GetRandom() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.agents[r.rnd.Intn(len(r.agents))]
}

// DefaultUserAgents returns desktop browser identities.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
	}
}
