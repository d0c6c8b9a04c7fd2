// Package uapool maintains a fixed set of realistic User-Agent strings and
// learns, per domain, which ones tend to succeed.
package uapool

import (
	"math/rand/v2"
	"sync"
)

// defaultAgents covers desktop and mobile Chrome/Firefox/Safari/Edge, wide
// enough to avoid a single fingerprint standing out across many requests.
var defaultAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.82 Mobile Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/124.0.6367.80 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Android 14; Mobile; rv:125.0) Gecko/125.0 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

type outcome struct {
	success int
	failure int
}

// Config tunes the exploit/explore split used by Pick. The source this
// engine is grounded on left the 0.7/top-3 split unmotivated; here it is a
// parameter instead of a hardcoded constant.
type Config struct {
	ExploitProbability float64
	TopN               int
}

// DefaultConfig returns the split observed in the reference implementation.
func DefaultConfig() Config {
	return Config{ExploitProbability: 0.7, TopN: 3}
}

// Pool tracks per-domain, per-UA success/failure counters and selects a UA
// for the next request to a domain.
type Pool struct {
	mu      sync.RWMutex
	agents  []string
	history map[string]map[string]*outcome // domain -> ua -> outcome
	cfg     Config
}

// New builds a Pool with the default agent list and the given config.
func New(cfg Config) *Pool {
	return &Pool{
		agents:  defaultAgents,
		history: make(map[string]map[string]*outcome),
		cfg:     cfg,
	}
}

// Pick selects a User-Agent for a request to domain. With no history for
// the domain, selection is uniform random. Otherwise each UA is scored by
// success/(success+failure), with UAs lacking history scored neutrally at
// 0.5; with probability cfg.ExploitProbability the pick is uniform among
// the top cfg.TopN scored UAs, otherwise uniform among all.
func (p *Pool) Pick(domain string) string {
	p.mu.RLock()
	domainHistory, ok := p.history[domain]
	p.mu.RUnlock()

	if !ok || len(domainHistory) == 0 {
		return p.randomAgent()
	}

	type scored = struct {
		ua    string
		score float64
	}
	scores := make([]scored, 0, len(p.agents))

	p.mu.RLock()
	for _, ua := range p.agents {
		o, ok := domainHistory[ua]
		if !ok {
			scores = append(scores, scored{ua, 0.5})
			continue
		}
		total := o.success + o.failure
		if total == 0 {
			scores = append(scores, scored{ua, 0.5})
			continue
		}
		scores = append(scores, scored{ua, float64(o.success) / float64(total)})
	}
	p.mu.RUnlock()

	sortByScoreDesc(scores)

	topN := p.cfg.TopN
	if topN > len(scores) {
		topN = len(scores)
	}
	if rand.Float64() < p.cfg.ExploitProbability && topN >= p.cfg.TopN {
		return scores[rand.IntN(topN)].ua
	}
	return p.randomAgent()
}

func sortByScoreDesc(scores []struct {
	ua    string
	score float64
}) {
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && scores[j].score > scores[j-1].score; j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
		}
	}
}

func (p *Pool) randomAgent() string {
	return p.agents[rand.IntN(len(p.agents))]
}

// RecordSuccess increments the success counter for (domain, ua).
func (p *Pool) RecordSuccess(domain, ua string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(domain, ua).success++
}

// RecordFailure increments the failure counter for (domain, ua).
func (p *Pool) RecordFailure(domain, ua string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(domain, ua).failure++
}

func (p *Pool) ensure(domain, ua string) *outcome {
	dh, ok := p.history[domain]
	if !ok {
		dh = make(map[string]*outcome)
		p.history[domain] = dh
	}
	o, ok := dh[ua]
	if !ok {
		o = &outcome{}
		dh[ua] = o
	}
	return o
}
