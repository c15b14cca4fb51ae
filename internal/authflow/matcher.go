package authflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/drewfead/hermes/internal/config"
)

// matcher classifies login output lines against the configured rules.
// Rules are configuration data, not code: different runtimes only need
// different config.
type matcher struct {
	urls    []*regexp.Regexp
	cfg     config.AuthConfig
	seenURL map[string]bool
}

func newMatcher(cfg config.AuthConfig) (*matcher, error) {
	m := &matcher{cfg: cfg, seenURL: make(map[string]bool)}
	for _, p := range cfg.URLPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("url pattern %q: %w", p, err)
		}
		m.urls = append(m.urls, re)
	}
	return m, nil
}

// scan inspects one output line and returns the events it produces and the
// keystrokes to send back. Repeated URLs are reported once.
func (m *matcher) scan(line string) (events []Event, sends []string) {
	for _, rule := range m.cfg.Prompts {
		if rule.Contains != "" && strings.Contains(line, rule.Contains) {
			sends = append(sends, rule.Send)
		}
	}

	for _, re := range m.urls {
		if url := re.FindString(line); url != "" && !m.seenURL[url] {
			m.seenURL[url] = true
			events = append(events, Event{Kind: EventURL, URL: url})
		}
	}

	for _, phrase := range m.cfg.FailurePhrases {
		if phrase != "" && strings.Contains(line, phrase) {
			events = append(events, Event{Kind: EventFailed, Reason: strings.TrimSpace(line)})
			return events, sends
		}
	}
	for _, phrase := range m.cfg.SuccessPhrases {
		if phrase != "" && strings.Contains(line, phrase) {
			events = append(events, Event{Kind: EventSucceeded})
			return events, sends
		}
	}

	return events, sends
}
