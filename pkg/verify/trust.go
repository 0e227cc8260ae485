package verify

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// TrustList holds the verified domain patterns and verified user addresses.
// It is immutable to the running pipeline; Reload replaces the whole list
// atomically (wired to SIGHUP in main).
type TrustList struct {
	domainsFile string
	usersFile   string

	mu      sync.RWMutex
	domains []*regexp.Regexp
	users   map[string]bool
}

type domainsFileYAML struct {
	Domains []string `yaml:"domains"`
}

type usersFileYAML struct {
	Users []string `yaml:"users"`
}

// LoadTrustList reads both trust files. Either path may be empty, leaving
// that half of the list vacuously untrusting.
func LoadTrustList(domainsFile, usersFile string) (*TrustList, error) {
	t := &TrustList{domainsFile: domainsFile, usersFile: usersFile}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads both trust files and swaps in the new contents.
func (t *TrustList) Reload() error {
	var domains []*regexp.Regexp
	if t.domainsFile != "" {
		data, err := os.ReadFile(t.domainsFile)
		if err != nil {
			return fmt.Errorf("reading verified domains: %w", err)
		}
		var parsed domainsFileYAML
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("parsing verified domains: %w", err)
		}
		for _, pattern := range parsed.Domains {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("compiling verified domain pattern %q: %w", pattern, err)
			}
			domains = append(domains, re)
		}
	}

	users := make(map[string]bool)
	if t.usersFile != "" {
		data, err := os.ReadFile(t.usersFile)
		if err != nil {
			return fmt.Errorf("reading verified users: %w", err)
		}
		var parsed usersFileYAML
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("parsing verified users: %w", err)
		}
		for _, u := range parsed.Users {
			users[u] = true
		}
	}

	t.mu.Lock()
	t.domains = domains
	t.users = users
	t.mu.Unlock()
	return nil
}

// DomainVerified reports whether any verified-domain pattern matches the
// email. Patterns are unanchored regular expressions.
func (t *TrustList) DomainVerified(email string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, re := range t.domains {
		if re.MatchString(email) {
			return true
		}
	}
	return false
}

// UserVerified reports whether the email is in the verified-user set.
func (t *TrustList) UserVerified(email string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.users[email]
}

// Trusted reports whether the email belongs to a trusted actor.
func (t *TrustList) Trusted(email string) bool {
	return t.DomainVerified(email) || t.UserVerified(email)
}
