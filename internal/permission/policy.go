package permission

import (
	"log/slog"
	"sync"
)

// Policy is a Host whose answers come from configuration: permissions listed
// as granted are granted, restricted ones are blocked by policy, and
// everything else is denied when requested.
type Policy struct {
	mu                sync.RWMutex
	granted           map[Permission]bool
	restricted        map[Permission]bool
	deniedPermanently map[Permission]bool
	settingsHint      string
}

// NewPolicy builds a Policy from permission names. settingsHint is logged by
// OpenSettings, typically the config file path.
func NewPolicy(granted, restricted, deniedPermanently []string, settingsHint string) *Policy {
	return &Policy{
		granted:           toSet(granted),
		restricted:        toSet(restricted),
		deniedPermanently: toSet(deniedPermanently),
		settingsHint:      settingsHint,
	}
}

func toSet(names []string) map[Permission]bool {
	set := make(map[Permission]bool, len(names))
	for _, n := range names {
		set[Permission(n)] = true
	}
	return set
}

func (p *Policy) Granted(perm Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted[perm] && !p.restricted[perm]
}

func (p *Policy) ShouldShowRationale(perm Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.deniedPermanently[perm]
}

func (p *Policy) Request(perms []Permission, done func([]Grant)) {
	grants := make([]Grant, len(perms))
	p.mu.RLock()
	for i, perm := range perms {
		switch {
		case p.restricted[perm]:
			grants[i] = GrantRestricted
		case p.granted[perm]:
			grants[i] = GrantGranted
		default:
			grants[i] = GrantDenied
		}
	}
	p.mu.RUnlock()

	go done(grants)
}

func (p *Policy) OpenSettings() error {
	slog.Info("[PERM] permissions are configured statically; edit the permissions section", "config", p.settingsHint)
	return nil
}

var _ Host = (*Policy)(nil)
