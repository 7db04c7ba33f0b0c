package permission

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/charmbracelet/huh"
)

type promptChoice int

const (
	choiceAllow promptChoice = iota
	choiceDeny
	choiceNeverAsk
)

// Prompt is a Host that asks the operator at the terminal. Answers are
// remembered for the lifetime of the process.
type Prompt struct {
	mu       sync.Mutex
	granted  map[Permission]bool
	neverAsk map[Permission]bool

	// formMu serializes forms; huh owns the terminal while one runs.
	formMu sync.Mutex
	ask    func(p Permission) (promptChoice, error)
}

// NewPrompt creates a terminal-prompting Host.
func NewPrompt() *Prompt {
	return &Prompt{
		granted:  make(map[Permission]bool),
		neverAsk: make(map[Permission]bool),
		ask:      askTerminal,
	}
}

func askTerminal(p Permission) (promptChoice, error) {
	var choice promptChoice
	sel := huh.NewSelect[promptChoice]().
		Title(fmt.Sprintf("Allow wearlink to use %s?", p)).
		Description("Required to scan for and connect to wearable devices.").
		Options(
			huh.NewOption("Allow", choiceAllow),
			huh.NewOption("Deny", choiceDeny),
			huh.NewOption("Deny and don't ask again", choiceNeverAsk),
		).
		Value(&choice)
	if err := huh.NewForm(huh.NewGroup(sel)).WithShowHelp(true).Run(); err != nil {
		return choiceDeny, err
	}
	return choice, nil
}

func (p *Prompt) Granted(perm Permission) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[perm]
}

func (p *Prompt) ShouldShowRationale(perm Permission) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.neverAsk[perm]
}

func (p *Prompt) Request(perms []Permission, done func([]Grant)) {
	go func() {
		p.formMu.Lock()
		defer p.formMu.Unlock()

		grants := make([]Grant, len(perms))
		for i, perm := range perms {
			grants[i] = p.requestOne(perm)
		}
		done(grants)
	}()
}

func (p *Prompt) requestOne(perm Permission) Grant {
	p.mu.Lock()
	switch {
	case p.granted[perm]:
		p.mu.Unlock()
		return GrantGranted
	case p.neverAsk[perm]:
		p.mu.Unlock()
		return GrantDenied
	}
	p.mu.Unlock()

	choice, err := p.ask(perm)
	if err != nil {
		slog.Warn("[PERM] prompt failed", "permission", perm, "error", err)
		return GrantDenied
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch choice {
	case choiceAllow:
		p.granted[perm] = true
		return GrantGranted
	case choiceNeverAsk:
		p.neverAsk[perm] = true
	}
	return GrantDenied
}

// OpenSettings forgets "don't ask again" answers so the next request prompts.
func (p *Prompt) OpenSettings() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.neverAsk)
	slog.Info("[PERM] permission answers reset; the next operation will prompt again")
	return nil
}

var _ Host = (*Prompt)(nil)
