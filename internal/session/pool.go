package session

import (
	"context"
	"sync"

	"github.com/raysh454/probekit/internal/model"
)

// Pool lazily holds one Session per role for a scope (a layer or a
// scenario). A failed login is remembered so dependent probes do not retry
// authentication.
type Pool struct {
	mgr   *Manager
	creds map[model.Role]model.Credential

	mu       sync.Mutex
	sessions map[model.Role]*Session
	failures map[model.Role]error
}

func NewPool(mgr *Manager, creds ...model.Credential) *Pool {
	p := &Pool{
		mgr:      mgr,
		creds:    map[model.Role]model.Credential{},
		sessions: map[model.Role]*Session{},
		failures: map[model.Role]error{},
	}
	for _, c := range creds {
		p.creds[c.Role] = c
	}
	return p
}

// Acquire returns a valid session for role, logging in on first use.
func (p *Pool) Acquire(ctx context.Context, role model.Role) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.failures[role]; ok {
		return nil, err
	}
	cred, ok := p.creds[role]
	if !ok || cred.Empty() {
		err := model.Wrap(model.KindAuthFailed, string(role), ErrNoCredential)
		p.failures[role] = err
		return nil, err
	}

	if s, ok := p.sessions[role]; ok {
		valid, err := p.mgr.EnsureValid(ctx, s)
		if err != nil {
			delete(p.sessions, role)
			p.failures[role] = err
			return nil, err
		}
		return valid, nil
	}

	s, err := p.mgr.Login(ctx, cred)
	if err != nil {
		p.failures[role] = err
		return nil, err
	}
	p.sessions[role] = s
	return s, nil
}

// Failure returns the remembered login error for role, if any.
func (p *Pool) Failure(role model.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[role]
}

// Close logs out every session the pool opened.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for role, s := range p.sessions {
		p.mgr.Close(ctx, s)
		delete(p.sessions, role)
	}
}
