package auth

import (
	"errors"
	"strings"
	"sync"
)

// Registry is a small capability store: named roles, each with an owner and
// a member set. It is independent of asset state; consumers only ever ask
// HasRole.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]*roleEntry
}

type roleEntry struct {
	owner   string
	members map[string]struct{}
}

var (
	ErrRoleNotFound  = errors.New("role not found")
	ErrRoleExists    = errors.New("role already exists")
	ErrNotRoleOwner  = errors.New("caller does not own the role")
	ErrInvalidMember = errors.New("invalid role or account name")
)

func NewRegistry() *Registry {
	return &Registry{roles: make(map[string]*roleEntry)}
}

// CreateRole registers a new role owned by the creator.
func (r *Registry) CreateRole(name, owner string) error {
	name, owner = strings.TrimSpace(name), strings.TrimSpace(owner)
	if name == "" || owner == "" {
		return ErrInvalidMember
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[name]; ok {
		return ErrRoleExists
	}
	r.roles[name] = &roleEntry{owner: owner, members: make(map[string]struct{})}
	return nil
}

// Grant adds an account to the role. Only the role owner may grant.
func (r *Registry) Grant(name, caller, account string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return ErrInvalidMember
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.owned(name, caller)
	if err != nil {
		return err
	}
	entry.members[account] = struct{}{}
	return nil
}

// Revoke removes an account from the role. Only the role owner may revoke.
// Revoking a non-member is not an error.
func (r *Registry) Revoke(name, caller, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.owned(name, caller)
	if err != nil {
		return err
	}
	delete(entry.members, strings.TrimSpace(account))
	return nil
}

// TransferOwnership hands the role to a new owner.
func (r *Registry) TransferOwnership(name, caller, newOwner string) error {
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return ErrInvalidMember
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.owned(name, caller)
	if err != nil {
		return err
	}
	entry.owner = newOwner
	return nil
}

// Exists reports whether the role is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[strings.TrimSpace(name)]
	return ok
}

// HasRole reports whether the account is the role's owner or a member.
// Unknown roles simply report false.
func (r *Registry) HasRole(name, account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.roles[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	account = strings.TrimSpace(account)
	if entry.owner == account {
		return true
	}
	_, member := entry.members[account]
	return member
}

// owned fetches a role and verifies the caller owns it. Callers hold r.mu.
func (r *Registry) owned(name, caller string) (*roleEntry, error) {
	entry, ok := r.roles[strings.TrimSpace(name)]
	if !ok {
		return nil, ErrRoleNotFound
	}
	if entry.owner != strings.TrimSpace(caller) {
		return nil, ErrNotRoleOwner
	}
	return entry, nil
}
