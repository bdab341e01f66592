package auth

import (
	"context"
	"fmt"
	"sync"
)

// In-memory repositories shared by the guard and service tests.

type memUsers struct {
	mu    sync.Mutex
	byID  map[string]*User
	saves int
}

func newMemUsers(users ...*User) *memUsers {
	m := &memUsers{byID: make(map[string]*User)}
	for _, u := range users {
		m.byID[u.ID] = u
	}
	return m
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (m *memUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
}

func (m *memUsers) Save(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
	m.saves++
	return nil
}

type memRoles struct {
	mu   sync.Mutex
	byID map[string]*Role
}

func newMemRoles(roles ...*Role) *memRoles {
	m := &memRoles{byID: make(map[string]*Role)}
	for _, r := range roles {
		m.byID[r.ID] = r
	}
	return m
}

func (m *memRoles) FindByID(ctx context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return r, nil
}

func (m *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: role %s", ErrNotFound, name)
}

func (m *memRoles) List(ctx context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Role, 0, len(m.byID))
	for _, r := range m.byID {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRoles) Save(ctx context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.ID] = r
	return nil
}

func (m *memRoles) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	delete(m.byID, id)
	return nil
}

type memPerms struct {
	mu   sync.Mutex
	byID map[string]Permission
}

func newMemPerms(perms ...Permission) *memPerms {
	m := &memPerms{byID: make(map[string]Permission)}
	for _, p := range perms {
		m.byID[p.ID] = p
	}
	return m
}

func (m *memPerms) FindByID(ctx context.Context, id string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *memPerms) FindByName(ctx context.Context, name PermissionName) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Name.Equal(name) {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, name)
}

func (m *memPerms) List(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPerms) Save(ctx context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	return nil
}

func (m *memPerms) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("%w: permission %s", ErrNotFound, id)
	}
	delete(m.byID, id)
	return nil
}
