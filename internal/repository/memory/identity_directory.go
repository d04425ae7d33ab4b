package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"passwordless-auth/internal/model"
)

// IdentityDirectory is a stand-in for the application's user table.
type IdentityDirectory struct {
	mu         sync.RWMutex
	identities map[string]model.Identity
	clock      model.Clock
}

func NewIdentityDirectory(clock model.Clock) *IdentityDirectory {
	if clock == nil {
		clock = model.SystemClock{}
	}
	return &IdentityDirectory{
		identities: make(map[string]model.Identity),
		clock:      clock,
	}
}

func (d *IdentityDirectory) FindByKey(ctx context.Context, key string) (*model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	identity, ok := d.identities[key]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

func (d *IdentityDirectory) Create(ctx context.Context, key string) (*model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.identities[key]; ok {
		return &existing, nil
	}

	identity := model.Identity{
		ID:        ulid.Make().String(),
		Key:       key,
		CreatedAt: d.clock.Now(),
	}
	d.identities[key] = identity
	return &identity, nil
}

func (d *IdentityDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.identities)
}
