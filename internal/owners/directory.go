// Package owners provides the owner roster the ledger consumes. The
// directory is the source of truth for who exists, their allocation weight
// in thousandths and whether they are active.
package owners

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"condominio/internal/core"
)

// Directory is an in-memory roster keyed by owner id.
type Directory struct {
	mu   sync.RWMutex
	byID map[string]core.Owner
}

func New(list []core.Owner) *Directory {
	byID := make(map[string]core.Owner, len(list))
	for _, o := range list {
		byID[o.ID] = o
	}
	return &Directory{byID: byID}
}

// NewFromFile loads the roster from a JSON file holding an array of owners:
//
//	[{"id": "u1", "name": "Rossi", "weight": 350, "active": true}]
func NewFromFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read owners file: %w", err)
	}

	var list []ownerRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse owners file %s: %w", path, err)
	}

	roster := make([]core.Owner, 0, len(list))
	for _, r := range list {
		if r.ID == "" {
			return nil, fmt.Errorf("owners file %s: entry without id", path)
		}
		if r.Weight < 0 {
			return nil, fmt.Errorf("owners file %s: owner %q has negative weight", path, r.ID)
		}
		roster = append(roster, core.Owner{
			ID:     r.ID,
			Name:   r.Name,
			Weight: r.Weight,
			Active: r.Active,
		})
	}
	return New(roster), nil
}

type ownerRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Weight int64  `json:"weight"`
	Active bool   `json:"active"`
}

// Owner resolves an owner by id, active or not.
func (d *Directory) Owner(_ context.Context, id string) (core.Owner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.byID[id]
	if !ok {
		return core.Owner{}, fmt.Errorf("%w: %s", core.ErrUnknownOwner, id)
	}
	return o, nil
}

// ActiveOwners returns the active roster sorted by id. The period id is
// accepted for directories that track membership over time; this one holds
// a single current roster.
func (d *Directory) ActiveOwners(_ context.Context, _ int64) ([]core.Owner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.Owner, 0, len(d.byID))
	for _, o := range d.byID {
		if o.Active {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetActive flips an owner's active flag. An inactive owner stops receiving
// allocations but keeps appearing on balance sheets while a balance remains.
func (d *Directory) SetActive(id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownOwner, id)
	}
	o.Active = active
	d.byID[id] = o
	return nil
}
