package replication

import (
	"context"
	"fmt"
	"sync"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// slot is one tracked physical replication slot.
type slot struct {
	name       string
	startLSN   types.LSN
	restartLSN types.LSN
}

// Catalog is an in-memory SlotServer, the control-plane counterpart to
// the WAL-shipping pipeline: it tracks which slots exist and their
// current restart_lsn so a caller can decide how much archived WAL is
// still needed. The actual slot lives on the wire-compatible database
// itself; wiring this catalog to a real connection (issuing
// pg_create_physical_replication_slot, pg_replication_slot_advance) is
// an external collaborator concern, same boundary as the workflow
// engine's I/O stages.
type Catalog struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// NewCatalog returns an empty slot catalog.
func NewCatalog() *Catalog {
	return &Catalog{slots: make(map[string]*slot)}
}

// CreateSlot registers a new slot. StartLSN is left at the zero value
// here; a real backend would fill it in from whatever
// pg_current_wal_lsn() reported at creation time.
func (c *Catalog) CreateSlot(ctx context.Context, req *CreateSlotRequest) (*CreateSlotResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.slots[req.SlotName]; exists {
		return nil, pgerrors.New(pgerrors.AlreadyInProgress, fmt.Sprintf("slot %q already exists", req.SlotName))
	}
	c.slots[req.SlotName] = &slot{name: req.SlotName}
	return &CreateSlotResponse{SlotName: req.SlotName, StartLSN: c.slots[req.SlotName].startLSN}, nil
}

// AdvanceSlot moves a slot's restart_lsn forward to upToLSN. Advancing
// backwards is rejected: a slot's retained-WAL horizon only moves
// forward.
func (c *Catalog) AdvanceSlot(ctx context.Context, req *AdvanceSlotRequest) (*AdvanceSlotResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[req.SlotName]
	if !ok {
		return nil, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("slot %q not found", req.SlotName))
	}
	if req.UpToLSN < s.restartLSN {
		return nil, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("cannot advance slot %q backwards", req.SlotName))
	}
	s.restartLSN = req.UpToLSN
	return &AdvanceSlotResponse{SlotName: s.name, RestartLSN: s.restartLSN}, nil
}

// DropSlot removes a slot from the catalog.
func (c *Catalog) DropSlot(ctx context.Context, req *DropSlotRequest) (*DropSlotResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[req.SlotName]; !ok {
		return nil, pgerrors.New(pgerrors.ConfigInvalid, fmt.Sprintf("slot %q not found", req.SlotName))
	}
	delete(c.slots, req.SlotName)
	return &DropSlotResponse{SlotName: req.SlotName}, nil
}

// RestartLSN returns the current restart_lsn of a tracked slot.
func (c *Catalog) RestartLSN(slotName string) (types.LSN, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[slotName]
	if !ok {
		return 0, false
	}
	return s.restartLSN, true
}
