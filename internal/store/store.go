// Package store persists machine records, the control plane's system of
// record for known nodes.
package store

import (
	"context"

	"fleetgate/internal/types"
)

// MachineStore is the narrow interface the reconciliation engine reads and
// writes through. Implementations provide per-record atomicity only; callers
// must not assume cross-record transactions and should apply updates one
// record at a time.
type MachineStore interface {
	ListMachines(ctx context.Context) ([]types.MachineRecord, error)
	// GetMachine returns (nil, nil) when no record has the given id.
	GetMachine(ctx context.Context, id string) (*types.MachineRecord, error)
	// CreateMachine assigns an id when rec.ID is empty and returns it.
	CreateMachine(ctx context.Context, rec types.MachineRecord) (string, error)
	UpdateMachine(ctx context.Context, rec types.MachineRecord) error
	// DeleteMachine is an explicit operator action; records are never deleted
	// automatically.
	DeleteMachine(ctx context.Context, id string) error
}
