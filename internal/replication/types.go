package replication

import "github.com/pgkeep/pgkeep/pkg/types"

// CreateSlotRequest asks the remote server to create a physical
// replication slot.
type CreateSlotRequest struct {
	Server   string `json:"server"`
	SlotName string `json:"slot_name"`
}

// CreateSlotResponse reports the slot's starting LSN, the point from
// which the caller should begin streaming.
type CreateSlotResponse struct {
	SlotName string   `json:"slot_name"`
	StartLSN types.LSN `json:"start_lsn"`
}

// AdvanceSlotRequest moves a slot's restart_lsn forward, releasing any
// WAL the server was retaining on the slot's behalf below upToLSN.
type AdvanceSlotRequest struct {
	Server   string   `json:"server"`
	SlotName string   `json:"slot_name"`
	UpToLSN  types.LSN `json:"up_to_lsn"`
}

// AdvanceSlotResponse reports the slot's restart_lsn after the advance.
type AdvanceSlotResponse struct {
	SlotName   string   `json:"slot_name"`
	RestartLSN types.LSN `json:"restart_lsn"`
}

// DropSlotRequest removes a physical replication slot entirely.
type DropSlotRequest struct {
	Server   string `json:"server"`
	SlotName string `json:"slot_name"`
}

// DropSlotResponse acknowledges slot removal.
type DropSlotResponse struct {
	SlotName string `json:"slot_name"`
}
