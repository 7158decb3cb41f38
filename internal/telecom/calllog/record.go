// Package calllog writes a record for every call that should appear in
// the user's call history.
package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/sebas/callmanager/internal/telecom/store"
)

// Type classifies a call-log record
type Type int

const (
	TypeIncoming Type = iota + 1
	TypeOutgoing
	TypeMissed
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeIncoming:
		return "incoming"
	case TypeOutgoing:
		return "outgoing"
	case TypeMissed:
		return "missed"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// MarshalText implements encoding.TextMarshaler
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Record is one call-history entry
type Record struct {
	ID              string        `json:"id"`
	CallID          string        `json:"call_id"`
	Number          string        `json:"number,omitempty"`
	Presentation    string        `json:"presentation"`
	Type            Type          `json:"type"`
	Video           bool          `json:"video"`
	Account         string        `json:"account,omitempty"`
	Start           time.Time     `json:"start"`
	Duration        time.Duration `json:"duration"`
	DisconnectCause string        `json:"disconnect_cause,omitempty"`
}

// Repository stores call-log records
type Repository interface {
	Add(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// MemoryRepository keeps records in a retention-bounded store
type MemoryRepository struct {
	records *store.TTLStore[string, Record]
}

// NewMemoryRepository keeps at most maxRecords for retention. A zero
// retention keeps records until they are pushed out by newer ones.
func NewMemoryRepository(retention time.Duration, maxRecords int) *MemoryRepository {
	return &MemoryRepository{
		records: store.NewTTLStore[string, Record](retention,
			store.WithMaxItems[string, Record](maxRecords)),
	}
}

func (m *MemoryRepository) Add(_ context.Context, r Record) error {
	m.records.Put(r.ID, r)
	return nil
}

func (m *MemoryRepository) Recent(_ context.Context, limit int) ([]Record, error) {
	return m.records.Recent(limit), nil
}

// Run sweeps expired records every interval until ctx is done
func (m *MemoryRepository) Run(ctx context.Context, interval time.Duration) error {
	return m.records.Run(ctx, interval)
}
