// Package state persists the policy set to a local JSON file.
//
// It backs the in-memory policy store so that policies authored through the
// admin API survive restarts. Writes are atomic, locked across processes and
// keep a one-deep backup.
package state

import (
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// SchemaVersion is the current state file schema.
const SchemaVersion = "1"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the schema version.
	Version string `json:"version"`

	// DefaultAction is the no-match action in effect when the file was written.
	// Informational; configuration decides the action used at runtime.
	DefaultAction string `json:"default_action"`

	// Policies is the full policy set, enabled or not.
	Policies []PolicyEntry `json:"policies"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyEntry is the persisted form of a policy.
type PolicyEntry struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Subject     string            `json:"subject"`
	Object      string            `json:"object"`
	Conditions  map[string]string `json:"conditions,omitempty"`
	Action      string            `json:"action"`
	Priority    int               `json:"priority"`
	Enabled     bool              `json:"enabled"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// EntryFromPolicy converts a domain policy to its persisted form.
func EntryFromPolicy(p policy.Policy) PolicyEntry {
	c := p.Clone()
	return PolicyEntry{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Subject:     c.Subject,
		Object:      c.Object,
		Conditions:  c.Conditions,
		Action:      string(c.Action),
		Priority:    c.Priority,
		Enabled:     c.Enabled,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// ToPolicy converts a persisted entry back to a domain policy.
// Entries written before versioning existed start at version 1.
func (e PolicyEntry) ToPolicy() policy.Policy {
	version := e.Version
	if version < 1 {
		version = 1
	}
	conds := make(map[string]string, len(e.Conditions))
	for k, v := range e.Conditions {
		conds[k] = v
	}
	return policy.Policy{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Subject:     e.Subject,
		Object:      e.Object,
		Conditions:  conds,
		Action:      policy.Action(e.Action),
		Priority:    e.Priority,
		Enabled:     e.Enabled,
		Version:     version,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}
