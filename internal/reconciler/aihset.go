package reconciler

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"aih-reconciliation-service/internal/models"
)

// Status classifies an authorization across the internal system and the
// government extract.
type Status int

const (
	// StatusSynced means both sides know the authorization.
	StatusSynced Status = iota
	// StatusPending means only the internal system has it: not yet sent
	// or not yet accepted.
	StatusPending
	// StatusUnprocessed means only the extract has it: the internal system
	// never recorded it.
	StatusUnprocessed
)

var statusNames = map[Status]string{
	StatusSynced:      "synced",
	StatusPending:     "pending",
	StatusUnprocessed: "unprocessed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for status, name := range statusNames {
		if name == string(b) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// SetEntry is the classification of one normalized authorization key.
// Internal and External point at the representative record of each side.
type SetEntry struct {
	Key      string            `json:"key" yaml:"key"`
	Status   Status            `json:"status" yaml:"status"`
	Internal *models.AIHRecord `json:"internal,omitempty" yaml:"internal,omitempty"`
	External *models.AIHRecord `json:"external,omitempty" yaml:"external,omitempty"`
}

// SetSummary counts entries per status. Synced+Pending equals
// ValidInternal and Synced+Unprocessed equals ValidExternal.
type SetSummary struct {
	Synced        int `json:"synced" yaml:"synced"`
	Pending       int `json:"pending" yaml:"pending"`
	Unprocessed   int `json:"unprocessed" yaml:"unprocessed"`
	ValidInternal int `json:"valid_internal" yaml:"valid_internal"`
	ValidExternal int `json:"valid_external" yaml:"valid_external"`
}

// Total returns the number of distinct keys.
func (s SetSummary) Total() int {
	return s.Synced + s.Pending + s.Unprocessed
}

// Diagnostics counts input records that did not become entries of their own.
type Diagnostics struct {
	DroppedInternal    int      `json:"dropped_internal" yaml:"dropped_internal"`
	DroppedExternal    int      `json:"dropped_external" yaml:"dropped_external"`
	CollisionsInternal int      `json:"collisions_internal" yaml:"collisions_internal"`
	CollisionsExternal int      `json:"collisions_external" yaml:"collisions_external"`
	CollidingKeys      []string `json:"colliding_keys,omitempty" yaml:"colliding_keys,omitempty"`
}

// SetResult is the outcome of one AIH set reconciliation.
type SetResult struct {
	RunID       uuid.UUID   `json:"run_id" yaml:"run_id"`
	Entries     []SetEntry  `json:"entries" yaml:"entries"`
	Summary     SetSummary  `json:"summary" yaml:"summary"`
	Diagnostics Diagnostics `json:"diagnostics" yaml:"diagnostics"`
}

// ByStatus returns the entries with the given status, in key order.
func (r *SetResult) ByStatus(status Status) []SetEntry {
	var out []SetEntry
	for _, e := range r.Entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// ReconcileAIHSets classifies every authorization known to either side.
// Records whose key fails the policy are dropped. When a side holds several
// records for one key, the one created last is kept; on equal creation
// times the later one in the input wins. The inputs are not modified.
func ReconcileAIHSets(internal, external []*models.AIHRecord, policy Policy) (*SetResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	result := &SetResult{RunID: uuid.New()}
	colliding := make(map[string]bool)

	internalByKey := indexAIHs(internal, policy, &result.Diagnostics.DroppedInternal, &result.Diagnostics.CollisionsInternal, colliding)
	externalByKey := indexAIHs(external, policy, &result.Diagnostics.DroppedExternal, &result.Diagnostics.CollisionsExternal, colliding)

	keys := make([]string, 0, len(internalByKey)+len(externalByKey))
	for key := range internalByKey {
		keys = append(keys, key)
	}
	for key := range externalByKey {
		if _, seen := internalByKey[key]; !seen {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	result.Entries = make([]SetEntry, 0, len(keys))
	for _, key := range keys {
		entry := SetEntry{Key: key, Internal: internalByKey[key], External: externalByKey[key]}
		switch {
		case entry.Internal != nil && entry.External != nil:
			entry.Status = StatusSynced
			result.Summary.Synced++
		case entry.Internal != nil:
			entry.Status = StatusPending
			result.Summary.Pending++
		default:
			entry.Status = StatusUnprocessed
			result.Summary.Unprocessed++
		}
		result.Entries = append(result.Entries, entry)
	}

	result.Summary.ValidInternal = len(internalByKey)
	result.Summary.ValidExternal = len(externalByKey)

	for key := range colliding {
		result.Diagnostics.CollidingKeys = append(result.Diagnostics.CollidingKeys, key)
	}
	sort.Strings(result.Diagnostics.CollidingKeys)

	return result, nil
}

func indexAIHs(records []*models.AIHRecord, policy Policy, dropped, collisions *int, colliding map[string]bool) map[string]*models.AIHRecord {
	keyPolicy := policy.KeyPolicy()
	byKey := make(map[string]*models.AIHRecord, len(records))

	for _, rec := range records {
		if rec == nil {
			*dropped++
			continue
		}
		key, ok := keyPolicy.Key(rec.AuthorizationNumber)
		if !ok {
			*dropped++
			continue
		}

		current, exists := byKey[key]
		if !exists {
			byKey[key] = rec
			continue
		}

		*collisions++
		colliding[key] = true
		if !rec.CreatedAt.Before(current.CreatedAt) {
			byKey[key] = rec
		}
	}
	return byKey
}
