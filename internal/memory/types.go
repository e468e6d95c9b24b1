package memory

import (
	"time"
)

// Type classifies what a memory record holds.
type Type string

const (
	TypeConversation   Type = "conversation"
	TypeLearnedFact    Type = "learned_fact"
	TypeUserPreference Type = "user_preference"
	TypeTaskOutcome    Type = "task_outcome"
	TypeMultimedia     Type = "multimedia"
	TypeWorkflow       Type = "workflow"
	TypeAgentShare     Type = "agent_share"
	TypeProfileData    Type = "profile_data"
)

// ValidType reports whether t is one of the known record types.
func ValidType(t Type) bool {
	switch t {
	case TypeConversation, TypeLearnedFact, TypeUserPreference, TypeTaskOutcome,
		TypeMultimedia, TypeWorkflow, TypeAgentShare, TypeProfileData:
		return true
	}
	return false
}

// Action is a permission verb.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Permission grants an agent a set of actions on a record.
type Permission struct {
	AgentID    string            `json:"agentId"`
	Actions    []Action          `json:"actions"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// AccessPolicy names the owning identity and the granted permissions.
type AccessPolicy struct {
	Owner       string       `json:"owner"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Metadata describes the stored content of a record.
type Metadata struct {
	Size            int      `json:"size"`
	MimeType        string   `json:"mimeType"`
	Encoding        string   `json:"encoding"`
	Checksum        string   `json:"checksum"`
	Version         int      `json:"version"`
	RelatedMemories []string `json:"relatedMemories,omitempty"`
	EncryptionKeyID string   `json:"encryptionKeyId,omitempty"`
	EncryptionSalt  string   `json:"encryptionSalt,omitempty"`
}

// Record is a single memory record. Content holds either plaintext or,
// when Encrypted is set, a serialized crypto.Envelope. StorageHandle is
// the remote entity key and changes on every update, since the ledger
// writes a new entity generation instead of mutating in place.
type Record struct {
	ID            string       `json:"id"`
	Content       string       `json:"content"`
	Type          Type         `json:"type"`
	Category      string       `json:"category"`
	Tags          []string     `json:"tags,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Encrypted     bool         `json:"encrypted"`
	AccessPolicy  AccessPolicy `json:"accessPolicy"`
	Metadata      Metadata     `json:"metadata"`
	StorageHandle string       `json:"storageHandle,omitempty"`
	TxHash        string       `json:"txHash,omitempty"`
}

// Clone returns a deep copy, so cached records can be handed out
// without aliasing mutable slices.
func (r *Record) Clone() *Record {
	out := *r
	out.Tags = append([]string(nil), r.Tags...)
	out.Metadata.RelatedMemories = append([]string(nil), r.Metadata.RelatedMemories...)
	out.AccessPolicy.Permissions = make([]Permission, len(r.AccessPolicy.Permissions))
	for i, p := range r.AccessPolicy.Permissions {
		cp := p
		cp.Actions = append([]Action(nil), p.Actions...)
		if p.Conditions != nil {
			cp.Conditions = make(map[string]string, len(p.Conditions))
			for k, v := range p.Conditions {
				cp.Conditions[k] = v
			}
		}
		out.AccessPolicy.Permissions[i] = cp
	}
	return &out
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// UpdateInput carries field-level updates for a record. Nil pointers
// leave the field unchanged. Actor, when set to a non-owner agent ID,
// is checked against the record's access policy.
type UpdateInput struct {
	Content  *string  `json:"content,omitempty"`
	Type     *Type    `json:"type,omitempty"`
	Category *string  `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Actor    string   `json:"actor,omitempty"`
}

// SearchQuery filters owned records. A zero DateFrom/DateTo disables
// the corresponding bound.
type SearchQuery struct {
	Text     string    `json:"text"`
	Type     Type      `json:"type,omitempty"`
	Category string    `json:"category,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	DateFrom time.Time `json:"dateFrom,omitempty"`
	DateTo   time.Time `json:"dateTo,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}

// Facets are counts per type, category and tag over a filtered result
// set, computed before pagination.
type Facets struct {
	Types      map[string]int `json:"types"`
	Categories map[string]int `json:"categories"`
	Tags       map[string]int `json:"tags"`
}

// SearchResult is a page of matching records plus facet counts over the
// whole filtered set.
type SearchResult struct {
	Records    []*Record `json:"records"`
	TotalCount int       `json:"totalCount"`
	Facets     Facets    `json:"facets"`
}

// StorageStats is a sampled approximation of ledger usage, not an
// exact count.
type StorageStats struct {
	TotalMemories  int   `json:"totalMemories"`
	TotalSize      int64 `json:"totalSize"`
	PinnedMemories int   `json:"pinnedMemories"`
}
