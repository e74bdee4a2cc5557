// Package memory provides the domain model for palace memory records,
// paths (aliases), and gists.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/address"
)

// Memory is a single durable memory record. Content mutations create a new
// record and deprecate the old one; the write path never destroys records.
type Memory struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Priority       int       `json:"priority"`
	Disclosure     string    `json:"disclosure,omitempty"`
	VitalityScore  float64   `json:"vitality_score"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	Deprecated     bool      `json:"deprecated"`
	MigratedTo     string    `json:"migrated_to,omitempty"`
	ContentHash    string    `json:"content_hash"`
}

// Path maps a (domain, path) tuple to a memory id. A memory may have many
// paths; the record is deprecated only when its last path is removed.
type Path struct {
	Domain     string    `json:"domain"`
	Path       string    `json:"path"`
	MemoryID   string    `json:"memory_id"`
	Priority   int       `json:"priority"`
	Disclosure string    `json:"disclosure,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Address returns the canonical address of this path.
func (p Path) Address() address.Address {
	return address.Address{Domain: p.Domain, Path: p.Path}
}

// Gist is a short summary of a memory, keyed by (memory_id, source hash).
// A content change invalidates the gist by changing the hash.
type Gist struct {
	MemoryID          string    `json:"memory_id"`
	SourceContentHash string    `json:"source_content_hash"`
	GistText          string    `json:"gist_text"`
	GistMethod        string    `json:"gist_method"`
	Quality           float64   `json:"quality"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateRequest is the input for creating a new memory under a parent.
type CreateRequest struct {
	ParentAddress string `json:"parent_address"`
	Content       string `json:"content"`
	Priority      int    `json:"priority"`
	Title         string `json:"title,omitempty"`
	Disclosure    string `json:"disclosure,omitempty"`
}

// Validate checks field constraints. Address resolution happens later.
func (r *CreateRequest) Validate() error {
	if r.ParentAddress == "" {
		return domain.ErrInvalidPath
	}
	if r.Content == "" {
		return &domain.Error{Code: "empty_content", Message: "content is required"}
	}
	if r.Priority < 0 {
		return domain.ErrInvalidPriority
	}
	if r.Title != "" && !address.ValidSegment(r.Title) {
		return domain.ErrInvalidTitle
	}
	return nil
}

// UpdateRequest carries exactly one of the three update shapes: a patch
// (old/new), an append tail, or a metadata-only change.
type UpdateRequest struct {
	Address    string  `json:"address"`
	Old        string  `json:"old,omitempty"`
	New        string  `json:"new,omitempty"`
	Append     string  `json:"append,omitempty"`
	Priority   *int    `json:"priority,omitempty"`
	Disclosure *string `json:"disclosure,omitempty"`
}

// IsPatch reports whether the request is a patch update.
func (r *UpdateRequest) IsPatch() bool { return r.Old != "" }

// IsAppend reports whether the request is an append update.
func (r *UpdateRequest) IsAppend() bool { return r.Append != "" }

// IsMetaOnly reports whether the request changes metadata without content.
func (r *UpdateRequest) IsMetaOnly() bool {
	return !r.IsPatch() && !r.IsAppend() && (r.Priority != nil || r.Disclosure != nil)
}

// Validate checks that exactly one update shape is present.
func (r *UpdateRequest) Validate() error {
	if r.Address == "" {
		return domain.ErrInvalidPath
	}
	if r.New != "" && r.Old == "" {
		return &domain.Error{Code: "invalid_update", Message: "patch requires old alongside new"}
	}
	shapes := 0
	if r.IsPatch() {
		shapes++
	}
	if r.IsAppend() {
		shapes++
	}
	if r.IsMetaOnly() {
		shapes++
	}
	if shapes != 1 {
		return &domain.Error{Code: "invalid_update", Message: "exactly one of patch, append, or metadata change is required"}
	}
	if r.Priority != nil && *r.Priority < 0 {
		return domain.ErrInvalidPriority
	}
	return nil
}

// HashContent returns the canonical hex content hash used for gist keys and
// cleanup state hashes.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// StateHash identifies the current state of a memory for optimistic checks
// in the cleanup review protocol.
func StateHash(m *Memory) string {
	sum := sha256.Sum256([]byte(m.ID + "\x00" + m.ContentHash + "\x00" + m.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:8])
}
