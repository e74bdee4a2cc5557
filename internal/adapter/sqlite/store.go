package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/address"
	"github.com/mnemolabs/palace/internal/domain/memory"
)

const timeLayout = time.RFC3339Nano

func (s *Store) newID() string { return uuid.NewString() }

const memoryColumns = `id, content, priority, disclosure, vitality_score,
	created_at, updated_at, last_accessed_at, access_count, deprecated, migrated_to, content_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var m memory.Memory
	var createdAt, updatedAt, accessedAt string
	var deprecated int
	var migratedTo sql.NullString

	err := row.Scan(&m.ID, &m.Content, &m.Priority, &m.Disclosure, &m.VitalityScore,
		&createdAt, &updatedAt, &accessedAt, &m.AccessCount, &deprecated, &migratedTo, &m.ContentHash)
	if err != nil {
		return nil, err
	}

	m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	m.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	m.LastAccessedAt, _ = time.Parse(timeLayout, accessedAt)
	m.Deprecated = deprecated != 0
	if migratedTo.Valid {
		m.MigratedTo = migratedTo.String
	}
	return &m, nil
}

// ResolveAddress returns the memory id mapped at addr, if any.
func (s *Store) ResolveAddress(ctx context.Context, addr address.Address) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT memory_id FROM paths WHERE domain = ? AND path = ?`,
		addr.Domain, addr.Path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve %s: %w", addr, domain.ErrAddressNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", addr, err)
	}
	return id, nil
}

// GetByAddress returns the memory at addr plus every path pointing at it.
func (s *Store) GetByAddress(ctx context.Context, addr address.Address) (*memory.Memory, []memory.Path, error) {
	id, err := s.ResolveAddress(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.GetMemory(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	paths, err := s.PathsForMemory(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return m, paths, nil
}

// GetMemory returns one memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, domain.ErrAddressNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// PathsForMemory returns all paths mapping to the memory id.
func (s *Store) PathsForMemory(ctx context.Context, id string) ([]memory.Path, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, path, memory_id, priority, disclosure, created_at
		 FROM paths WHERE memory_id = ? ORDER BY domain, path`, id)
	if err != nil {
		return nil, fmt.Errorf("paths for %s: %w", id, err)
	}
	defer rows.Close()
	return collectPaths(rows)
}

func collectPaths(rows *sql.Rows) ([]memory.Path, error) {
	var out []memory.Path
	for rows.Next() {
		var p memory.Path
		var createdAt string
		if err := rows.Scan(&p.Domain, &p.Path, &p.MemoryID, &p.Priority, &p.Disclosure, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateResult reports the outcome of Create.
type CreateResult struct {
	Memory  *memory.Memory
	Address address.Address
}

// Create inserts a new memory under parent. An empty title gets the next
// free numeric token under the parent.
func (s *Store) Create(ctx context.Context, parent address.Address, content string, priority int, title, disclosure string) (*CreateResult, error) {
	if _, err := s.ResolveAddress(ctx, parent); err != nil {
		// Root segments may be created without a pre-existing parent record.
		if len(parent.Segments()) > 1 || !errors.Is(err, domain.ErrAddressNotFound) {
			if errors.Is(err, domain.ErrAddressNotFound) {
				return nil, fmt.Errorf("create under %s: %w", parent, domain.ErrParentNotFound)
			}
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if title == "" {
		title, err = s.nextNumericTitle(ctx, tx, parent)
		if err != nil {
			return nil, err
		}
	}
	addr := parent.Child(title)

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM paths WHERE domain = ? AND path = ?`,
		addr.Domain, addr.Path).Scan(&exists); err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, fmt.Errorf("create %s: %w", addr, domain.ErrPathExists)
	}

	now := s.now().UTC()
	m := &memory.Memory{
		ID:             s.newID(),
		Content:        content,
		Priority:       priority,
		Disclosure:     disclosure,
		VitalityScore:  1.0,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		ContentHash:    memory.HashContent(content),
	}
	if err := insertMemory(ctx, tx, m); err != nil {
		return nil, err
	}
	if err := insertPath(ctx, tx, addr, m.ID, priority, disclosure, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &CreateResult{Memory: m, Address: addr}, nil
}

func insertMemory(ctx context.Context, tx *sql.Tx, m *memory.Memory) error {
	var migratedTo any
	if m.MigratedTo != "" {
		migratedTo = m.MigratedTo
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, m.Priority, m.Disclosure, m.VitalityScore,
		m.CreatedAt.Format(timeLayout), m.UpdatedAt.Format(timeLayout),
		m.LastAccessedAt.Format(timeLayout), m.AccessCount, boolToInt(m.Deprecated),
		migratedTo, m.ContentHash)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func insertPath(ctx context.Context, tx *sql.Tx, addr address.Address, memoryID string, priority int, disclosure string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO paths (domain, path, memory_id, priority, disclosure, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		addr.Domain, addr.Path, memoryID, priority, disclosure, now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert path %s: %w", addr, err)
	}
	return nil
}

// nextNumericTitle picks the smallest integer token not used under parent.
func (s *Store) nextNumericTitle(ctx context.Context, tx *sql.Tx, parent address.Address) (string, error) {
	prefix := parent.Path + "/"
	rows, err := tx.QueryContext(ctx,
		`SELECT path FROM paths WHERE domain = ? AND path LIKE ?`,
		parent.Domain, prefix+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()

	next := 1
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return "", err
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n >= next {
			next = n + 1
		}
	}
	return strconv.Itoa(next), rows.Err()
}

// UpdateResult reports the outcome of a content update.
type UpdateResult struct {
	OldID  string
	Memory *memory.Memory
}

// UpdatePatch replaces old with new in the content. old must occur exactly
// once. The update creates a successor record, deprecates the original,
// and repoints every path at the successor.
func (s *Store) UpdatePatch(ctx context.Context, memoryID, oldStr, newStr string) (*UpdateResult, error) {
	cur, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	switch strings.Count(cur.Content, oldStr) {
	case 0:
		return nil, fmt.Errorf("patch %s: %w", memoryID, domain.ErrPatchNotFound)
	case 1:
	default:
		return nil, fmt.Errorf("patch %s: %w", memoryID, domain.ErrPatchAmbiguous)
	}
	return s.replaceContent(ctx, cur, strings.Replace(cur.Content, oldStr, newStr, 1))
}

// UpdateAppend atomically appends tail to the content via the same
// successor-record mechanism as UpdatePatch.
func (s *Store) UpdateAppend(ctx context.Context, memoryID, tail string) (*UpdateResult, error) {
	cur, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return s.replaceContent(ctx, cur, cur.Content+tail)
}

// ReplaceContent overwrites the full content; used by rollback and
// consolidation writes.
func (s *Store) ReplaceContent(ctx context.Context, memoryID, content string) (*UpdateResult, error) {
	cur, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return s.replaceContent(ctx, cur, content)
}

func (s *Store) replaceContent(ctx context.Context, cur *memory.Memory, content string) (*UpdateResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.now().UTC()
	next := &memory.Memory{
		ID:             s.newID(),
		Content:        content,
		Priority:       cur.Priority,
		Disclosure:     cur.Disclosure,
		VitalityScore:  cur.VitalityScore,
		CreatedAt:      cur.CreatedAt,
		UpdatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    cur.AccessCount,
		ContentHash:    memory.HashContent(content),
	}
	if err := insertMemory(ctx, tx, next); err != nil {
		return nil, err
	}

	// Deprecate the original and move every alias to the successor.
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET deprecated = 1, migrated_to = ?, updated_at = ? WHERE id = ?`,
		next.ID, now.Format(timeLayout), cur.ID); err != nil {
		return nil, fmt.Errorf("deprecate %s: %w", cur.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE paths SET memory_id = ? WHERE memory_id = ?`, next.ID, cur.ID); err != nil {
		return nil, fmt.Errorf("repoint paths %s: %w", cur.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &UpdateResult{OldID: cur.ID, Memory: next}, nil
}

// UpdateMeta changes priority and/or disclosure in place. Metadata updates
// never create a successor record and never touch the content indices.
func (s *Store) UpdateMeta(ctx context.Context, memoryID string, priority *int, disclosure *string) (*memory.Memory, error) {
	cur, err := s.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if priority != nil {
		cur.Priority = *priority
	}
	if disclosure != nil {
		cur.Disclosure = *disclosure
	}
	cur.UpdatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE memories SET priority = ?, disclosure = ?, updated_at = ? WHERE id = ?`,
		cur.Priority, cur.Disclosure, cur.UpdatedAt.Format(timeLayout), memoryID)
	if err != nil {
		return nil, fmt.Errorf("update meta %s: %w", memoryID, err)
	}
	return cur, nil
}

// DeleteResult reports what survived a path deletion.
type DeleteResult struct {
	MemoryID       string
	SurvivingPaths []string
	Deprecated     bool
}

// DeletePath removes one path. The memory is deprecated iff no paths remain.
func (s *Store) DeletePath(ctx context.Context, addr address.Address) (*DeleteResult, error) {
	id, err := s.ResolveAddress(ctx, addr)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM paths WHERE domain = ? AND path = ?`, addr.Domain, addr.Path); err != nil {
		return nil, fmt.Errorf("delete path %s: %w", addr, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT domain, path FROM paths WHERE memory_id = ? ORDER BY domain, path`, id)
	if err != nil {
		return nil, err
	}
	var surviving []string
	for rows.Next() {
		var d, p string
		if err := rows.Scan(&d, &p); err != nil {
			rows.Close()
			return nil, err
		}
		surviving = append(surviving, d+"://"+p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res := &DeleteResult{MemoryID: id, SurvivingPaths: surviving}
	if len(surviving) == 0 {
		now := s.now().UTC().Format(timeLayout)
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET deprecated = 1, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return nil, fmt.Errorf("deprecate %s: %w", id, err)
		}
		res.Deprecated = true
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// AddAlias maps newAddr to the memory at targetAddr.
func (s *Store) AddAlias(ctx context.Context, newAddr, targetAddr address.Address, priority int, disclosure string) (string, error) {
	id, err := s.ResolveAddress(ctx, targetAddr)
	if err != nil {
		return "", err
	}
	if _, err := s.ResolveAddress(ctx, newAddr); err == nil {
		return "", fmt.Errorf("alias %s: %w", newAddr, domain.ErrPathExists)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if err := insertPath(ctx, tx, newAddr, id, priority, disclosure, s.now().UTC()); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// RestorePath re-inserts a path mapping; used by rollback.
func (s *Store) RestorePath(ctx context.Context, p memory.Path) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO paths (domain, path, memory_id, priority, disclosure, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Domain, p.Path, p.MemoryID, p.Priority, p.Disclosure,
		p.CreatedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("restore path %s://%s: %w", p.Domain, p.Path, err)
	}
	// A restored path revives a memory deprecated by path deletion.
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET deprecated = 0 WHERE id = ? AND migrated_to IS NULL`, p.MemoryID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListChildren returns the direct child paths under addr.
func (s *Store) ListChildren(ctx context.Context, addr address.Address) ([]memory.Path, error) {
	prefix := addr.Path + "/"
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, path, memory_id, priority, disclosure, created_at
		 FROM paths WHERE domain = ? AND path LIKE ? AND path NOT LIKE ?
		 ORDER BY path`,
		addr.Domain, prefix+"%", prefix+"%/%")
	if err != nil {
		return nil, fmt.Errorf("list children %s: %w", addr, err)
	}
	defer rows.Close()
	return collectPaths(rows)
}

// ListDomainRoots returns the distinct first path segments of one domain.
// A root appears whether or not it carries a path row of its own, so the
// browse tree stays reachable when content lives only under nested paths.
func (s *Store) ListDomainRoots(ctx context.Context, dom string) ([]memory.Path, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT CASE WHEN instr(path, '/') > 0
		        THEN substr(path, 1, instr(path, '/') - 1)
		        ELSE path END AS root
		 FROM paths WHERE domain = ? ORDER BY root`, dom)
	if err != nil {
		return nil, fmt.Errorf("list roots %s: %w", dom, err)
	}
	defer rows.Close()

	var out []memory.Path
	for rows.Next() {
		var root string
		if err := rows.Scan(&root); err != nil {
			return nil, err
		}
		out = append(out, memory.Path{Domain: dom, Path: root})
	}
	return out, rows.Err()
}

// ListOrphans returns non-deprecated memories that no path references.
func (s *Store) ListOrphans(ctx context.Context) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deprecated = 0 AND id NOT IN (SELECT memory_id FROM paths)
		 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListCleanupCandidates returns low-vitality, long-inactive memories.
func (s *Store) ListCleanupCandidates(ctx context.Context, threshold float64, inactiveDays float64, limit int) ([]memory.Memory, error) {
	cutoff := s.now().UTC().Add(-time.Duration(inactiveDays * 24 * float64(time.Hour)))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deprecated = 0 AND vitality_score <= ? AND last_accessed_at <= ?
		 ORDER BY vitality_score ASC, last_accessed_at ASC LIMIT ?`,
		threshold, cutoff.Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("list cleanup candidates: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListRecent returns the last n modified non-deprecated memories.
func (s *Store) ListRecent(ctx context.Context, n int) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deprecated = 0 ORDER BY updated_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListRecentAccessed returns the last n accessed non-deprecated memories.
func (s *Store) ListRecentAccessed(ctx context.Context, n int) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deprecated = 0 ORDER BY last_accessed_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list recent accessed: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListActive returns all non-deprecated memories.
func (s *Store) ListActive(ctx context.Context) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE deprecated = 0`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// Stats summarizes the store for system://index.
type Stats struct {
	Memories   int `json:"memories"`
	Deprecated int `json:"deprecated"`
	Paths      int `json:"paths"`
	Domains    int `json:"domains"`
	Chunks     int `json:"chunks"`
	Vectors    int `json:"vectors"`
}

// GetStats counts the main tables.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(1) FROM memories WHERE deprecated = 0),
		(SELECT COUNT(1) FROM memories WHERE deprecated = 1),
		(SELECT COUNT(1) FROM paths),
		(SELECT COUNT(DISTINCT domain) FROM paths),
		(SELECT COUNT(1) FROM memory_chunks),
		(SELECT COUNT(1) FROM memory_vectors)`)
	if err := row.Scan(&st.Memories, &st.Deprecated, &st.Paths, &st.Domains, &st.Chunks, &st.Vectors); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}

func collectMemories(rows *sql.Rows) ([]memory.Memory, error) {
	var out []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
