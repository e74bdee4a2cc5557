package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/indexjob"
	"github.com/mnemolabs/palace/internal/domain/memory"
	"github.com/mnemolabs/palace/internal/service"
)

// defaultSessionID scopes snapshot and session-ring state for clients
// that do not pass an explicit session id.
const defaultSessionID = "default"

// registerTools registers the nine memory tools on the server.
func (s *Server) registerTools() {
	list := []mcpserver.ServerTool{
		s.readMemoryTool(),
		s.createMemoryTool(),
		s.updateMemoryTool(),
		s.deleteMemoryTool(),
		s.addAliasTool(),
		s.searchMemoryTool(),
		s.compactContextTool(),
		s.rebuildIndexTool(),
		s.indexStatusTool(),
	}
	s.tools = make(map[string]mcpserver.ServerTool, len(list))
	for _, st := range list {
		s.tools[st.Tool.Name] = st
	}
	s.mcpServer.AddTools(list...)
}

func (s *Server) readMemoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("read_memory",
		mcplib.WithDescription("Read a memory by address. system:// addresses return structured views. At most one of chunk_id, range, max_chars may be set."),
		mcplib.WithString("address",
			mcplib.Required(),
			mcplib.Description("Memory address, e.g. core://rules/secrets or system://boot"),
		),
		mcplib.WithNumber("chunk_id", mcplib.Description("Return only this chunk (0-based)")),
		mcplib.WithString("range", mcplib.Description("Byte range start:end over the full content")),
		mcplib.WithNumber("max_chars", mcplib.Description("Return at most this many leading characters")),
		mcplib.WithString("session_id", mcplib.Description("Session scope for access tracking")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleReadMemory}
}

func (s *Server) handleReadMemory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Resolver == nil {
		return mcplib.NewToolResultError("resolver not configured"), nil
	}
	args := req.GetArguments()
	addr, ok := args["address"].(string)
	if !ok || addr == "" {
		return mcplib.NewToolResultError("address is required"), nil
	}

	var opts service.ReadOptions
	if v, ok := intArg(args, "chunk_id"); ok {
		chunk := v
		opts.ChunkID = &chunk
	}
	if v, ok := args["range"].(string); ok {
		opts.Range = v
	}
	if v, ok := intArg(args, "max_chars"); ok {
		opts.MaxChars = v
	}

	res, err := s.deps.Resolver.Read(ctx, addr, opts)
	if err != nil {
		return toolError("read failed", err), nil
	}
	if s.deps.Retrieval != nil && res.MemoryID != "" {
		s.deps.Retrieval.NoteAccess(sessionID(args), res.MemoryID)
	}
	return toolResultJSON(res)
}

func (s *Server) createMemoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("create_memory",
		mcplib.WithDescription("Create a memory under a parent address. The write guard may block duplicates or redirect the content onto an existing memory."),
		mcplib.WithString("parent_address",
			mcplib.Required(),
			mcplib.Description("Parent address the new memory is filed under"),
		),
		mcplib.WithString("content", mcplib.Required(), mcplib.Description("Memory content")),
		mcplib.WithNumber("priority", mcplib.Description("Priority, 0 is highest")),
		mcplib.WithString("title", mcplib.Description("Optional path segment [a-z0-9_-]+; omitted titles are assigned")),
		mcplib.WithString("disclosure", mcplib.Description("Disclosure note shown alongside the memory")),
		mcplib.WithString("session_id", mcplib.Description("Session scope for the pre-state snapshot")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCreateMemory}
}

func (s *Server) handleCreateMemory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memories == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	cr := memory.CreateRequest{
		ParentAddress: strArg(args, "parent_address"),
		Content:       strArg(args, "content"),
		Title:         strArg(args, "title"),
		Disclosure:    strArg(args, "disclosure"),
	}
	if v, ok := intArg(args, "priority"); ok {
		cr.Priority = v
	}
	out, err := s.deps.Memories.Create(ctx, sessionID(args), cr)
	if err != nil {
		return toolError("create failed", err), nil
	}
	return toolResultJSON(out)
}

func (s *Server) updateMemoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("update_memory",
		mcplib.WithDescription("Update a memory. Exactly one shape: patch (old+new), append, or meta-only (priority/disclosure). Content changes version the memory; the old version stays readable through its history."),
		mcplib.WithString("address", mcplib.Required(), mcplib.Description("Address of the memory to update")),
		mcplib.WithString("old", mcplib.Description("Patch: exact substring to replace, must occur exactly once")),
		mcplib.WithString("new", mcplib.Description("Patch: replacement text")),
		mcplib.WithString("append", mcplib.Description("Append: text added to the end of the content")),
		mcplib.WithNumber("priority", mcplib.Description("Meta: new priority")),
		mcplib.WithString("disclosure", mcplib.Description("Meta: new disclosure")),
		mcplib.WithString("session_id", mcplib.Description("Session scope for the pre-state snapshot")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleUpdateMemory}
}

func (s *Server) handleUpdateMemory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memories == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	ur := memory.UpdateRequest{
		Address: strArg(args, "address"),
		Old:     strArg(args, "old"),
		New:     strArg(args, "new"),
		Append:  strArg(args, "append"),
	}
	if v, ok := intArg(args, "priority"); ok {
		ur.Priority = &v
	}
	if v, ok := args["disclosure"].(string); ok {
		ur.Disclosure = &v
	}
	out, err := s.deps.Memories.Update(ctx, sessionID(args), ur)
	if err != nil {
		return toolError("update failed", err), nil
	}
	return toolResultJSON(out)
}

func (s *Server) deleteMemoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("delete_memory",
		mcplib.WithDescription("Delete one address. The memory survives while other paths reference it and is deprecated only when the last path goes."),
		mcplib.WithString("address", mcplib.Required(), mcplib.Description("Address to remove")),
		mcplib.WithString("session_id", mcplib.Description("Session scope for the pre-state snapshot")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDeleteMemory}
}

func (s *Server) handleDeleteMemory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memories == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	addr := strArg(args, "address")
	if addr == "" {
		return mcplib.NewToolResultError("address is required"), nil
	}
	out, err := s.deps.Memories.Delete(ctx, sessionID(args), addr)
	if err != nil {
		return toolError("delete failed", err), nil
	}
	return toolResultJSON(out)
}

func (s *Server) addAliasTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("add_alias",
		mcplib.WithDescription("Map a new address onto an existing memory. Aliases carry no content and skip the duplicate guard."),
		mcplib.WithString("new_address", mcplib.Required(), mcplib.Description("Address to create")),
		mcplib.WithString("target_address", mcplib.Required(), mcplib.Description("Existing address the alias points at")),
		mcplib.WithNumber("priority", mcplib.Description("Priority of the alias path")),
		mcplib.WithString("disclosure", mcplib.Description("Disclosure note for the alias path")),
		mcplib.WithString("session_id", mcplib.Description("Session scope for the pre-state snapshot")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleAddAlias}
}

func (s *Server) handleAddAlias(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memories == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	newAddr := strArg(args, "new_address")
	targetAddr := strArg(args, "target_address")
	if newAddr == "" || targetAddr == "" {
		return mcplib.NewToolResultError("new_address and target_address are required"), nil
	}
	priority := 0
	if v, ok := intArg(args, "priority"); ok {
		priority = v
	}
	out, err := s.deps.Memories.AddAlias(ctx, sessionID(args), newAddr, targetAddr, priority, strArg(args, "disclosure"))
	if err != nil {
		return toolError("add alias failed", err), nil
	}
	return toolResultJSON(out)
}

func (s *Server) searchMemoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("search_memory",
		mcplib.WithDescription("Search memories. Stages degrade rather than fail: a broken embedder downgrades semantic and hybrid to keyword and the response reports degrade_reasons."),
		mcplib.WithString("query", mcplib.Required(), mcplib.Description("Free-text query")),
		mcplib.WithString("mode", mcplib.Description("keyword, semantic or hybrid (default hybrid)")),
		mcplib.WithNumber("max_results", mcplib.Description("Result cap, 1..50")),
		mcplib.WithNumber("candidate_multiplier", mcplib.Description("Candidate pool factor, 1..20")),
		mcplib.WithBoolean("include_session", mcplib.Description("Seed results with memories this session touched")),
		mcplib.WithString("session_id", mcplib.Description("Session whose ring seeds the results")),
		mcplib.WithString("domain", mcplib.Description("Filter: only this address domain")),
		mcplib.WithString("path_prefix", mcplib.Description("Filter: address prefix")),
		mcplib.WithNumber("max_priority", mcplib.Description("Filter: only priorities <= this value")),
		mcplib.WithString("updated_after", mcplib.Description("Filter: RFC 3339 lower bound on updated_at")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSearchMemory}
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Retrieval == nil {
		return mcplib.NewToolResultError("retrieval not configured"), nil
	}
	args := req.GetArguments()
	sr := service.SearchRequest{
		Query:      strArg(args, "query"),
		Mode:       strArg(args, "mode"),
		SessionID:  sessionID(args),
		Domain:     strArg(args, "domain"),
		PathPrefix: strArg(args, "path_prefix"),
	}
	if sr.Query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	if v, ok := intArg(args, "max_results"); ok {
		if v < 1 || v > 50 {
			return mcplib.NewToolResultError("max_results must be between 1 and 50"), nil
		}
		sr.MaxResults = v
	}
	if v, ok := intArg(args, "candidate_multiplier"); ok {
		if v < 1 || v > 20 {
			return mcplib.NewToolResultError("candidate_multiplier must be between 1 and 20"), nil
		}
		sr.CandidateMultiplier = v
	}
	if v, ok := args["include_session"].(bool); ok {
		sr.IncludeSession = &v
	}
	if v, ok := intArg(args, "max_priority"); ok {
		sr.MaxPriority = &v
	}
	if raw := strArg(args, "updated_after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("updated_after %q is not RFC 3339", raw)), nil
		}
		sr.UpdatedAfter = ts
	}
	out, err := s.deps.Retrieval.Search(ctx, sr)
	if err != nil {
		return toolError("search failed", err), nil
	}
	return toolResultJSON(out)
}

func (s *Server) compactContextTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("compact_context",
		mcplib.WithDescription("Flush session context into the memory store with a gist. Re-flushing the same session replaces the previous flush."),
		mcplib.WithString("session_id", mcplib.Required(), mcplib.Description("Session being compacted")),
		mcplib.WithString("content", mcplib.Required(), mcplib.Description("Session content to flush")),
		mcplib.WithString("reason", mcplib.Description("Why the flush happened, e.g. window_full")),
		mcplib.WithBoolean("force", mcplib.Description("Flush even when content is empty")),
		mcplib.WithNumber("max_lines", mcplib.Description("Gist length bound, minimum 3")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCompactContext}
}

func (s *Server) handleCompactContext(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Compactor == nil {
		return mcplib.NewToolResultError("compactor not configured"), nil
	}
	args := req.GetArguments()
	cr := service.CompactRequest{
		SessionID: strArg(args, "session_id"),
		Content:   strArg(args, "content"),
		Reason:    strArg(args, "reason"),
	}
	if cr.SessionID == "" {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	if v, ok := args["force"].(bool); ok {
		cr.Force = v
	}
	if v, ok := intArg(args, "max_lines"); ok {
		cr.MaxLines = v
	}
	out, err := s.deps.Compactor.Compact(ctx, cr)
	if err != nil {
		return toolError("compact failed", err), nil
	}
	return toolResultJSON(out)
}

func (s *Server) rebuildIndexTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("rebuild_index",
		mcplib.WithDescription("Enqueue a background index job: full rebuild, one memory, or sleep consolidation. memory_id and sleep_consolidation are mutually exclusive."),
		mcplib.WithString("memory_id", mcplib.Description("Reindex only this memory")),
		mcplib.WithString("reason", mcplib.Description("Recorded on the job")),
		mcplib.WithBoolean("wait", mcplib.Description("Block until the job finishes or the timeout passes")),
		mcplib.WithNumber("timeout", mcplib.Description("Wait timeout in seconds (default 30)")),
		mcplib.WithBoolean("sleep_consolidation", mcplib.Description("Run dedup and rollup consolidation instead of a rebuild")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRebuildIndex}
}

func (s *Server) handleRebuildIndex(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Worker == nil {
		return mcplib.NewToolResultError("index worker not configured"), nil
	}
	args := req.GetArguments()
	memoryID := strArg(args, "memory_id")
	sleep, _ := args["sleep_consolidation"].(bool)
	if sleep && memoryID != "" {
		return mcplib.NewToolResultError("memory_id and sleep_consolidation are mutually exclusive"), nil
	}

	task := indexjob.TaskRebuildIndex
	switch {
	case sleep:
		task = indexjob.TaskSleepConsolidation
	case memoryID != "":
		task = indexjob.TaskReindexMemory
	}

	outcome, jobID, err := s.deps.Worker.Enqueue(ctx, task, memoryID, strArg(args, "reason"))
	if err != nil && !errors.Is(err, domain.ErrQueueFull) {
		return toolError("enqueue failed", err), nil
	}

	resp := map[string]any{
		"job_id":  jobID,
		"outcome": string(outcome),
	}
	if errors.Is(err, domain.ErrQueueFull) {
		resp["error"] = domain.Code(err)
		return toolResultJSON(resp)
	}

	if wait, _ := args["wait"].(bool); wait {
		timeout := 30 * time.Second
		if v, ok := intArg(args, "timeout"); ok && v > 0 {
			timeout = time.Duration(v) * time.Second
		}
		job, err := s.deps.Worker.Wait(ctx, jobID, timeout)
		if errors.Is(err, domain.ErrWaitTimeout) {
			resp["wait"] = "wait_timeout"
			return toolResultJSON(resp)
		}
		if err != nil {
			return toolError("wait failed", err), nil
		}
		resp["job"] = job
	}
	return toolResultJSON(resp)
}

func (s *Server) indexStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("index_status",
		mcplib.WithDescription("Report index worker state: queue depth, active job, recent jobs, and the last sleep consolidation preview."),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleIndexStatus}
}

func (s *Server) handleIndexStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Worker == nil {
		return mcplib.NewToolResultError("index worker not configured"), nil
	}
	resp := map[string]any{
		"worker": s.deps.Worker.Overview(),
	}
	if s.deps.Sleep != nil {
		if preview := s.deps.Sleep.LastPreview(); preview != nil {
			resp["sleep_preview"] = preview
		}
	}
	return toolResultJSON(resp)
}

// --- helpers ---

func sessionID(args map[string]any) string {
	if v, ok := args["session_id"].(string); ok && v != "" {
		return v
	}
	return defaultSessionID
}

func strArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads a JSON number argument. Decoded numbers arrive as float64.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

// toolError carries the domain error code in the tool error text so agents
// can branch on it.
func toolError(msg string, err error) *mcplib.CallToolResult {
	return mcplib.NewToolResultError(fmt.Sprintf("%s: %s: %v", msg, domain.Code(err), err))
}
