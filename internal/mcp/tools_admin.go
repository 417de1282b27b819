package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReindexArgument defines reindex parameters.
type ReindexArgument struct {
	RepairOnly bool `json:"repair_only,omitempty" jsonschema_description:"Only re-index resources whose last index update failed"`
}

// StatusArgument takes no parameters.
type StatusArgument struct{}

// AdminHandler handles index maintenance and status tools.
type AdminHandler struct {
	tc *Tools
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(tc *Tools) *AdminHandler {
	return &AdminHandler{tc: tc}
}

// HandleReindex rebuilds the search index from the store, or repairs the resources
// queued after failed index updates.
func (h *AdminHandler) HandleReindex(ctx context.Context, req *mcp.CallToolRequest, args ReindexArgument) (*mcp.CallToolResult, any, error) {
	if args.RepairOnly {
		repaired, err := h.tc.repo.Repair(ctx)
		if err != nil {
			return errorResult("repair index", err), nil, nil
		}
		return textResult(fmt.Sprintf("Repaired %d resources", repaired)), nil, nil
	}

	stats, err := h.tc.repo.Index(ctx)
	if err != nil {
		return errorResult("reindex", err), nil, nil
	}
	return textResult(fmt.Sprintf("Indexed %d resources (%d versions), removed %d stale documents in %s",
		stats.Resources, stats.Versions, stats.Removed, stats.Duration.Round(time.Millisecond))), nil, nil
}

// HandleStatus reports repository counters.
func (h *AdminHandler) HandleStatus(ctx context.Context, req *mcp.CallToolRequest, args StatusArgument) (*mcp.CallToolResult, any, error) {
	resources, err := h.tc.repo.ResourceCount(ctx)
	if err != nil {
		return errorResult("count resources", err), nil, nil
	}
	versions, err := h.tc.repo.VersionCount(ctx)
	if err != nil {
		return errorResult("count versions", err), nil, nil
	}

	view := struct {
		Site              string `yaml:"site"`
		Resources         int    `yaml:"resources"`
		Versions          int    `yaml:"versions"`
		PendingOperations int    `yaml:"pending_operations"`
		RepairPending     int    `yaml:"repair_pending"`
		NeedsReindex      bool   `yaml:"needs_reindex"`
	}{
		Site:              h.tc.repo.Site(),
		Resources:         resources,
		Versions:          versions,
		PendingOperations: h.tc.repo.PendingCount(),
		RepairPending:     h.tc.repo.RepairPending(),
		NeedsReindex:      h.tc.repo.NeedsReindex(),
	}
	return yamlResult("", view), nil, nil
}

// RegisterAdminTools registers the admin tools with an MCP server.
func RegisterAdminTools(server *mcp.Server, tc *Tools) {
	handler := NewAdminHandler(tc)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reindex",
		Description: "Rebuild the search index from the content store, or repair resources whose index update failed",
	}, handler.HandleReindex)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "repository_status",
		Description: "Show resource counts and index state of the content repository",
	}, handler.HandleStatus)
}
