package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/contentrepo"
)

// LockHandler handles the lock and unlock tools. The acting user becomes the lock
// owner.
type LockHandler struct {
	tc *Tools
}

// NewLockHandler creates a new lock handler.
func NewLockHandler(tc *Tools) *LockHandler {
	return &LockHandler{tc: tc}
}

// HandleLock locks every version of a resource.
func (h *LockHandler) HandleLock(ctx context.Context, req *mcp.CallToolRequest, args ResourceArgument) (*mcp.CallToolResult, any, error) {
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	ctx, user := h.tc.actor(ctx)
	res, err := h.tc.repo.Lock(ctx, uri, user)
	var locked *contentrepo.LockedError
	if errors.As(err, &locked) {
		return invalidArgument("%s is already locked by %s", uri, locked.Owner), nil, nil
	}
	if err != nil {
		return errorResult("lock resource", err), nil, nil
	}
	return textResult(fmt.Sprintf("Locked %s for %s", res.URI, user)), nil, nil
}

// HandleUnlock clears the lock of every version of a resource.
func (h *LockHandler) HandleUnlock(ctx context.Context, req *mcp.CallToolRequest, args ResourceArgument) (*mcp.CallToolResult, any, error) {
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	ctx, user := h.tc.actor(ctx)
	res, err := h.tc.repo.Unlock(ctx, uri, user)
	if err != nil {
		return errorResult("unlock resource", err), nil, nil
	}
	return textResult(fmt.Sprintf("Unlocked %s", res.URI)), nil, nil
}

// RegisterLockTools registers the lock tools with an MCP server.
func RegisterLockTools(server *mcp.Server, tc *Tools) {
	handler := NewLockHandler(tc)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "lock_resource",
		Description: "Lock all versions of a resource for the calling user",
	}, handler.HandleLock)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "unlock_resource",
		Description: "Remove the lock from all versions of a resource",
	}, handler.HandleUnlock)
}
