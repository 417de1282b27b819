package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/contentrepo"
	"github.com/sha1n/mcp-content-repository/internal/store"
)

// MaxContentBytes caps the content returned by the read_content tool.
const MaxContentBytes = 256 * 1024

// ResourceArgument addresses one resource version.
type ResourceArgument struct {
	ID      string `json:"id,omitempty" jsonschema_description:"Resource identifier"`
	Path    string `json:"path,omitempty" jsonschema_description:"Resource path, e.g. /news/today"`
	Version string `json:"version,omitempty" jsonschema_description:"live (default), work or a version number"`
}

// ContentArgument addresses one language variant of a resource version.
type ContentArgument struct {
	ID       string `json:"id,omitempty" jsonschema_description:"Resource identifier"`
	Path     string `json:"path,omitempty" jsonschema_description:"Resource path"`
	Version  string `json:"version,omitempty" jsonschema_description:"live (default), work or a version number"`
	Language string `json:"language" jsonschema_description:"Content language, e.g. en"`
}

// ReadHandler handles the read-only resource tools.
type ReadHandler struct {
	tc *Tools
}

// NewReadHandler creates a new read handler.
func NewReadHandler(tc *Tools) *ReadHandler {
	return &ReadHandler{tc: tc}
}

// HandleGet returns one resource version as YAML.
func (h *ReadHandler) HandleGet(ctx context.Context, req *mcp.CallToolRequest, args ResourceArgument) (*mcp.CallToolResult, any, error) {
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	res, err := h.tc.repo.Get(ctx, uri)
	if errors.Is(err, contentrepo.ErrNotFound) {
		return invalidArgument("Resource not found: %s", uri), nil, nil
	}
	if err != nil {
		return errorResult("get resource", err), nil, nil
	}
	return yamlResult("", newResourceView(res)), nil, nil
}

// HandleVersions lists the versions of a resource.
func (h *ReadHandler) HandleVersions(ctx context.Context, req *mcp.CallToolRequest, args ResourceArgument) (*mcp.CallToolResult, any, error) {
	uri, err := h.tc.resourceURI(args.ID, args.Path, "")
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	uris, err := h.tc.repo.GetVersions(ctx, uri)
	if err != nil {
		return errorResult("list versions", err), nil, nil
	}
	if len(uris) == 0 {
		return invalidArgument("Resource not found: %s", uri), nil, nil
	}

	view := struct {
		ID       string   `yaml:"id"`
		Path     string   `yaml:"path,omitempty"`
		Versions []string `yaml:"versions"`
	}{
		ID:       uris[0].ID,
		Path:     uris[0].Path,
		Versions: versionList(uris),
	}
	return yamlResult("", view), nil, nil
}

// HandleReadContent returns the binary of a content variant. Text is returned as is,
// anything else base64 encoded.
func (h *ReadHandler) HandleReadContent(ctx context.Context, req *mcp.CallToolRequest, args ContentArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Language) == "" {
		return invalidArgument("Language cannot be empty"), nil, nil
	}
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	rc, err := h.tc.repo.ReadContent(ctx, uri, args.Language)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrContentNotFound) {
		return invalidArgument("Content not found: %s (%s)", uri, args.Language), nil, nil
	}
	if err != nil {
		return errorResult("read content", err), nil, nil
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, MaxContentBytes+1))
	if err != nil {
		return errorResult("read content", err), nil, nil
	}
	truncated := len(data) > MaxContentBytes
	if truncated {
		data = data[:MaxContentBytes]
	}

	var sb strings.Builder
	if !IsBinary(data) && utf8.Valid(data) {
		sb.WriteString(fmt.Sprintf("**Content**: %s (%s)\n\n", uri, args.Language))
		sb.Write(data)
	} else {
		sb.WriteString(fmt.Sprintf("**Content**: %s (%s), base64 encoded\n\n", uri, args.Language))
		sb.WriteString(base64.StdEncoding.EncodeToString(data))
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("\n\n... truncated after %d bytes\n", MaxContentBytes))
	}
	return textResult(sb.String()), nil, nil
}

// RegisterReadTools registers the read tools with an MCP server.
func RegisterReadTools(server *mcp.Server, tc *Tools) {
	handler := NewReadHandler(tc)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_resource",
		Description: "Get one version of a resource by identifier or path",
	}, handler.HandleGet)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_versions",
		Description: "List the versions (live, work, numbered) of a resource",
	}, handler.HandleVersions)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_content",
		Description: "Read the binary content of one language of a resource version",
	}, handler.HandleReadContent)
}
