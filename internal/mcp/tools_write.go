package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/contentrepo"
	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// PageletArgument describes one pagelet of a page.
type PageletArgument struct {
	Composer   string            `json:"composer" jsonschema_description:"Composer (page area) holding the pagelet"`
	Module     string            `json:"module,omitempty" jsonschema_description:"Module rendering the pagelet"`
	ID         string            `json:"id,omitempty" jsonschema_description:"Pagelet identifier within the module"`
	Properties map[string]string `json:"properties,omitempty" jsonschema_description:"Pagelet properties; resourceid links to another resource"`
	Elements   map[string]string `json:"elements,omitempty" jsonschema_description:"Pagelet text elements"`
}

// PutPageArgument defines a page version to store.
type PutPageArgument struct {
	ID         string            `json:"id,omitempty" jsonschema_description:"Resource identifier; assigned when empty and no resource exists at path"`
	Path       string            `json:"path,omitempty" jsonschema_description:"Resource path, e.g. /news/today"`
	Version    string            `json:"version,omitempty" jsonschema_description:"live (default), work or a version number"`
	Title      string            `json:"title,omitempty" jsonschema_description:"Page title"`
	Template   string            `json:"template,omitempty" jsonschema_description:"Page template"`
	Subjects   []string          `json:"subjects,omitempty" jsonschema_description:"Subjects (keywords)"`
	Series     []string          `json:"series,omitempty" jsonschema_description:"Series the page belongs to"`
	Pagelets   []PageletArgument `json:"pagelets,omitempty" jsonschema_description:"Page content"`
	References []string          `json:"references,omitempty" jsonschema_description:"Identifiers of resources this page links to"`
}

// PutContentArgument defines a content variant to store.
type PutContentArgument struct {
	ID       string `json:"id,omitempty" jsonschema_description:"Resource identifier"`
	Path     string `json:"path,omitempty" jsonschema_description:"Resource path"`
	Version  string `json:"version,omitempty" jsonschema_description:"live (default), work or a version number"`
	Language string `json:"language" jsonschema_description:"Content language, e.g. en"`
	Mimetype string `json:"mimetype,omitempty" jsonschema_description:"Mimetype of the data; detected from filename and data when empty"`
	Filename string `json:"filename,omitempty" jsonschema_description:"Original filename"`
	Data     string `json:"data" jsonschema_description:"Content data"`
	Base64   bool   `json:"base64,omitempty" jsonschema_description:"Data is base64 encoded"`
}

// DeleteArgument defines a resource or version to delete.
type DeleteArgument struct {
	ID          string `json:"id,omitempty" jsonschema_description:"Resource identifier"`
	Path        string `json:"path,omitempty" jsonschema_description:"Resource path"`
	Version     string `json:"version,omitempty" jsonschema_description:"live (default), work or a version number"`
	AllVersions bool   `json:"all_versions,omitempty" jsonschema_description:"Delete every version of the resource"`
}

// MoveArgument defines a move of a resource to another path.
type MoveArgument struct {
	ID           string `json:"id,omitempty" jsonschema_description:"Resource identifier"`
	Path         string `json:"path,omitempty" jsonschema_description:"Current resource path"`
	Target       string `json:"target" jsonschema_description:"New absolute path"`
	MoveChildren bool   `json:"move_children,omitempty" jsonschema_description:"Also move the resources below the current path"`
}

// WriteHandler handles the tools that change resources.
type WriteHandler struct {
	tc *Tools
}

// NewWriteHandler creates a new write handler.
func NewWriteHandler(tc *Tools) *WriteHandler {
	return &WriteHandler{tc: tc}
}

// HandlePutPage stores a page version. The page is sent without contents, so the
// repository keeps the content variants of an existing version.
func (h *WriteHandler) HandlePutPage(ctx context.Context, req *mcp.CallToolRequest, args PutPageArgument) (*mcp.CallToolResult, any, error) {
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}
	ctx, _ = h.tc.actor(ctx)

	page := domain.NewPage(uri, args.Template)
	page.Title = args.Title
	page.Subjects = args.Subjects
	page.Series = args.Series
	for i, p := range args.Pagelets {
		if strings.TrimSpace(p.Composer) == "" {
			return invalidArgument("Pagelet %d has no composer", i), nil, nil
		}
		page.AddPagelet(p.Composer, domain.Pagelet{
			Module:     p.Module,
			ID:         p.ID,
			Properties: p.Properties,
			Elements:   p.Elements,
		})
	}
	for _, id := range args.References {
		page.AddPagelet("references", domain.Pagelet{
			Module:     "link",
			Properties: map[string]string{domain.ReferenceProperty: id},
		})
	}

	stored, err := h.tc.repo.Put(ctx, page, false)
	if err != nil {
		return errorResult("put page", err), nil, nil
	}
	return yamlResult("Stored page "+stored.URI.String(), newResourceView(stored)), nil, nil
}

// HandlePutContent stores the data of one language variant.
func (h *WriteHandler) HandlePutContent(ctx context.Context, req *mcp.CallToolRequest, args PutContentArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Language) == "" {
		return invalidArgument("Language cannot be empty"), nil, nil
	}
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	data := []byte(args.Data)
	if args.Base64 {
		data, err = base64.StdEncoding.DecodeString(args.Data)
		if err != nil {
			return invalidArgument("Invalid base64 data: %s", err), nil, nil
		}
	}

	mimetype := args.Mimetype
	if mimetype == "" {
		mimetype = DetectMimetype(args.Filename, data)
	}

	ctx, _ = h.tc.actor(ctx)
	content := domain.ResourceContent{
		Language: args.Language,
		Mimetype: mimetype,
		Filename: args.Filename,
	}
	stored, err := h.tc.repo.PutContent(ctx, uri, content, bytes.NewReader(data))
	if err != nil {
		return errorResult("put content", err), nil, nil
	}
	header := fmt.Sprintf("Stored %d bytes of %s content for %s", len(data), args.Language, stored.URI)
	return yamlResult(header, newResourceView(stored)), nil, nil
}

// HandleDeleteContent removes one language variant.
func (h *WriteHandler) HandleDeleteContent(ctx context.Context, req *mcp.CallToolRequest, args ContentArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Language) == "" {
		return invalidArgument("Language cannot be empty"), nil, nil
	}
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	ctx, _ = h.tc.actor(ctx)
	stored, err := h.tc.repo.DeleteContent(ctx, uri, domain.ResourceContent{Language: args.Language})
	if err != nil {
		return errorResult("delete content", err), nil, nil
	}
	return yamlResult("Removed "+args.Language+" content from "+stored.URI.String(), newResourceView(stored)), nil, nil
}

// HandleDelete deletes a version, or all versions, of a resource.
func (h *WriteHandler) HandleDelete(ctx context.Context, req *mcp.CallToolRequest, args DeleteArgument) (*mcp.CallToolResult, any, error) {
	uri, err := h.tc.resourceURI(args.ID, args.Path, args.Version)
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	ctx, _ = h.tc.actor(ctx)
	deleted, err := h.tc.repo.Delete(ctx, uri, args.AllVersions)
	var integrity *contentrepo.ReferentialIntegrityError
	if errors.As(err, &integrity) {
		refs := make([]string, 0, len(integrity.Referrers))
		for _, r := range integrity.Referrers {
			refs = append(refs, r.String())
		}
		return invalidArgument("Cannot delete %s, it is referenced by:\n- %s", uri, strings.Join(refs, "\n- ")), nil, nil
	}
	if err != nil {
		return errorResult("delete resource", err), nil, nil
	}
	if !deleted {
		return textResult(fmt.Sprintf("Nothing to delete at %s", uri)), nil, nil
	}
	if args.AllVersions {
		return textResult(fmt.Sprintf("Deleted all versions of %s", uri)), nil, nil
	}
	return textResult(fmt.Sprintf("Deleted %s", uri)), nil, nil
}

// HandleMove moves a resource to another path.
func (h *WriteHandler) HandleMove(ctx context.Context, req *mcp.CallToolRequest, args MoveArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Target) == "" {
		return invalidArgument("Target cannot be empty"), nil, nil
	}
	uri, err := h.tc.resourceURI(args.ID, args.Path, "")
	if err != nil {
		return invalidArgument("Invalid resource: %s", err), nil, nil
	}

	ctx, _ = h.tc.actor(ctx)
	if uri.Path == "" {
		// Moves are addressed by path; look it up for identifier-only requests.
		res, err := h.tc.repo.Get(ctx, uri)
		if err != nil {
			return errorResult("move resource", err), nil, nil
		}
		uri = res.URI
	}

	if err := h.tc.repo.Move(ctx, uri, args.Target, args.MoveChildren); err != nil {
		return errorResult("move resource", err), nil, nil
	}
	msg := fmt.Sprintf("Moved %s to %s", uri.Path, domain.NormalizePath(args.Target))
	if args.MoveChildren {
		msg += " including its children"
	}
	return textResult(msg), nil, nil
}

// RegisterWriteTools registers the write tools with an MCP server.
func RegisterWriteTools(server *mcp.Server, tc *Tools) {
	handler := NewWriteHandler(tc)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "put_page",
		Description: "Create or replace a version of a page",
	}, handler.HandlePutPage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "put_content",
		Description: "Store the content of one language of a resource version",
	}, handler.HandlePutContent)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_content",
		Description: "Remove the content of one language from a resource version",
	}, handler.HandleDeleteContent)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_resource",
		Description: "Delete a version of a resource, or all of its versions; referenced resources cannot be deleted",
	}, handler.HandleDelete)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "move_resource",
		Description: "Move a resource, with all of its versions and optionally its children, to another path",
	}, handler.HandleMove)
}
