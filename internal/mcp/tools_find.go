package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
)

// FindArgument defines search parameters.
type FindArgument struct {
	Text             string            `json:"text,omitempty" jsonschema_description:"Free text matched against titles, subjects, pagelet text and filenames"`
	ID               string            `json:"id,omitempty" jsonschema_description:"Resource identifier"`
	Path             string            `json:"path,omitempty" jsonschema_description:"Exact resource path"`
	PathPrefix       string            `json:"path_prefix,omitempty" jsonschema_description:"Path of a subtree, e.g. /news matches /news and /news/today"`
	Types            []string          `json:"types,omitempty" jsonschema_description:"Resource types: page, file, image or movie"`
	Subjects         []string          `json:"subjects,omitempty" jsonschema_description:"Subjects, any of which must match"`
	AllSubjects      bool              `json:"all_subjects,omitempty" jsonschema_description:"Require all subjects instead of any"`
	Series           []string          `json:"series,omitempty" jsonschema_description:"Series, any of which must match"`
	Template         string            `json:"template,omitempty" jsonschema_description:"Page template"`
	Languages        []string          `json:"languages,omitempty" jsonschema_description:"Content languages, any of which must exist"`
	Properties       map[string]string `json:"properties,omitempty" jsonschema_description:"Pagelet property values"`
	Module           string            `json:"module,omitempty" jsonschema_description:"Pagelet module"`
	ReferencesID     string            `json:"references_id,omitempty" jsonschema_description:"Match resources linking to this identifier"`
	Filename         string            `json:"filename,omitempty" jsonschema_description:"Content filename"`
	Mimetype         string            `json:"mimetype,omitempty" jsonschema_description:"Content mimetype"`
	LockedBy         string            `json:"locked_by,omitempty" jsonschema_description:"Login of the lock owner"`
	Locked           *bool             `json:"locked,omitempty" jsonschema_description:"Only locked (true) or unlocked (false) resources"`
	Unpublished      bool              `json:"unpublished,omitempty" jsonschema_description:"Only versions that were never published"`
	ModifiedAfter    string            `json:"modified_after,omitempty" jsonschema_description:"RFC 3339 lower bound of the modification date"`
	ModifiedBefore   string            `json:"modified_before,omitempty" jsonschema_description:"RFC 3339 upper bound of the modification date"`
	Version          string            `json:"version,omitempty" jsonschema_description:"Only this version: live, work or a number"`
	PreferredVersion string            `json:"preferred_version,omitempty" jsonschema_description:"One hit per resource, preferring this version"`
	SortBy           string            `json:"sort_by,omitempty" jsonschema_description:"created, modified or published; relevance when empty"`
	Descending       bool              `json:"descending,omitempty" jsonschema_description:"Sort newest first"`
	Offset           int               `json:"offset,omitempty" jsonschema_description:"Number of hits to skip"`
	Limit            int               `json:"limit,omitempty" jsonschema_description:"Maximum number of hits"`
}

// FindHandler handles the find MCP tool.
type FindHandler struct {
	tc *Tools
}

// NewFindHandler creates a new find handler.
func NewFindHandler(tc *Tools) *FindHandler {
	return &FindHandler{tc: tc}
}

// Handle runs the query and returns the hits as YAML.
func (h *FindHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args FindArgument) (*mcp.CallToolResult, any, error) {
	q, err := h.buildQuery(args)
	if err != nil {
		return invalidArgument("Invalid query: %s", err), nil, nil
	}

	result, err := h.tc.repo.Find(ctx, q)
	if err != nil {
		return errorResult("search", err), nil, nil
	}
	if result.DocumentCount == 0 {
		return textResult("No resources found"), nil, nil
	}

	header := fmt.Sprintf("Found %d resources", result.DocumentCount)
	return yamlResult(header, newFindView(result)), nil, nil
}

// buildQuery translates tool arguments into a repository query. The limit never
// exceeds the configured maximum.
func (h *FindHandler) buildQuery(args FindArgument) (*index.SearchQuery, error) {
	q := index.NewQuery()

	if args.Text != "" {
		q.WithText(args.Text)
	}
	if args.ID != "" {
		q.WithIdentifier(strings.TrimSpace(args.ID))
	}
	if args.Path != "" {
		q.WithPath(args.Path)
	}
	if args.PathPrefix != "" {
		q.WithPathPrefix(args.PathPrefix)
	}
	if len(args.Types) > 0 {
		q.WithTypes(args.Types...)
	}
	if len(args.Subjects) > 0 {
		if args.AllSubjects {
			q.WithAllSubjects(args.Subjects...)
		} else {
			q.WithSubjects(args.Subjects...)
		}
	}
	if len(args.Series) > 0 {
		q.WithSeries(args.Series...)
	}
	if args.Template != "" {
		q.WithTemplate(args.Template)
	}
	if len(args.Languages) > 0 {
		q.WithLanguages(args.Languages...)
	}
	for name, value := range args.Properties {
		q.WithProperty(name, value)
	}
	if args.Module != "" {
		q.WithModule(args.Module)
	}
	if args.ReferencesID != "" {
		q.WithReference(args.ReferencesID)
	}
	if args.Filename != "" {
		q.WithFilename(args.Filename)
	}
	if args.Mimetype != "" {
		q.WithMimetype(args.Mimetype)
	}
	if args.LockedBy != "" {
		q.WithLockOwner(args.LockedBy)
	}
	if args.Locked != nil {
		q.WithLocked(*args.Locked)
	}
	if args.Unpublished {
		q.WithoutPublication()
	}

	if args.ModifiedAfter != "" || args.ModifiedBefore != "" {
		from, err := parseTime(args.ModifiedAfter)
		if err != nil {
			return nil, fmt.Errorf("modified_after: %w", err)
		}
		to, err := parseTime(args.ModifiedBefore)
		if err != nil {
			return nil, fmt.Errorf("modified_before: %w", err)
		}
		q.WithModificationDateBetween(from, to)
	}

	if args.Version != "" {
		v, err := domain.ParseVersion(args.Version)
		if err != nil {
			return nil, err
		}
		q.WithVersion(v)
	}
	if args.PreferredVersion != "" {
		v, err := domain.ParseVersion(args.PreferredVersion)
		if err != nil {
			return nil, err
		}
		q.WithPreferredVersion(v)
	}

	order := index.Ascending
	if args.Descending {
		order = index.Descending
	}
	switch strings.ToLower(args.SortBy) {
	case "":
	case "created":
		q.SortBy(index.SortByCreation, order)
	case "modified":
		q.SortBy(index.SortByModified, order)
	case "published":
		q.SortBy(index.SortByPublication, order)
	default:
		return nil, fmt.Errorf("unknown sort field %q", args.SortBy)
	}

	if args.Offset < 0 {
		return nil, fmt.Errorf("offset cannot be negative")
	}
	limit := args.Limit
	if limit <= 0 || limit > h.tc.maxResults {
		limit = h.tc.maxResults
	}
	return q.WithOffset(args.Offset).WithLimit(limit), nil
}

// parseTime parses an RFC 3339 timestamp. The empty string is the zero time, which
// leaves the bound open.
func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}

// GetToolDefinition returns the MCP tool definition.
func (h *FindHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "find_resources",
		Description: "Search the content repository for pages and files by text, path, metadata, lock state or version",
	}
}

// RegisterFindTool registers the find tool with an MCP server.
func RegisterFindTool(server *mcp.Server, tc *Tools) {
	handler := NewFindHandler(tc)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
