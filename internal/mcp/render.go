package mcp

import (
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-content-repository/internal/contentrepo"
	"github.com/sha1n/mcp-content-repository/internal/domain"
	"github.com/sha1n/mcp-content-repository/internal/index"
	"gopkg.in/yaml.v3"
)

type stampView struct {
	User string    `yaml:"user,omitempty"`
	Date time.Time `yaml:"date,omitempty"`
}

type pageletView struct {
	Composer   string            `yaml:"composer"`
	Module     string            `yaml:"module,omitempty"`
	ID         string            `yaml:"id,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`
	Elements   map[string]string `yaml:"elements,omitempty"`
}

type contentView struct {
	Language string `yaml:"language"`
	Mimetype string `yaml:"mimetype,omitempty"`
	Filename string `yaml:"filename,omitempty"`
	Size     int64  `yaml:"size"`
}

type resourceView struct {
	URI        string        `yaml:"uri"`
	ID         string        `yaml:"id"`
	Path       string        `yaml:"path,omitempty"`
	Version    string        `yaml:"version"`
	Type       string        `yaml:"type,omitempty"`
	Template   string        `yaml:"template,omitempty"`
	Title      string        `yaml:"title,omitempty"`
	Subjects   []string      `yaml:"subjects,omitempty"`
	Series     []string      `yaml:"series,omitempty"`
	LockOwner  string        `yaml:"lock_owner,omitempty"`
	Created    *stampView    `yaml:"created,omitempty"`
	Modified   *stampView    `yaml:"modified,omitempty"`
	Published  *stampView    `yaml:"published,omitempty"`
	References []string      `yaml:"references,omitempty"`
	Pagelets   []pageletView `yaml:"pagelets,omitempty"`
	Contents   []contentView `yaml:"contents,omitempty"`
}

type hitView struct {
	URI       string    `yaml:"uri"`
	Title     string    `yaml:"title,omitempty"`
	Template  string    `yaml:"template,omitempty"`
	Score     float64   `yaml:"score,omitempty"`
	LockOwner string    `yaml:"lock_owner,omitempty"`
	Modified  time.Time `yaml:"modified,omitempty"`
}

type findView struct {
	Matches int       `yaml:"matches"`
	Offset  int       `yaml:"offset"`
	Items   []hitView `yaml:"items"`
	More    int       `yaml:"more,omitempty"`
}

func newStampView(s domain.Stamp) *stampView {
	if s.IsZero() {
		return nil
	}
	v := &stampView{Date: s.Date}
	if s.User != nil {
		v.User = s.User.String()
	}
	return v
}

func newResourceView(r *domain.Resource) resourceView {
	v := resourceView{
		URI:        r.URI.String(),
		ID:         r.ID(),
		Path:       r.Path(),
		Version:    r.Version().String(),
		Type:       r.Type(),
		Template:   r.Template,
		Title:      r.Title,
		Subjects:   r.Subjects,
		Series:     r.Series,
		Created:    newStampView(r.Created),
		Modified:   newStampView(r.Modified),
		Published:  newStampView(r.Published),
		References: r.References(),
	}
	if r.LockOwner != nil {
		v.LockOwner = r.LockOwner.String()
	}
	for _, p := range r.Pagelets {
		v.Pagelets = append(v.Pagelets, pageletView{
			Composer:   p.Composer,
			Module:     p.Module,
			ID:         p.ID,
			Properties: p.Properties,
			Elements:   p.Elements,
		})
	}
	for _, lang := range r.Languages() {
		c := r.Contents[lang]
		v.Contents = append(v.Contents, contentView{
			Language: c.Language,
			Mimetype: c.Mimetype,
			Filename: c.Filename,
			Size:     c.Size,
		})
	}
	return v
}

func newFindView(res *index.SearchResult) findView {
	v := findView{Matches: res.DocumentCount, Offset: res.Offset, Items: make([]hitView, 0, len(res.Items))}
	for _, item := range res.Items {
		v.Items = append(v.Items, hitView{
			URI:       item.URI.String(),
			Title:     item.Title,
			Template:  item.Template,
			Score:     item.Score,
			LockOwner: item.LockOwner,
			Modified:  item.Modified,
		})
	}
	if rest := res.DocumentCount - res.Offset - len(res.Items); rest > 0 {
		v.More = rest
	}
	return v
}

// yamlResult renders v as the text content of a successful tool call.
func yamlResult(header string, v any) *mcp.CallToolResult {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errorResult("render result", err)
	}
	text := string(data)
	if header != "" {
		text = header + "\n\n" + text
	}
	return textResult(text)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func invalidArgument(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// errorResult reports a failed repository call. An index failure after a committed
// write is reported as an error too, but says that the change itself was stored.
func errorResult(action string, err error) *mcp.CallToolResult {
	text := fmt.Sprintf("Failed to %s: %s", action, err)
	var syncErr *contentrepo.IndexSyncError
	if errors.As(err, &syncErr) {
		text = fmt.Sprintf("Stored the change but failed to update the search index (%s): %s. Run the reindex tool to repair it.", action, syncErr.Err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

func versionList(uris []domain.ResourceURI) []string {
	out := make([]string, 0, len(uris))
	for _, u := range uris {
		out = append(out, u.Version.String())
	}
	return out
}
