package index

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/blevesearch/bleve/v2/search"
	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// DocumentID returns the index document identifier for one resource version.
func DocumentID(uri domain.ResourceURI) string {
	return uri.ID + "#" + strconv.FormatInt(int64(uri.Version), 10)
}

// toDocument flattens a resource version into indexable fields.
func toDocument(r *domain.Resource) map[string]any {
	doc := map[string]any{
		FieldID:       r.URI.ID,
		FieldSite:     r.URI.Site,
		FieldVersion:  strconv.FormatInt(int64(r.URI.Version), 10),
		FieldType:     r.URI.Type,
		FieldLocked:   r.IsLocked(),
		FieldIsPublic: !r.Published.IsZero(),
	}
	if r.URI.Path != "" {
		doc[FieldPath] = r.URI.Path
		doc[FieldPathPrefix] = domain.Ancestors(r.URI.Path)
	}
	if r.Template != "" {
		doc[FieldTemplate] = r.Template
	}
	if r.Title != "" {
		doc[FieldTitle] = r.Title
	}
	if len(r.Subjects) > 0 {
		doc[FieldSubjects] = slices.Clone(r.Subjects)
	}
	if len(r.Series) > 0 {
		doc[FieldSeries] = slices.Clone(r.Series)
	}
	if r.LockOwner != nil {
		doc[FieldLockOwner] = r.LockOwner.Login
	}
	setDate(doc, FieldCreated, r.Created)
	setDate(doc, FieldModified, r.Modified)
	setDate(doc, FieldPublished, r.Published)

	var properties, modules, text []string
	if r.Title != "" {
		text = append(text, r.Title)
	}
	text = append(text, r.Subjects...)
	for _, p := range r.Pagelets {
		if p.Module != "" && !slices.Contains(modules, p.Module) {
			modules = append(modules, p.Module)
		}
		for _, k := range sortedKeys(p.Properties) {
			properties = append(properties, k+"="+p.Properties[k])
		}
		for _, k := range sortedKeys(p.Elements) {
			text = append(text, p.Elements[k])
		}
	}
	if len(properties) > 0 {
		doc[FieldProperties] = properties
	}
	if len(modules) > 0 {
		doc[FieldModules] = modules
	}

	var filenames, mimetypes []string
	for _, lang := range r.Languages() {
		c := r.Contents[lang]
		if c.Filename != "" {
			filenames = append(filenames, c.Filename)
			text = append(text, c.Filename, filenameTerms(c.Filename))
		}
		if c.Mimetype != "" && !slices.Contains(mimetypes, c.Mimetype) {
			mimetypes = append(mimetypes, c.Mimetype)
		}
	}
	if langs := r.Languages(); len(langs) > 0 {
		doc[FieldLanguages] = langs
	}
	if len(filenames) > 0 {
		doc[FieldFilenames] = filenames
	}
	if len(mimetypes) > 0 {
		doc[FieldMimetypes] = mimetypes
	}
	if len(text) > 0 {
		doc[FieldFulltext] = strings.Join(text, "\n")
	}
	return doc
}

func setDate(doc map[string]any, field string, s domain.Stamp) {
	if s.Date.IsZero() {
		return
	}
	doc[field] = toMillis(s.Date)
}

func toMillis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func fromMillis(v any) time.Time {
	f, ok := v.(float64)
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(int64(f)).UTC()
}

// filenameTerms splits a filename on everything but letters and digits, so
// "harbour-view.png" is also found by "harbour", "view" and "png".
func filenameTerms(name string) string {
	return strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// itemFromHit rebuilds a result item from a hit's stored fields.
func itemFromHit(hit *search.DocumentMatch) (SearchResultItem, error) {
	item := SearchResultItem{Score: hit.Score}
	v, err := strconv.ParseInt(stringField(hit, FieldVersion), 10, 64)
	if err != nil {
		return item, fmt.Errorf("document %s has no valid version: %w", hit.ID, err)
	}
	item.URI = domain.ResourceURI{
		Site:    stringField(hit, FieldSite),
		Type:    stringField(hit, FieldType),
		Path:    stringField(hit, FieldPath),
		ID:      stringField(hit, FieldID),
		Version: domain.Version(v),
	}
	item.Title = stringField(hit, FieldTitle)
	item.Template = stringField(hit, FieldTemplate)
	item.LockOwner = stringField(hit, FieldLockOwner)
	item.Created = fromMillis(hit.Fields[FieldCreated])
	item.Modified = fromMillis(hit.Fields[FieldModified])
	item.Published = fromMillis(hit.Fields[FieldPublished])
	return item, nil
}

func stringField(hit *search.DocumentMatch, field string) string {
	switch v := hit.Fields[field].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
