// Package index maintains the bleve search index that mirrors the resource store.
// The index is a derived projection: every document can be rebuilt from the store.
package index

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// SchemaVersion changes whenever the mapping or the document layout changes.
// Indexes written with another schema are rebuilt.
const SchemaVersion = 2

// Document field names.
const (
	FieldID         = "id"
	FieldSite       = "site"
	FieldPath       = "path"
	FieldPathPrefix = "path_prefix"
	FieldVersion    = "version"
	FieldType       = "type"
	FieldTemplate   = "template"
	FieldTitle      = "title"
	FieldSubjects   = "subjects"
	FieldSeries     = "series"
	FieldLockOwner  = "lock_owner"
	FieldLocked     = "locked"
	FieldProperties = "properties"
	FieldModules    = "modules"
	FieldLanguages  = "languages"
	FieldFilenames  = "filenames"
	FieldMimetypes  = "mimetypes"
	FieldCreated    = "created"
	FieldModified   = "modified"
	FieldPublished  = "published"
	FieldIsPublic   = "is_published"
	FieldFulltext   = "fulltext"
)

var keywordFields = []string{
	FieldID, FieldSite, FieldPath, FieldPathPrefix, FieldVersion, FieldType, FieldTemplate,
	FieldSubjects, FieldSeries, FieldLockOwner, FieldProperties, FieldModules,
	FieldLanguages, FieldFilenames, FieldMimetypes,
}

// storedFields are returned with every hit.
var storedFields = []string{
	FieldID, FieldSite, FieldPath, FieldVersion, FieldType, FieldTemplate, FieldTitle,
	FieldLockOwner, FieldCreated, FieldModified, FieldPublished,
}

// CreateIndexMapping creates the bleve mapping for resource documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	for _, name := range keywordFields {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	for _, name := range []string{FieldCreated, FieldModified, FieldPublished} {
		f := bleve.NewNumericFieldMapping()
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	for _, name := range []string{FieldLocked, FieldIsPublic} {
		f := bleve.NewBooleanFieldMapping()
		f.Store = false
		docMapping.AddFieldMappingsAt(name, f)
	}

	// Title is both analyzed and stored for display
	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	titleField.Store = true
	docMapping.AddFieldMappingsAt(FieldTitle, titleField)

	fulltextField := bleve.NewTextFieldMapping()
	fulltextField.Analyzer = standard.Name
	fulltextField.Store = false
	fulltextField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(FieldFulltext, fulltextField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}
