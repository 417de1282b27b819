package index

import (
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// SortField selects the date a result list is ordered by.
type SortField string

const (
	SortByRelevance   SortField = ""
	SortByCreation    SortField = "created"
	SortByModified    SortField = "modified"
	SortByPublication SortField = "published"
)

// Order is a sort direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

type dateRange struct {
	from, to time.Time
}

// SearchQuery describes which resource versions to find. The zero value matches
// every version; builder methods narrow it down and return the query for chaining.
type SearchQuery struct {
	site        string
	id          string
	path        string
	pathPrefix  string
	subjects    []string
	allSubjects bool
	series      []string
	template    string
	types       []string
	languages   []string
	properties  map[string]string
	modules     []string
	text        string
	filename    string
	mimetype    string
	lockOwner   string
	locked      *bool
	unpublished bool
	dates       map[string]dateRange
	version     *domain.Version
	preferred   *domain.Version
	sortField   SortField
	order       Order
	offset      int
	limit       int
}

// NewQuery creates a query that matches every version.
func NewQuery() *SearchQuery {
	return &SearchQuery{}
}

func (q *SearchQuery) WithSite(site string) *SearchQuery {
	q.site = site
	return q
}

func (q *SearchQuery) WithIdentifier(id string) *SearchQuery {
	q.id = id
	return q
}

func (q *SearchQuery) WithPath(p string) *SearchQuery {
	q.path = domain.NormalizePath(p)
	return q
}

// WithPathPrefix matches the path itself and everything below it.
func (q *SearchQuery) WithPathPrefix(p string) *SearchQuery {
	q.pathPrefix = domain.NormalizePath(p)
	return q
}

// WithSubjects matches resources tagged with any of the subjects.
func (q *SearchQuery) WithSubjects(subjects ...string) *SearchQuery {
	q.subjects = append(q.subjects, subjects...)
	return q
}

// WithAllSubjects matches resources tagged with every subject.
func (q *SearchQuery) WithAllSubjects(subjects ...string) *SearchQuery {
	q.subjects = append(q.subjects, subjects...)
	q.allSubjects = true
	return q
}

func (q *SearchQuery) WithSeries(series ...string) *SearchQuery {
	q.series = append(q.series, series...)
	return q
}

func (q *SearchQuery) WithTemplate(template string) *SearchQuery {
	q.template = template
	return q
}

func (q *SearchQuery) WithTypes(types ...string) *SearchQuery {
	q.types = append(q.types, types...)
	return q
}

func (q *SearchQuery) WithLanguages(languages ...string) *SearchQuery {
	q.languages = append(q.languages, languages...)
	return q
}

// WithProperty matches resources with a pagelet carrying the property value.
func (q *SearchQuery) WithProperty(name, value string) *SearchQuery {
	if q.properties == nil {
		q.properties = make(map[string]string)
	}
	q.properties[name] = value
	return q
}

// WithReference matches resources that link to the identifier.
func (q *SearchQuery) WithReference(id string) *SearchQuery {
	return q.WithProperty(domain.ReferenceProperty, id)
}

func (q *SearchQuery) WithModule(module string) *SearchQuery {
	q.modules = append(q.modules, module)
	return q
}

// WithText matches the analyzed title, subjects, pagelet elements and filenames.
func (q *SearchQuery) WithText(text string) *SearchQuery {
	q.text = strings.TrimSpace(text)
	return q
}

func (q *SearchQuery) WithFilename(filename string) *SearchQuery {
	q.filename = filename
	return q
}

func (q *SearchQuery) WithMimetype(mimetype string) *SearchQuery {
	q.mimetype = mimetype
	return q
}

func (q *SearchQuery) WithLockOwner(login string) *SearchQuery {
	q.lockOwner = login
	return q
}

func (q *SearchQuery) WithLocked(locked bool) *SearchQuery {
	q.locked = &locked
	return q
}

// WithoutPublication matches versions that were never published.
func (q *SearchQuery) WithoutPublication() *SearchQuery {
	q.unpublished = true
	return q
}

// WithCreationDateBetween restricts the creation date. A zero bound is open.
func (q *SearchQuery) WithCreationDateBetween(from, to time.Time) *SearchQuery {
	q.setDates(FieldCreated, from, to)
	return q
}

func (q *SearchQuery) WithModificationDateBetween(from, to time.Time) *SearchQuery {
	q.setDates(FieldModified, from, to)
	return q
}

func (q *SearchQuery) WithPublishingDateBetween(from, to time.Time) *SearchQuery {
	q.setDates(FieldPublished, from, to)
	return q
}

func (q *SearchQuery) setDates(field string, from, to time.Time) {
	if q.dates == nil {
		q.dates = make(map[string]dateRange)
	}
	q.dates[field] = dateRange{from: from, to: to}
}

// WithVersion matches only the given version.
func (q *SearchQuery) WithVersion(v domain.Version) *SearchQuery {
	q.version = &v
	return q
}

// WithPreferredVersion returns one version per resource: the preferred one if it
// exists, otherwise the lowest other version that matches.
func (q *SearchQuery) WithPreferredVersion(v domain.Version) *SearchQuery {
	q.preferred = &v
	return q
}

func (q *SearchQuery) SortBy(field SortField, order Order) *SearchQuery {
	q.sortField = field
	q.order = order
	return q
}

func (q *SearchQuery) SortByCreationDate(order Order) *SearchQuery {
	return q.SortBy(SortByCreation, order)
}

func (q *SearchQuery) WithOffset(offset int) *SearchQuery {
	q.offset = max(offset, 0)
	return q
}

// WithLimit caps the number of items. Zero or less means no limit.
func (q *SearchQuery) WithLimit(limit int) *SearchQuery {
	q.limit = max(limit, 0)
	return q
}

// Offset returns the number of skipped items.
func (q *SearchQuery) Offset() int { return q.offset }

// Limit returns the maximum number of items, zero if unlimited.
func (q *SearchQuery) Limit() int { return q.limit }

// build translates the query into a bleve query. Version preference, ordering and
// paging are applied to the hits afterwards.
func (q *SearchQuery) build() query.Query {
	b := bleve.NewBooleanQuery()
	must := 0
	addMust := func(qq query.Query) {
		b.AddMust(qq)
		must++
	}

	if q.site != "" {
		addMust(term(FieldSite, q.site))
	}
	if q.id != "" {
		addMust(term(FieldID, q.id))
	}
	if q.path != "" {
		addMust(term(FieldPath, q.path))
	}
	if q.pathPrefix != "" {
		addMust(term(FieldPathPrefix, q.pathPrefix))
	}
	if len(q.subjects) > 0 {
		if q.allSubjects {
			for _, s := range q.subjects {
				addMust(term(FieldSubjects, s))
			}
		} else {
			addMust(anyTerm(FieldSubjects, q.subjects))
		}
	}
	if len(q.series) > 0 {
		addMust(anyTerm(FieldSeries, q.series))
	}
	if q.template != "" {
		addMust(term(FieldTemplate, q.template))
	}
	if len(q.types) > 0 {
		addMust(anyTerm(FieldType, q.types))
	}
	if len(q.languages) > 0 {
		addMust(anyTerm(FieldLanguages, q.languages))
	}
	for _, k := range sortedKeys(q.properties) {
		addMust(term(FieldProperties, k+"="+q.properties[k]))
	}
	for _, m := range q.modules {
		addMust(term(FieldModules, m))
	}
	if q.text != "" {
		mq := bleve.NewMatchQuery(q.text)
		mq.SetField(FieldFulltext)
		tq := bleve.NewMatchQuery(q.text)
		tq.SetField(FieldTitle)
		tq.SetBoost(2.0)
		addMust(bleve.NewDisjunctionQuery(mq, tq))
	}
	if q.filename != "" {
		addMust(term(FieldFilenames, q.filename))
	}
	if q.mimetype != "" {
		addMust(term(FieldMimetypes, q.mimetype))
	}
	if q.lockOwner != "" {
		addMust(term(FieldLockOwner, q.lockOwner))
	}
	if q.locked != nil {
		bq := bleve.NewBoolFieldQuery(*q.locked)
		bq.SetField(FieldLocked)
		addMust(bq)
	}
	if q.unpublished {
		bq := bleve.NewBoolFieldQuery(false)
		bq.SetField(FieldIsPublic)
		addMust(bq)
	}
	for _, field := range sortedDateFields(q.dates) {
		addMust(numericRange(field, q.dates[field]))
	}
	if q.version != nil {
		addMust(term(FieldVersion, strconv.FormatInt(int64(*q.version), 10)))
	}

	if must == 0 {
		return bleve.NewMatchAllQuery()
	}
	return b
}

func term(field, value string) query.Query {
	t := bleve.NewTermQuery(value)
	t.SetField(field)
	return t
}

func anyTerm(field string, values []string) query.Query {
	if len(values) == 1 {
		return term(field, values[0])
	}
	qs := make([]query.Query, 0, len(values))
	for _, v := range values {
		qs = append(qs, term(field, v))
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func numericRange(field string, dr dateRange) query.Query {
	var minV, maxV *float64
	inclusive := true
	if !dr.from.IsZero() {
		v := toMillis(dr.from)
		minV = &v
	}
	if !dr.to.IsZero() {
		v := toMillis(dr.to)
		maxV = &v
	}
	if minV == nil && maxV == nil {
		// Open on both ends still requires the date to be set.
		v := float64(-1 << 53)
		minV = &v
	}
	nq := bleve.NewNumericRangeInclusiveQuery(minV, maxV, &inclusive, &inclusive)
	nq.SetField(field)
	return nq
}

func sortedDateFields(dates map[string]dateRange) []string {
	fields := make([]string, 0, len(dates))
	for _, f := range []string{FieldCreated, FieldModified, FieldPublished} {
		if _, ok := dates[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}
