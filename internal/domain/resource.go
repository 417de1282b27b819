package domain

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// ReferenceProperty is the pagelet property that links a pagelet to another resource
// by identifier. Resources linked that way cannot be deleted.
const ReferenceProperty = "resourceid"

// User is a principal that creates, modifies or locks resources.
type User struct {
	Login string
	Realm string
	Name  string
}

// NewUser creates a user with the given login.
func NewUser(login string) User {
	return User{Login: login}
}

// Equal compares users by login and realm.
func (u User) Equal(o User) bool {
	return u.Login == o.Login && u.Realm == o.Realm
}

func (u User) String() string {
	if u.Realm == "" {
		return u.Login
	}
	return u.Login + "@" + u.Realm
}

// Stamp records who did something and when.
type Stamp struct {
	User *User
	Date time.Time
}

// IsZero reports whether nothing was recorded.
func (s Stamp) IsZero() bool {
	return s.User == nil && s.Date.IsZero()
}

// Pagelet is a content placement unit within a page composer.
type Pagelet struct {
	Composer   string
	Module     string
	ID         string
	Properties map[string]string
	Elements   map[string]string
}

// ResourceContent is one language variant of a resource's binary content.
type ResourceContent struct {
	Language string
	Mimetype string
	Filename string
	Size     int64
	Created  Stamp
}

// Resource is a versioned content entity: a page, file, image or movie.
// The URI carries the identity, the version and the type tag.
type Resource struct {
	URI       ResourceURI
	Template  string
	Title     string
	Subjects  []string
	Series    []string
	Pagelets  []Pagelet
	Contents  map[string]ResourceContent
	LockOwner *User
	Created   Stamp
	Modified  Stamp
	Published Stamp
}

// NewResource creates an empty resource at uri.
func NewResource(uri ResourceURI) *Resource {
	uri.Path = NormalizePath(uri.Path)
	return &Resource{
		URI:      uri,
		Contents: make(map[string]ResourceContent),
	}
}

// NewPage creates an empty page rendered by template.
func NewPage(uri ResourceURI, template string) *Resource {
	uri.Type = TypePage
	r := NewResource(uri)
	r.Template = template
	return r
}

func (r *Resource) Type() string      { return r.URI.Type }
func (r *Resource) Path() string      { return r.URI.Path }
func (r *Resource) ID() string        { return r.URI.ID }
func (r *Resource) Version() Version  { return r.URI.Version }
func (r *Resource) IsLocked() bool    { return r.LockOwner != nil }
func (r *Resource) ContentCount() int { return len(r.Contents) }

// Lock sets the lock owner.
func (r *Resource) Lock(user User) {
	u := user
	r.LockOwner = &u
}

// Unlock clears the lock owner.
func (r *Resource) Unlock() {
	r.LockOwner = nil
}

// SetModified records a modification.
func (r *Resource) SetModified(user User, at time.Time) {
	u := user
	r.Modified = Stamp{User: &u, Date: at}
}

// Content returns the variant for a language.
func (r *Resource) Content(language string) (ResourceContent, bool) {
	c, ok := r.Contents[language]
	return c, ok
}

// AddContent adds or replaces the variant for the content's language.
func (r *Resource) AddContent(c ResourceContent) {
	if r.Contents == nil {
		r.Contents = make(map[string]ResourceContent)
	}
	r.Contents[c.Language] = c
}

// RemoveContent removes the variant for a language and reports whether it existed.
func (r *Resource) RemoveContent(language string) bool {
	if _, ok := r.Contents[language]; !ok {
		return false
	}
	delete(r.Contents, language)
	return true
}

// Languages returns the content languages in sorted order.
func (r *Resource) Languages() []string {
	return slices.Sorted(maps.Keys(r.Contents))
}

// AddPagelet appends a pagelet to a composer.
func (r *Resource) AddPagelet(composer string, p Pagelet) {
	p.Composer = composer
	r.Pagelets = append(r.Pagelets, p)
}

// References returns the identifiers of other resources linked from pagelets,
// sorted and without duplicates.
func (r *Resource) References() []string {
	seen := make(map[string]bool)
	for _, p := range r.Pagelets {
		id := p.Properties[ReferenceProperty]
		if id == "" || id == r.URI.ID {
			continue
		}
		seen[id] = true
	}
	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs
}

// Clone returns a deep copy.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.Subjects = slices.Clone(r.Subjects)
	c.Series = slices.Clone(r.Series)
	c.Contents = maps.Clone(r.Contents)
	if c.Contents == nil {
		c.Contents = make(map[string]ResourceContent)
	}
	if r.Pagelets != nil {
		c.Pagelets = make([]Pagelet, len(r.Pagelets))
		for i, p := range r.Pagelets {
			p.Properties = maps.Clone(p.Properties)
			p.Elements = maps.Clone(p.Elements)
			c.Pagelets[i] = p
		}
	}
	c.LockOwner = cloneUser(r.LockOwner)
	c.Created.User = cloneUser(r.Created.User)
	c.Modified.User = cloneUser(r.Modified.User)
	c.Published.User = cloneUser(r.Published.User)
	for lang, content := range c.Contents {
		content.Created.User = cloneUser(content.Created.User)
		c.Contents[lang] = content
	}
	return &c
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
