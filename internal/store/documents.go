package store

import (
	"time"

	"github.com/sha1n/mcp-content-repository/internal/domain"
)

// headerDoc is the YAML form of a resource's metadata. It is small and read for
// every resource when a filesystem store opens.
type headerDoc struct {
	ID        string       `yaml:"id"`
	Site      string       `yaml:"site,omitempty"`
	Path      string       `yaml:"path,omitempty"`
	Type      string       `yaml:"type,omitempty"`
	Version   int64        `yaml:"version"`
	Template  string       `yaml:"template,omitempty"`
	Title     string       `yaml:"title,omitempty"`
	Subjects  []string     `yaml:"subjects,omitempty"`
	Series    []string     `yaml:"series,omitempty"`
	LockOwner *userDoc     `yaml:"lock_owner,omitempty"`
	Created   *stampDoc    `yaml:"created,omitempty"`
	Modified  *stampDoc    `yaml:"modified,omitempty"`
	Published *stampDoc    `yaml:"published,omitempty"`
	Contents  []contentDoc `yaml:"contents,omitempty"`
}

// bodyDoc is the YAML form of a resource's page structure.
type bodyDoc struct {
	Pagelets []pageletDoc `yaml:"pagelets,omitempty"`
}

type userDoc struct {
	Login string `yaml:"login"`
	Realm string `yaml:"realm,omitempty"`
	Name  string `yaml:"name,omitempty"`
}

type stampDoc struct {
	User *userDoc  `yaml:"user,omitempty"`
	Date time.Time `yaml:"date"`
}

type contentDoc struct {
	Language string    `yaml:"language"`
	Mimetype string    `yaml:"mimetype,omitempty"`
	Filename string    `yaml:"filename,omitempty"`
	Size     int64     `yaml:"size"`
	Created  *stampDoc `yaml:"created,omitempty"`
}

type pageletDoc struct {
	Composer   string            `yaml:"composer"`
	Module     string            `yaml:"module"`
	ID         string            `yaml:"id,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`
	Elements   map[string]string `yaml:"elements,omitempty"`
}

func (h *headerDoc) uri() domain.ResourceURI {
	return domain.ResourceURI{
		Site:    h.Site,
		Type:    h.Type,
		Path:    h.Path,
		ID:      h.ID,
		Version: domain.Version(h.Version),
	}
}

// references extracts pagelet references without building a full resource.
func (b *bodyDoc) references(self string) []string {
	r := &domain.Resource{URI: domain.ResourceURI{ID: self}}
	for _, p := range b.Pagelets {
		r.Pagelets = append(r.Pagelets, domain.Pagelet{Properties: p.Properties})
	}
	return r.References()
}

func splitResource(r *domain.Resource) (*headerDoc, *bodyDoc) {
	h := &headerDoc{
		ID:        r.URI.ID,
		Site:      r.URI.Site,
		Path:      r.URI.Path,
		Type:      r.URI.Type,
		Version:   int64(r.URI.Version),
		Template:  r.Template,
		Title:     r.Title,
		Subjects:  r.Subjects,
		Series:    r.Series,
		LockOwner: toUserDoc(r.LockOwner),
		Created:   toStampDoc(r.Created),
		Modified:  toStampDoc(r.Modified),
		Published: toStampDoc(r.Published),
	}
	for _, lang := range r.Languages() {
		c := r.Contents[lang]
		h.Contents = append(h.Contents, contentDoc{
			Language: c.Language,
			Mimetype: c.Mimetype,
			Filename: c.Filename,
			Size:     c.Size,
			Created:  toStampDoc(c.Created),
		})
	}

	b := &bodyDoc{}
	for _, p := range r.Pagelets {
		b.Pagelets = append(b.Pagelets, pageletDoc(p))
	}
	return h, b
}

func joinResource(h *headerDoc, b *bodyDoc) *domain.Resource {
	r := domain.NewResource(h.uri())
	r.Template = h.Template
	r.Title = h.Title
	r.Subjects = h.Subjects
	r.Series = h.Series
	r.LockOwner = fromUserDoc(h.LockOwner)
	r.Created = fromStampDoc(h.Created)
	r.Modified = fromStampDoc(h.Modified)
	r.Published = fromStampDoc(h.Published)
	for _, c := range h.Contents {
		r.AddContent(domain.ResourceContent{
			Language: c.Language,
			Mimetype: c.Mimetype,
			Filename: c.Filename,
			Size:     c.Size,
			Created:  fromStampDoc(c.Created),
		})
	}
	if b != nil {
		for _, p := range b.Pagelets {
			r.Pagelets = append(r.Pagelets, domain.Pagelet(p))
		}
	}
	return r
}

func toUserDoc(u *domain.User) *userDoc {
	if u == nil {
		return nil
	}
	return &userDoc{Login: u.Login, Realm: u.Realm, Name: u.Name}
}

func fromUserDoc(u *userDoc) *domain.User {
	if u == nil {
		return nil
	}
	return &domain.User{Login: u.Login, Realm: u.Realm, Name: u.Name}
}

func toStampDoc(s domain.Stamp) *stampDoc {
	if s.IsZero() {
		return nil
	}
	return &stampDoc{User: toUserDoc(s.User), Date: s.Date}
}

func fromStampDoc(s *stampDoc) domain.Stamp {
	if s == nil {
		return domain.Stamp{}
	}
	return domain.Stamp{User: fromUserDoc(s.User), Date: s.Date}
}
