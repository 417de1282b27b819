package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version identifies one stored revision of a resource.
type Version int64

const (
	// Live is the published version of a resource.
	Live Version = 0

	// Work is the draft version of a resource.
	Work Version = 1
)

// ErrInvalidVersion indicates a version string that could not be parsed.
var ErrInvalidVersion = errors.New("invalid version")

// String returns "live", "work" or the numeric revision.
func (v Version) String() string {
	switch v {
	case Live:
		return "live"
	case Work:
		return "work"
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}

// ParseVersion parses "live", "work" or a numeric revision. The empty string is Live.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "live":
		return Live, nil
	case "work":
		return Work, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return Version(n), nil
}

// Resource type tags.
const (
	TypePage  = "page"
	TypeFile  = "file"
	TypeImage = "image"
	TypeMovie = "movie"
)

// ResourceURI identifies a resource within a site, either by identifier or by path,
// and names one of its versions.
type ResourceURI struct {
	Site    string
	Type    string
	Path    string // normalized; empty when the resource is addressed by identifier only
	ID      string
	Version Version
}

// NewURI creates a live URI addressing a resource by path.
func NewURI(site, path string) ResourceURI {
	return ResourceURI{Site: site, Path: NormalizePath(path), Version: Live}
}

// NewIDURI creates a URI addressing a resource by identifier.
func NewIDURI(site, id string, version Version) ResourceURI {
	return ResourceURI{Site: site, ID: id, Version: version}
}

// WithVersion returns a copy of the URI pointing at another version.
func (u ResourceURI) WithVersion(v Version) ResourceURI {
	u.Version = v
	return u
}

// WithPath returns a copy of the URI with a normalized path.
func (u ResourceURI) WithPath(p string) ResourceURI {
	u.Path = NormalizePath(p)
	return u
}

// WithID returns a copy of the URI with the given identifier.
func (u ResourceURI) WithID(id string) ResourceURI {
	u.ID = id
	return u
}

// SameResource reports whether both URIs address the same logical resource,
// regardless of version. Identifiers win when both are present; otherwise paths
// decide.
func (u ResourceURI) SameResource(o ResourceURI) bool {
	if u.ID != "" && o.ID != "" {
		return u.ID == o.ID
	}
	p := NormalizePath(u.Path)
	return p != "" && p == NormalizePath(o.Path)
}

// SameVersion reports whether both URIs address the same resource and version.
func (u ResourceURI) SameVersion(o ResourceURI) bool {
	return u.Version == o.Version && u.SameResource(o)
}

// String renders the URI for logs and tool output.
func (u ResourceURI) String() string {
	var sb strings.Builder
	if u.Site != "" {
		sb.WriteString(u.Site)
		sb.WriteString(":")
	}
	if u.Path != "" {
		sb.WriteString(u.Path)
	} else {
		sb.WriteString("-")
	}
	if u.ID != "" {
		sb.WriteString("#")
		sb.WriteString(u.ID)
	}
	sb.WriteString("@")
	sb.WriteString(u.Version.String())
	return sb.String()
}
