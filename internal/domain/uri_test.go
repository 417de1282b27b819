package domain

import (
	"errors"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"", Live, false},
		{"live", Live, false},
		{"WORK", Work, false},
		{"42", Version(42), false},
		{"-1", 0, true},
		{"draft", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Errorf("ParseVersion(%q) error = %v, want ErrInvalidVersion", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResourceURI_SameResource(t *testing.T) {
	tests := []struct {
		name string
		a, b ResourceURI
		want bool
	}{
		{
			name: "same id different paths",
			a:    ResourceURI{ID: "1", Path: "/a"},
			b:    ResourceURI{ID: "1", Path: "/b"},
			want: true,
		},
		{
			name: "same id different versions",
			a:    ResourceURI{ID: "1", Version: Live},
			b:    ResourceURI{ID: "1", Version: Work},
			want: true,
		},
		{
			name: "different ids same path",
			a:    ResourceURI{ID: "1", Path: "/a"},
			b:    ResourceURI{ID: "2", Path: "/a"},
			want: false,
		},
		{
			name: "no ids equal normalized paths",
			a:    ResourceURI{Path: "/a/b/"},
			b:    ResourceURI{Path: "a//b"},
			want: true,
		},
		{
			name: "no ids different paths",
			a:    ResourceURI{Path: "/a"},
			b:    ResourceURI{Path: "/b"},
			want: false,
		},
		{
			name: "one id falls back to path",
			a:    ResourceURI{ID: "1", Path: "/a"},
			b:    ResourceURI{Path: "/a"},
			want: true,
		},
		{
			name: "nothing to compare",
			a:    ResourceURI{},
			b:    ResourceURI{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.SameResource(tt.b); got != tt.want {
				t.Errorf("SameResource = %v, want %v", got, tt.want)
			}
			if got := tt.b.SameResource(tt.a); got != tt.want {
				t.Errorf("SameResource (reversed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResourceURI_SameVersion(t *testing.T) {
	live := ResourceURI{ID: "1", Path: "/a", Version: Live}
	work := live.WithVersion(Work)

	if live.SameVersion(work) {
		t.Error("Expected live and work versions to differ")
	}
	if !live.SameVersion(live.WithPath("/moved")) {
		t.Error("Expected same id and version to match regardless of path")
	}
}

func TestResourceURI_String(t *testing.T) {
	uri := ResourceURI{Site: "demo", Path: "/a", ID: "x", Version: Work}
	if got := uri.String(); got != "demo:/a#x@work" {
		t.Errorf("String() = %q", got)
	}
	if got := (ResourceURI{ID: "x"}).String(); got != "-#x@live" {
		t.Errorf("String() = %q", got)
	}
}
