package fetch

import (
	"errors"
	"testing"
)

func TestNormalizeReference(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  http://x/a.laz  ", "http://x/a.laz"},
		{`<a href="http://x/b.las">b.las</a>`, "http://x/b.las"},
		{`<a href='http://x/c.laz' target="_blank">c</a>`, "http://x/c.laz"},
		{`<A HREF=" http://x/d.laz ">d</A>`, "http://x/d.laz"},
	}
	for _, tc := range cases {
		got, err := NormalizeReference(tc.in)
		if err != nil {
			t.Fatalf("NormalizeReference(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeReference(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeReference_Malformed(t *testing.T) {
	for _, in := range []string{"", "   ", `<a href=http://x/a.laz>a</a>`, `<a href="http://x/a.laz>a</a>`, `href=""`} {
		if _, err := NormalizeReference(in); !errors.Is(err, ErrMalformedReference) {
			t.Fatalf("NormalizeReference(%q): expected ErrMalformedReference, got %v", in, err)
		}
	}
}

func TestFileName(t *testing.T) {
	cases := map[string]string{
		"http://x/a.laz":                "a.laz",
		"https://x/dir/sub/b.las?sig=1": "b.las",
		"https://x/dir/C%20D.laz#frag":  "C D.laz",
		"https://x/dir/trailing/e.laz/": "e.laz",
	}
	for in, want := range cases {
		got, err := FileName(in)
		if err != nil {
			t.Fatalf("FileName(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := FileName("http://x/"); !errors.Is(err, ErrMalformedReference) {
		t.Fatalf("expected malformed for url without file, got %v", err)
	}
}

func TestFileName_DecodesOnce(t *testing.T) {
	got, err := FileName("http://x/dir/a%2525b.laz")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a%25b.laz" {
		t.Fatalf("FileName decoded twice: got %q", got)
	}
}

func TestFileName_StaysOneSegment(t *testing.T) {
	got, err := FileName("http://x/%252E%252E%252F%252E%252E%252Fevil.las")
	if err != nil {
		t.Fatal(err)
	}
	if got != "%2E%2E%2F%2E%2E%2Fevil.las" {
		t.Fatalf("double-encoded name must stay literal, got %q", got)
	}

	for _, in := range []string{
		"http://x/dir/%2E%2E",
		"http://x/dir/..%5Cevil.las",
	} {
		name, err := FileName(in)
		if !errors.Is(err, ErrMalformedReference) {
			t.Fatalf("FileName(%q) = %q, %v; expected ErrMalformedReference", in, name, err)
		}
	}
}
