package version

import (
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		major uint16
		minor uint16
		tag   string
	}{
		{"1.0", 1, 0, ""},
		{"0.26", 0, 26, ""},
		{"0.25.v0.25  \n", 0, 25, "v0.25"},
		{"1.0.iiod-go\n", 1, 0, "iiod-go"},
		{"10.23.g3c1e0a2", 10, 23, "g3c1e0a2"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major {
				t.Errorf("Major = %d, want %d", v.Major, tt.major)
			}
			if v.Minor != tt.minor {
				t.Errorf("Minor = %d, want %d", v.Minor, tt.minor)
			}
			if v.Tag != tt.tag {
				t.Errorf("Tag = %q, want %q", v.Tag, tt.tag)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"1",
		"abc",
		"1.x",
		"-1.0",
		".0",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestReply(t *testing.T) {
	tests := []struct {
		v    Version
		want string
	}{
		{Current, "1.0.iiod-go\n"},
		{Version{Major: 0, Minor: 25, Tag: "abc"}, "0.25.abc    \n"},
		{Version{Major: 0, Minor: 26, Tag: "v0.26-rc1"}, "0.26.v0.26-r\n"},
	}

	for _, tt := range tests {
		if got := tt.v.Reply(); got != tt.want {
			t.Errorf("Reply() = %q, want %q", got, tt.want)
		}
	}

	v, err := Parse(Current.Reply())
	if err != nil {
		t.Fatal(err)
	}
	if v != Current {
		t.Errorf("Parse(Reply()) = %+v, want %+v", v, Current)
	}
}

func TestCompatible(t *testing.T) {
	v := Version{Major: 1, Minor: 0}
	if !v.Compatible(Version{Major: 1, Minor: 3}) {
		t.Error("1.0 should be compatible with 1.3")
	}
	if v.Compatible(Version{Major: 0, Minor: 26}) {
		t.Error("1.0 should not be compatible with 0.26")
	}
	if got := (Version{Major: 0, Minor: 26, Tag: "x"}).String(); got != "0.26" {
		t.Errorf("String() = %q, want 0.26", got)
	}
}
