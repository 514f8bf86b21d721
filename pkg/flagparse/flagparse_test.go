package flagparse

import (
	"reflect"
	"testing"
)

func TestParseExcludeList(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single item", ".DS_Store", []string{".DS_Store"}},
		{"plain list", "*.tmp,*.bak,Thumbs.db", []string{"*.tmp", "*.bak", "Thumbs.db"}},
		{"whitespace trimmed", " *.tmp , *.bak ", []string{"*.tmp", "*.bak"}},
		{"empty items dropped", "a,,b,", []string{"a", "b"}},
		{"quoted item with comma", `"a,b",c`, []string{"a,b", "c"}},
		{"single quotes with space", "'my file.txt',x", []string{"my file.txt", "x"}},
		{"mixed quotes stay literal", `"it's",y`, []string{"it's", "y"}},
		{"backslashes are literal", `C:\temp\*,z`, []string{`C:\temp\*`, "z"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseExcludeList(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseExcludeList(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseMarkerList(t *testing.T) {
	got := ParseMarkerList("wwwroot, web")
	want := []string{"wwwroot", "web"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseMarkerList() = %v, want %v", got, want)
	}
}
