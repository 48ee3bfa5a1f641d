package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must be filled, got %q %q %q", v, c, d)
	}
	if v != GetVersion() || c != GetCommit() || d != GetDate() {
		t.Fatal("getters must match Info")
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}

func TestFields(t *testing.T) {
	fields := Fields()
	if fields["version"] != GetVersion() {
		t.Errorf("version field = %v, want %s", fields["version"], GetVersion())
	}
	if fields["commit"] != GetCommit() {
		t.Errorf("commit field = %v, want %s", fields["commit"], GetCommit())
	}
	if _, ok := fields["build_date"]; !ok {
		t.Error("build_date field is missing")
	}
}
