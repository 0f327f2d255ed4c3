package schedule

import (
	"reflect"
	"testing"
)

func TestSetDeduplicates(t *testing.T) {
	t.Parallel()
	s := NewSet("0 9 * * 1", "0 9 * * 1", "", "*/5 * * * *")
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if s.Has("") {
		t.Fatal("empty expression must not be stored")
	}
	want := []string{"*/5 * * * *", "0 9 * * 1"}
	if got := s.Strings(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Strings() = %v, want %v", got, want)
	}
}

func TestSetUnion(t *testing.T) {
	t.Parallel()
	a := NewSet("a b c d e")
	a.Union(NewSet("a b c d e", "1 2 3 4 5"))
	if a.Len() != 2 || !a.Has("1 2 3 4 5") {
		t.Fatalf("unexpected union: %v", a.Strings())
	}
}
