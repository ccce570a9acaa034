package gitx

import "testing"

func TestParseStatusLines_RenameArrow(t *testing.T) {
	entries, truncated := ParseStatusLines("R  old.txt -> new.txt\n", 0)
	if truncated {
		t.Fatal("unexpected truncation")
	}
	if len(entries) != 1 {
		t.Fatalf("entries=%+v", entries)
	}
	e := entries[0]
	if e.Path != "new.txt" || e.RenameFrom != "old.txt" || e.Letter != "R" {
		t.Fatalf("entry=%+v", e)
	}
}

func TestParseStatusLines_QuotedPaths(t *testing.T) {
	entries, _ := ParseStatusLines(`?? "with space\tand tab.txt"`+"\n", 0)
	if len(entries) != 1 || entries[0].Path != "with space\tand tab.txt" {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestParseStatusZ_RenameConsumesTwoTokens(t *testing.T) {
	out := []byte("R  new.txt\x00old.txt\x00 M a.go\x00?? b.go\x00")
	entries, truncated := ParseStatusZ(out, 0)
	if truncated {
		t.Fatal("unexpected truncation")
	}
	if len(entries) != 3 {
		t.Fatalf("entries=%+v", entries)
	}
	if entries[0].Path != "new.txt" || entries[0].RenameFrom != "old.txt" || entries[0].Letter != "R" {
		t.Fatalf("rename=%+v", entries[0])
	}
	if entries[1].Path != "a.go" || entries[1].Letter != "M" || entries[1].IndexState != " " {
		t.Fatalf("modified=%+v", entries[1])
	}
	if entries[2].Path != "b.go" || entries[2].Letter != "?" {
		t.Fatalf("untracked=%+v", entries[2])
	}
}

func TestParseStatusZ_Limit(t *testing.T) {
	out := []byte(" M a\x00 M b\x00 M c\x00")
	entries, truncated := ParseStatusZ(out, 2)
	if !truncated || len(entries) != 2 {
		t.Fatalf("entries=%d truncated=%v", len(entries), truncated)
	}
}

func TestLetterPriority(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"UU", "U"},
		{"AA", "U"},
		{"DD", "U"},
		{"AU", "U"},
		{"MD", "D"},
		{"D ", "D"},
		{"AM", "A"},
		{"RM", "R"},
		{"RD", "D"},
		{"C ", "C"},
		{" M", "M"},
		{"T ", "M"},
		{"!!", "!"},
		{"??", "?"},
		{"XY", "?"},
	}
	for _, tc := range cases {
		if got := Letter(tc.code[0], tc.code[1]); got != tc.want {
			t.Fatalf("Letter(%q)=%s want %s", tc.code, got, tc.want)
		}
	}
}

func TestBucketChanges(t *testing.T) {
	entries, _ := ParseStatusZ([]byte("MM both.go\x00A  new.go\x00?? u.txt\x00UU c.go\x00"), 0)
	ch := BucketChanges(entries, false)

	if len(ch.Staged) != 2 || len(ch.Unstaged) != 1 || len(ch.Untracked) != 1 || len(ch.Conflicts) != 1 {
		t.Fatalf("changes=%+v", ch)
	}
	if ch.Letters["both.go"] != "M" || ch.Letters["new.go"] != "A" || ch.Letters["u.txt"] != "?" || ch.Letters["c.go"] != "U" {
		t.Fatalf("letters=%v", ch.Letters)
	}
}

func TestStripPrefix(t *testing.T) {
	entries, _ := ParseStatusZ([]byte(" M sub/a.go\x00 M other/b.go\x00"), 0)
	got := stripPrefix(entries, "sub/")
	if len(got) != 1 || got[0].Path != "a.go" {
		t.Fatalf("got=%+v", got)
	}
}
