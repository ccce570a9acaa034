package walk

import "testing"

func TestRuleSet_LastMatchWins(t *testing.T) {
	rs := ParseRules([]string{
		"*.log",
		"!keep.log",
	})
	if !rs.IsIgnored("debug.log", false) {
		t.Fatal("debug.log should be ignored")
	}
	if rs.IsIgnored("keep.log", false) {
		t.Fatal("keep.log is re-included by a later rule")
	}

	rs = ParseRules([]string{
		"!keep.log",
		"*.log",
	})
	if !rs.IsIgnored("keep.log", false) {
		t.Fatal("a later exclude overrides an earlier negation")
	}
}

func TestRuleSet_PatternForms(t *testing.T) {
	rs := ParseRules([]string{
		"# comment",
		"",
		"build/",
		"/root-only.txt",
		"docs/**/draft.md",
		"a?c.txt",
	})

	cases := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"build", true, true},
		{"build", false, false},
		{"build/out.bin", false, true},
		{"pkg/build", true, true},
		{"root-only.txt", false, true},
		{"sub/root-only.txt", false, false},
		{"docs/draft.md", false, true},
		{"docs/x/y/draft.md", false, true},
		{"abc.txt", false, true},
		{"abbc.txt", false, false},
		{"src/main.go", false, false},
	}
	for _, tc := range cases {
		if got := rs.IsIgnored(tc.path, tc.isDir); got != tc.want {
			t.Fatalf("IsIgnored(%q, dir=%v)=%v want %v", tc.path, tc.isDir, got, tc.want)
		}
	}
}

func TestRuleSet_DropsMalformed(t *testing.T) {
	rs := ParseRules([]string{"[unclosed", "*.tmp"})
	if len(rs.Dropped()) != 1 || rs.Dropped()[0] != "[unclosed" {
		t.Fatalf("dropped=%v", rs.Dropped())
	}
	if !rs.IsIgnored("x.tmp", false) {
		t.Fatal("remaining rules still apply")
	}
}

func TestRuleSet_Nil(t *testing.T) {
	var rs *RuleSet
	if rs.IsIgnored("a", false) {
		t.Fatal("nil rule set ignores nothing")
	}
}
