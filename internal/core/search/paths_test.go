package search

import (
	"context"
	"testing"
)

func TestPaths_RanksBasenameFirst(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "server/handler.go", "")
	writeFile(t, root, "server.go", "")
	writeFile(t, root, "cmd/app/main.go", "")
	writeFile(t, root, "pkg/myserver_test.go", "")

	e := NewEngine(Options{Root: root})
	res, err := e.Paths(context.Background(), PathQuery{Query: "server"})
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	var got []string
	for _, p := range res.Paths {
		got = append(got, p.Path)
	}
	want := []string{"server.go", "pkg/myserver_test.go", "server/handler.go"}
	if len(got) != len(want) {
		t.Fatalf("got=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}
}

func TestPaths_GlobAndLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/x.go", "")
	writeFile(t, root, "b/y.go", "")
	writeFile(t, root, "b/z.md", "")

	e := NewEngine(Options{Root: root})
	res, err := e.Paths(context.Background(), PathQuery{Query: "**/*.go", Limit: 1})
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(res.Paths) != 1 || !res.Truncated || res.Paths[0].Path != "a/x.go" {
		t.Fatalf("res=%+v", res)
	}
}
