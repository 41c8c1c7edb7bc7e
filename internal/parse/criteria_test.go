package parse

import "testing"

func TestAcceptanceCriteria_ExplicitSection(t *testing.T) {
	body := `Some intro text.

## Acceptance Criteria
- User can log in with email [auth]
- Password reset sends an email [optional]
- Session expires after 30 minutes [required]

## Notes
- this bullet must not be picked up
`
	items := AcceptanceCriteria(body)
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3: %+v", len(items), items)
	}
	if items[0].ID != "C1" || items[2].ID != "C3" {
		t.Fatalf("ids not assigned in order: %+v", items)
	}
	if items[0].Text != "User can log in with email" || len(items[0].Tags) != 1 || items[0].Tags[0] != "auth" {
		t.Fatalf("tag extraction wrong: %+v", items[0])
	}
	if items[1].Required {
		t.Fatalf("[optional] marker ignored: %+v", items[1])
	}
	if !items[2].Required || items[2].Text != "Session expires after 30 minutes" {
		t.Fatalf("[required] marker not stripped: %+v", items[2])
	}
}

func TestAcceptanceCriteria_FallbackToFirstBullets(t *testing.T) {
	body := `Fix the thing.

* handles empty input
* returns an error on overflow
`
	items := AcceptanceCriteria(body)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	for _, it := range items {
		if !it.Required {
			t.Fatalf("fallback bullets must default to required: %+v", it)
		}
	}
}

func TestAcceptanceCriteria_EmptyBody(t *testing.T) {
	if items := AcceptanceCriteria(""); len(items) != 0 {
		t.Fatalf("empty body yielded %d items", len(items))
	}
	if items := AcceptanceCriteria("no bullets here at all"); len(items) != 0 {
		t.Fatalf("bullet-free body yielded %d items", len(items))
	}
}

func TestChangedSymbols(t *testing.T) {
	pyPatch := `@@ -1,3 +1,6 @@
+def handle_login(req):
+    pass
+class SessionStore:
 unchanged = 1
-def removed_symbol():
`
	got := ChangedSymbols(pyPatch, "app/auth.py")
	if len(got) != 2 || got[0] != "handle_login" || got[1] != "SessionStore" {
		t.Fatalf("python symbols: %v", got)
	}

	tsPatch := `@@ -1 +1,3 @@
+export function renderList() {}
+const parseRow = (x) => x
+class Grid {}
`
	got = ChangedSymbols(tsPatch, "web/grid.tsx")
	if len(got) != 3 {
		t.Fatalf("ts symbols: %v", got)
	}

	goPatch := `@@ -1 +1,3 @@
+func (s *Store) UpsertRepo(ctx context.Context) error {
+type repoRow struct {
`
	got = ChangedSymbols(goPatch, "internal/store/sqlite.go")
	if len(got) != 2 || got[0] != "UpsertRepo" || got[1] != "repoRow" {
		t.Fatalf("go symbols: %v", got)
	}

	if got = ChangedSymbols("+whatever", "README.md"); len(got) != 0 {
		t.Fatalf("unknown extension yielded symbols: %v", got)
	}
}

func TestFrameworkFor(t *testing.T) {
	cases := map[string]string{
		"a/b.py":  "pytest",
		"a/b.tsx": "jest",
		"a/b.go":  "go test",
		"a/b.rb":  "unknown",
	}
	for path, want := range cases {
		if got := FrameworkFor(path); got != want {
			t.Fatalf("FrameworkFor(%q) = %q, want %q", path, got, want)
		}
	}
}
