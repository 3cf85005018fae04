package toolfed

import "testing"

func TestCatalogPutGet(t *testing.T) {
	c := NewCatalog()
	c.Put(ToolRecord{QualifiedName: "bash__read_file", Description: "[bash] reads a file"})

	rec, ok := c.Get("bash__read_file")
	if !ok {
		t.Fatal("expected tool to be present")
	}
	if rec.Description != "[bash] reads a file" {
		t.Fatalf("unexpected description: %q", rec.Description)
	}
}

func TestCatalogEvictBackend(t *testing.T) {
	c := NewCatalog()
	c.PutAll([]ToolRecord{
		{QualifiedName: "bash__read_file"},
		{QualifiedName: "bash__list_directory"},
		{QualifiedName: "other__ping"},
	})

	c.EvictBackend("bash")

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if _, ok := c.Get("other__ping"); !ok {
		t.Fatal("expected other__ping to survive eviction")
	}
}

func TestCatalogFilterServer(t *testing.T) {
	c := NewCatalog()
	c.PutAll([]ToolRecord{
		{QualifiedName: "bash__read_file"},
		{QualifiedName: "bash__list_directory"},
		{QualifiedName: "other__ping"},
	})

	filtered := c.Filter("bash", nil)
	if len(filtered) != 2 {
		t.Fatalf("Filter(server) returned %d, want 2", len(filtered))
	}
	for _, rec := range filtered {
		if rec.Backend() != "bash" {
			t.Fatalf("unexpected backend in filtered result: %q", rec.QualifiedName)
		}
	}
}

func TestCatalogFilterKeywordsORSemantics(t *testing.T) {
	c := NewCatalog()
	c.PutAll([]ToolRecord{
		{QualifiedName: "a__foo", Description: "likes cats"},
		{QualifiedName: "a__bar", Description: "likes dogs"},
		{QualifiedName: "a__baz", Description: "likes birds"},
	})

	filtered := c.Filter("", []string{"cat", "dog"})
	if len(filtered) != 2 {
		t.Fatalf("Filter(keywords) returned %d, want 2", len(filtered))
	}
	names := map[string]bool{}
	for _, rec := range filtered {
		names[rec.QualifiedName] = true
	}
	if !names["a__foo"] || !names["a__bar"] {
		t.Fatalf("unexpected filtered set: %+v", names)
	}
}

func TestCatalogNoDuplicateQualifiedNames(t *testing.T) {
	c := NewCatalog()
	c.Put(ToolRecord{QualifiedName: "bash__read_file", Description: "first"})
	c.Put(ToolRecord{QualifiedName: "bash__read_file", Description: "second"})

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (Put must replace, not duplicate)", c.Len())
	}
	rec, _ := c.Get("bash__read_file")
	if rec.Description != "second" {
		t.Fatalf("expected latest Put to win, got %q", rec.Description)
	}
}
