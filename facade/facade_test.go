package facade

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/basaltrun/toolfed"
)

type fakeCatalog struct {
	records []toolfed.ToolRecord
}

func (c *fakeCatalog) Snapshot() []toolfed.ToolRecord { return c.records }

func (c *fakeCatalog) Filter(server string, keywords []string) []toolfed.ToolRecord {
	var out []toolfed.ToolRecord
	for _, rec := range c.records {
		if server != "" && rec.Backend() != server {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (c *fakeCatalog) Get(qualifiedName string) (toolfed.ToolRecord, bool) {
	for _, rec := range c.records {
		if rec.QualifiedName == qualifiedName {
			return rec, true
		}
	}
	return toolfed.ToolRecord{}, false
}

type fakeRunner struct {
	result       ExecuteResult
	err          error
	gotTimeoutMS int
}

func (r *fakeRunner) Execute(ctx context.Context, code string, timeoutMS int) (ExecuteResult, error) {
	r.gotTimeoutMS = timeoutMS
	return r.result, r.err
}

type erroringSelector struct{}

func (erroringSelector) Select(ctx context.Context, query string, candidates []toolfed.ToolRecord) ([]string, error) {
	return nil, errors.New("selector unavailable")
}

type fixedSelector struct{ names []string }

func (s fixedSelector) Select(ctx context.Context, query string, candidates []toolfed.ToolRecord) ([]string, error) {
	return s.names, nil
}

func catalogWithThreeTools() *fakeCatalog {
	return &fakeCatalog{records: []toolfed.ToolRecord{
		{QualifiedName: "a__foo", Description: "likes cats"},
		{QualifiedName: "a__bar", Description: "likes dogs"},
		{QualifiedName: "a__baz", Description: "likes birds"},
	}}
}

func TestListToolNamesEmptyCatalog(t *testing.T) {
	f := New(&fakeCatalog{}, nil, nil)
	result := f.ListToolNames("", nil, 0)
	if result.Total != 0 || result.Returned != 0 || result.Truncated {
		t.Fatalf("ListToolNames on empty catalog = %+v", result)
	}
}

func TestListToolNamesServerFilter(t *testing.T) {
	cat := &fakeCatalog{records: []toolfed.ToolRecord{
		{QualifiedName: "bash__read_file", Description: "reads"},
		{QualifiedName: "bash__list_directory", Description: "lists"},
	}}
	f := New(cat, nil, nil)
	result := f.ListToolNames("bash", nil, 0)

	sort.Strings(result.ToolNames)
	want := []string{"bash__list_directory", "bash__read_file"}
	if len(result.ToolNames) != 2 || result.ToolNames[0] != want[0] || result.ToolNames[1] != want[1] {
		t.Fatalf("ToolNames = %v, want %v", result.ToolNames, want)
	}
	if result.Total != 2 || result.Returned != 2 || result.Truncated {
		t.Fatalf("counts = %+v", result)
	}
}

func TestListToolNamesTruncation(t *testing.T) {
	cat := &fakeCatalog{}
	for i := 0; i < 5; i++ {
		cat.records = append(cat.records, toolfed.ToolRecord{QualifiedName: "a__" + string(rune('a'+i))})
	}
	f := New(cat, nil, nil)
	result := f.ListToolNames("", nil, 3)
	if result.Total != 5 || result.Returned != 3 || !result.Truncated {
		t.Fatalf("counts = %+v, want total=5 returned=3 truncated=true", result)
	}
}

func TestGetToolDefinitionUnknown(t *testing.T) {
	f := New(&fakeCatalog{}, nil, nil)
	if _, err := f.GetToolDefinition("ghost__tool"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestSearchToolsSelectorFailureFallsBackToFullList(t *testing.T) {
	f := New(catalogWithThreeTools(), nil, erroringSelector{})
	results := f.SearchTools(context.Background(), "anything", "", 0)
	if len(results) != 3 {
		t.Fatalf("expected fallback to all 3 candidates, got %d", len(results))
	}
}

func TestSearchToolsSelectorIntersectsWithCatalog(t *testing.T) {
	f := New(catalogWithThreeTools(), nil, fixedSelector{names: []string{"a__foo", "a__nonexistent"}})
	results := f.SearchTools(context.Background(), "cats", "", 0)
	if len(results) != 1 || results[0].QualifiedName != "a__foo" {
		t.Fatalf("results = %+v, want only a__foo", results)
	}
}

func TestSearchToolsRespectsLimit(t *testing.T) {
	f := New(catalogWithThreeTools(), nil, NoopSelector{})
	results := f.SearchTools(context.Background(), "", "", 2)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestExecuteScriptDefaultsTimeout(t *testing.T) {
	runner := &fakeRunner{result: ExecuteResult{State: "completed", ExitCode: 0}}
	f := New(&fakeCatalog{}, runner, nil)
	result, err := f.ExecuteScript(context.Background(), "print(1)", 0)
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if result.State != "completed" {
		t.Fatalf("result = %+v", result)
	}
	if runner.gotTimeoutMS != 30000 {
		t.Fatalf("runner got timeoutMS = %d, want 30000", runner.gotTimeoutMS)
	}
}

func TestIsMetaOperation(t *testing.T) {
	for _, name := range []string{"list_tool_names", "get_tool_definition", "search_tools", "execute_script"} {
		if !IsMetaOperation(name) {
			t.Fatalf("%q should be a meta operation", name)
		}
	}
	if IsMetaOperation("read_file") {
		t.Fatal("read_file should not be a meta operation")
	}
}

func TestRefuseDirectDispatch(t *testing.T) {
	result := RefuseDirectDispatch("bash__read_file")
	if !result.IsError {
		t.Fatal("expected IsError=true")
	}
}
