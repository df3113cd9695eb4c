// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestId_Constants(t *testing.T) {
	t.Parallel()

	if ConfigLoadFailedId != 1 {
		t.Errorf("ConfigLoadFailedId = %d, want 1", ConfigLoadFailedId)
	}
	if UpdateBusyId != Id(len(issues)) {
		t.Errorf("last Id = %d, but %d issues are registered", UpdateBusyId, len(issues))
	}
}

func TestIssuesMapCompleteness(t *testing.T) {
	t.Parallel()

	for id := ConfigLoadFailedId; id <= UpdateBusyId; id++ {
		is := Get(id)
		if is == nil {
			t.Errorf("Get(%d) returned nil", id)
			continue
		}
		if is.Id() != id {
			t.Errorf("Get(%d).Id() = %d", id, is.Id())
		}
		if strings.TrimSpace(string(is.MarkdownMsg())) == "" {
			t.Errorf("issue %d has no message", id)
		}
		if !strings.Contains(string(is.MarkdownMsg()), "# ") {
			t.Errorf("issue %d should start with a heading", id)
		}
	}
	if Get(0) != nil || Get(UpdateBusyId+1) != nil {
		t.Error("Get should return nil for unknown ids")
	}
}

func TestValues_SortedById(t *testing.T) {
	t.Parallel()

	vals := Values()
	if len(vals) != len(issues) {
		t.Fatalf("Values() returned %d issues, want %d", len(vals), len(issues))
	}
	for i := 1; i < len(vals); i++ {
		if vals[i-1].Id() >= vals[i].Id() {
			t.Fatalf("Values() not sorted at %d", i)
		}
	}
}

func TestIssue_ExtLinksIsCopy(t *testing.T) {
	t.Parallel()

	is := Get(PlatformNotSupportedId)
	links := is.ExtLinks()
	if len(links) == 0 {
		t.Fatal("expected an external link")
	}
	links[0] = "mutated"
	if is.ExtLinks()[0] == "mutated" {
		t.Error("ExtLinks() should return a copy")
	}
}

//nolint:paralleltest // replaces the package-level renderer
func TestIssue_Render(t *testing.T) {
	original := render
	t.Cleanup(func() { render = original })

	var gotIn, gotStyle string
	render = func(in, stylePath string) (string, error) {
		gotIn, gotStyle = in, stylePath
		return "rendered", nil
	}

	out, err := Get(PlatformNotSupportedId).Render("dark")
	if err != nil || out != "rendered" {
		t.Fatalf("Render() = %q, %v", out, err)
	}
	if gotStyle != "dark" {
		t.Errorf("style = %q, want dark", gotStyle)
	}
	if !strings.Contains(gotIn, "## See also") || !strings.Contains(gotIn, "<https://developer.android.com/") {
		t.Errorf("links missing from markdown:\n%s", gotIn)
	}

	if _, err = Get(UpdateBusyId).Render("light"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(gotIn, "See also") {
		t.Errorf("issue without links should not get a See also section:\n%s", gotIn)
	}

	render = func(string, string) (string, error) { return "", errors.New("bad style") }
	if _, err := Get(UpdateBusyId).Render("nope"); err == nil {
		t.Error("Render() should surface renderer errors")
	}
}

//nolint:paralleltest // uses the real renderer, which other tests replace
func TestAllIssuesAreRenderable(t *testing.T) {
	for _, is := range Values() {
		out, err := is.Render("notty")
		if err != nil {
			t.Errorf("issue %d: Render() error = %v", is.Id(), err)
		}
		if strings.TrimSpace(out) == "" {
			t.Errorf("issue %d rendered empty", is.Id())
		}
	}
}
