package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanScript = `import FreeCAD as App
import Part

doc = App.newDocument("Cube")
box = doc.addObject("Part::Box", "Box")
box.Length = 10
doc.recompute()`

func testOutputs(dir string) Outputs {
	return Outputs{
		Document: filepath.Join(dir, "model.FCStd"),
		Mesh:     filepath.Join(dir, "model.obj"),
		Preview:  filepath.Join(dir, "preview.png"),
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"python tag", "```python\nCODE\n```", "CODE"},
		{"no tag", "```\nCODE\n```", "CODE"},
		{"leading whitespace", "\n  ```py\nx = 1\ny = 2\n```\n", "x = 1\ny = 2"},
		{"prose after closing fence", "```python\nx = 1\n```\nThis script builds a cube.", "x = 1"},
		{"missing closing fence", "```python\nx = 1\n", "x = 1"},
		{"closing fence on code line", "```python\nx = 1```", "x = 1"},
		{"single line", "```print(1)```", "print(1)"},
		{"only a fence", "```python", ""},
		{"indented code preserved", "```python\n    x = 1\n```", "    x = 1"},
		{"not fenced", "x = 1\n", "x = 1\n"},
		{"fence later in text untouched", "x = 1\n```\n", "x = 1\n```\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestStripFencesNeverPanics(t *testing.T) {
	for _, in := range []string{"", "`", "``", "```", "````", "```\n", "```\n```", " ```  \n```"} {
		assert.NotPanics(t, func() { StripFences(in) }, "input %q", in)
	}
}

func TestUnwrapMainGuard(t *testing.T) {
	in := `import FreeCAD as App

def build():
    doc = App.newDocument("Part")
    return doc

if __name__ == "__main__":
    doc = build()
    if doc:
        doc.recompute()

print("after")`

	want := `import FreeCAD as App

def build():
    doc = App.newDocument("Part")
    return doc

doc = build()
if doc:
    doc.recompute()

print("after")`

	assert.Equal(t, want, UnwrapMainGuard(in))
}

func TestUnwrapMainGuardVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single quotes reversed operands",
			in:   "def main():\n    pass\nif '__main__' == __name__:\n\tmain()\n",
			want: "def main():\n    pass\nmain()\n",
		},
		{
			name: "one-line guard",
			in:   "def main():\n    pass\n\nif __name__ == '__main__': main()",
			want: "def main():\n    pass\n\nmain()",
		},
		{
			name: "comment after colon",
			in:   "def main():\n    pass\nif __name__ == \"__main__\":  # run\n    main()",
			want: "def main():\n    pass\nmain()",
		},
		{
			name: "column zero comment inside block",
			in:   "def main():\n    pass\nif __name__ == \"__main__\":\n    a = 1\n# note\n    main()\n",
			want: "def main():\n    pass\na = 1\n# note\nmain()\n",
		},
		{
			name: "guard without routine is left alone",
			in:   "if __name__ == \"__main__\":\n    print(1)\n",
			want: "if __name__ == \"__main__\":\n    print(1)\n",
		},
		{
			name: "nested guard is left alone",
			in:   "def main():\n    if __name__ == \"__main__\":\n        pass\n",
			want: "def main():\n    if __name__ == \"__main__\":\n        pass\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnwrapMainGuard(tt.in))
		})
	}
}

func TestDefinesRoutine(t *testing.T) {
	assert.True(t, DefinesRoutine("def f(x):\n    return x"))
	assert.True(t, DefinesRoutine("class A:\n    def method(self):\n        pass"))
	assert.True(t, DefinesRoutine("async def f():\n    pass"))
	assert.False(t, DefinesRoutine("undefined = 1\nprint(undefined)"))
}

func TestMissingDocumentSafeguard(t *testing.T) {
	out := Prepare("import Part\nPart.show(Part.makeBox(1, 1, 1))")

	lines := strings.Split(out, "\n")
	assert.Equal(t, DefaultDocumentLine, lines[0], "creation call must be the first statement")
	assert.Equal(t, 1, strings.Count(out, "newDocument("))
}

func TestDocumentSafeguardNotAppliedWhenPresent(t *testing.T) {
	assert.Equal(t, cleanScript, Prepare(cleanScript))

	spaced := "import FreeCAD\nd = FreeCAD.newDocument ()\n"
	assert.Equal(t, spaced, Prepare(spaced))
}

func TestNormalizeIsIdempotentForCleanInput(t *testing.T) {
	out := testOutputs("/tmp/gen")
	assert.Equal(t, cleanScript+ExportSnippet(out), Normalize(cleanScript, out))
}

func TestNormalizeFencedInput(t *testing.T) {
	out := testOutputs("/tmp/gen")
	fenced := "```python\n" + cleanScript + "\n```"
	assert.Equal(t, cleanScript+ExportSnippet(out), Normalize(fenced, out))
}

func TestNormalizeEmptyInput(t *testing.T) {
	out := testOutputs("/tmp/gen")
	got := Normalize("", out)
	assert.True(t, strings.HasPrefix(got, DefaultDocumentLine+"\n"))
	assert.True(t, strings.HasSuffix(got, ExportSnippet(out)))
}

func TestExportSnippet(t *testing.T) {
	snippet := ExportSnippet(Outputs{
		Document: "/work/generated/model.FCStd",
		Mesh:     "/work/generated/model.obj",
		Preview:  "/work/generated/preview.png",
	})

	assert.True(t, strings.HasPrefix(snippet, "\n\n"))
	assert.Contains(t, snippet, `_cf_doc.saveAs("/work/generated/model.FCStd")`)
	assert.Contains(t, snippet, `_cf_Mesh.export(_cf_shapes, "/work/generated/model.obj")`)
	assert.Contains(t, snippet, `saveImage("/work/generated/preview.png", 800, 600, "White")`)
	assert.Contains(t, snippet, MsgNoDocument)
	assert.Contains(t, snippet, MsgNoShapes)
	assert.Contains(t, snippet, "except Exception as _cf_err:")
	assert.NotContains(t, snippet, "{{")
}

func TestPyStringEscapes(t *testing.T) {
	assert.Equal(t, `"C:/Users/o\"neil/model.obj"`, pyString(`C:/Users/o"neil/model.obj`))
}

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	outputs := testOutputs(filepath.Join(dir, "generated"))
	scriptPath := filepath.Join(dir, "generated", "result_script.py")
	m := NewMaterializer(scriptPath, outputs)

	res, err := m.Materialize("```python\n" + cleanScript + "\n```")
	require.NoError(t, err)

	assert.Equal(t, scriptPath, res.Path)
	assert.Equal(t, cleanScript, res.Code)

	data, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.Equal(t, res.Text, string(data))
	assert.Equal(t, cleanScript+ExportSnippet(outputs), string(data))
}

func TestMaterializeOverwritesAndCleansStaleOutputs(t *testing.T) {
	dir := t.TempDir()
	gen := filepath.Join(dir, "generated")
	outputs := testOutputs(gen)
	m := NewMaterializer(filepath.Join(gen, "result_script.py"), outputs)

	_, err := m.Materialize("first = 1")
	require.NoError(t, err)

	for _, p := range outputs.List() {
		require.NoError(t, os.WriteFile(p, []byte("stale"), 0644))
	}
	assert.Len(t, m.ExistingOutputs(), 3)

	res, err := m.Materialize("second = 2")
	require.NoError(t, err)
	assert.Empty(t, m.ExistingOutputs())

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "first = 1")
	assert.Contains(t, string(data), "second = 2")
}

func TestMaterializeWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "generated")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0644))

	m := NewMaterializer(filepath.Join(blocker, "result_script.py"), Outputs{})
	_, err := m.Materialize("x = 1")
	require.Error(t, err)

	var werr *WriteError
	assert.ErrorAs(t, err, &werr)
}
