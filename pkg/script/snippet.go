package script

import (
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultDocumentLine is prepended to scripts that never create a document.
// It is a single self-contained statement so it can run before any import.
const DefaultDocumentLine = `__import__("FreeCAD").newDocument("Model")`

// Diagnostics written by the export snippet. They go to stderr so the
// outcome classifier sees them.
const (
	MsgNoDocument   = "cadforge: no active document to export"
	MsgNoShapes     = "cadforge: no shapes to export"
	MsgExportFailed = "cadforge: export failed"
)

// Outputs are the artifact paths the export snippet writes.
type Outputs struct {
	Document string // native FreeCAD document (.FCStd)
	Mesh     string // mesh export (.obj)
	Preview  string // screenshot, only written when a GUI is available
}

// List returns the output paths in a fixed order.
func (o Outputs) List() []string {
	return []string{o.Document, o.Mesh, o.Preview}
}

const snippetTemplate = `

# --- cadforge export ---
import sys as _cf_sys
import FreeCAD as _cf_App

_cf_doc = _cf_App.ActiveDocument
if _cf_doc is None:
    _cf_sys.stderr.write("{{no_document}}\n")
else:
    try:
        import FreeCADGui as _cf_Gui
        if getattr(_cf_Gui, "ActiveDocument", None) is not None:
            _cf_view = _cf_Gui.ActiveDocument.ActiveView
            _cf_view.viewAxometric()
            _cf_view.fitAll()
            _cf_view.saveImage({{preview}}, 800, 600, "White")
    except Exception:
        pass
    try:
        _cf_doc.recompute()
        _cf_doc.saveAs({{document}})
        _cf_shapes = [o for o in _cf_doc.Objects
                      if not o.InList and hasattr(o, "Shape") and not o.Shape.isNull()]
        if not _cf_shapes:
            _cf_sys.stderr.write("{{no_shapes}}\n")
        else:
            import Mesh as _cf_Mesh
            _cf_Mesh.export(_cf_shapes, {{mesh}})
    except Exception as _cf_err:
        _cf_sys.stderr.write("{{export_failed}}: %s\n" % _cf_err)
`

// ExportSnippet returns the fixed block appended to every materialized
// script. It saves the active document, exports top-level shapes as a mesh
// and, when a GUI is present, fits the view and saves a preview image. It
// never raises; problems are reported on stderr.
func ExportSnippet(out Outputs) string {
	r := strings.NewReplacer(
		"{{document}}", pyString(out.Document),
		"{{mesh}}", pyString(out.Mesh),
		"{{preview}}", pyString(out.Preview),
		"{{no_document}}", MsgNoDocument,
		"{{no_shapes}}", MsgNoShapes,
		"{{export_failed}}", MsgExportFailed,
	)
	return r.Replace(snippetTemplate)
}

// pyString renders path as a Python string literal. Go's quoting escapes
// are a subset of Python's, and forward slashes work on every platform.
func pyString(path string) string {
	return strconv.Quote(filepath.ToSlash(path))
}
