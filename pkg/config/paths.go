package config

import "path/filepath"

// Canonical names of the files cadforge reads and writes under generated/.
const (
	GeneratedDir     = "generated"
	ScriptFileName   = "result_script.py"
	LogFileName      = "last_run_log.txt"
	DocumentFileName = "model.FCStd"
	MeshFileName     = "model.obj"
	PreviewFileName  = "preview.png"
	ReportJSONName   = "build_report.json"
	ReportMDName     = "build_summary.md"
)

// Paths holds the absolute locations of every canonical artifact.
type Paths struct {
	Root         string
	GeneratedDir string
	Script       string
	Log          string
	Document     string
	Mesh         string
	Preview      string
	ReportJSON   string
	ReportMD     string
}

// NewPaths derives the canonical layout from a project root.
func NewPaths(root string) Paths {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	gen := filepath.Join(root, GeneratedDir)
	return Paths{
		Root:         root,
		GeneratedDir: gen,
		Script:       filepath.Join(gen, ScriptFileName),
		Log:          filepath.Join(gen, LogFileName),
		Document:     filepath.Join(gen, DocumentFileName),
		Mesh:         filepath.Join(gen, MeshFileName),
		Preview:      filepath.Join(gen, PreviewFileName),
		ReportJSON:   filepath.Join(gen, ReportJSONName),
		ReportMD:     filepath.Join(gen, ReportMDName),
	}
}

// Outputs returns the artifacts the export snippet produces.
func (p Paths) Outputs() []string {
	return []string{p.Document, p.Mesh, p.Preview}
}

// Resolve joins a possibly relative path onto the project root.
func (p Paths) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Root, path)
}

// Paths returns the canonical layout for this configuration.
func (c *Config) Paths() Paths {
	return NewPaths(c.ProjectRoot)
}

// EngineWorkDir returns the directory the engine runs in.
func (c *Config) EngineWorkDir() string {
	p := c.Paths()
	if c.Engine.WorkDir == "" {
		return p.Root
	}
	return p.Resolve(c.Engine.WorkDir)
}
