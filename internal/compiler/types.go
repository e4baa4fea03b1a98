package compiler

import "github.com/ferdiu/latex-server/internal/runner"

const (
	// MainFilename is the fixed entry filename the engine is pointed at.
	MainFilename = "main.tex"

	// ArtifactFilename is the output the engine derives from the entry file.
	ArtifactFilename = "main.pdf"
)

// FileEntry is the canonical form of one auxiliary request file. The boundary
// layer resolves the wire formats (bare string or structured object, base64
// for binary data) into this before the core ever sees it.
type FileEntry struct {
	Content []byte
	Binary  bool
}

// Request is a fully normalized compilation request. Main is always text; the
// keys of Files are workspace-relative paths.
type Request struct {
	Main  string
	Files map[string]FileEntry
}

// Outcome is the result of a full compilation run. A nil Artifact signals
// failure to the caller regardless of exit codes; Log is then the caller's
// only diagnostic.
type Outcome struct {
	Log              string
	Artifact         []byte
	EnginePasses     int
	BibliographyRuns int
	Records          []runner.PassRecord
}
