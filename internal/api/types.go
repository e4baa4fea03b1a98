package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ferdiu/latex-server/internal/compiler"
)

// FileValue is one auxiliary file at the wire boundary. It accepts either a
// bare JSON string (legacy shorthand for a text file) or the structured form
// {"data": "...", "binary": true|false}, where binary data is base64-encoded.
type FileValue struct {
	Data   []byte
	Binary bool
}

func (f *FileValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.Data = []byte(s)
		f.Binary = false
		return nil
	}

	var obj struct {
		Data   string `json:"data"`
		Binary bool   `json:"binary"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("file value must be a string or {data, binary} object: %w", err)
	}
	if obj.Binary {
		decoded, err := base64.StdEncoding.DecodeString(obj.Data)
		if err != nil {
			return fmt.Errorf("decode base64 file data: %w", err)
		}
		f.Data = decoded
		f.Binary = true
		return nil
	}
	f.Data = []byte(obj.Data)
	f.Binary = false
	return nil
}

// CompileRequest is the POST /compile body. Besides "main" and "files", any
// extra top-level field with a string value is treated as an additional file
// keyed by the field name, mirroring the legacy request shape.
type CompileRequest struct {
	Main  string
	Files map[string]FileValue
}

func (c *CompileRequest) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	mainRaw, ok := raw["main"]
	if !ok {
		return fmt.Errorf("main is required")
	}
	if err := json.Unmarshal(mainRaw, &c.Main); err != nil {
		return fmt.Errorf("main must be a string: %w", err)
	}

	c.Files = make(map[string]FileValue)
	if filesRaw, ok := raw["files"]; ok {
		if err := json.Unmarshal(filesRaw, &c.Files); err != nil {
			return fmt.Errorf("invalid files mapping: %w", err)
		}
	}

	// Extra string-valued fields become files; non-string extras are ignored.
	for key, val := range raw {
		if key == "main" || key == "files" {
			continue
		}
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			continue
		}
		c.Files[key] = FileValue{Data: []byte(s)}
	}
	return nil
}

// ToCompiler converts the wire request into the core's representation.
func (c *CompileRequest) ToCompiler() compiler.Request {
	files := make(map[string]compiler.FileEntry, len(c.Files))
	for name, fv := range c.Files {
		files[name] = compiler.FileEntry{Content: fv.Data, Binary: fv.Binary}
	}
	return compiler.Request{Main: c.Main, Files: files}
}

// CompileResponse is the synchronous compilation result. File is the
// base64-encoded artifact, or an empty string when none was produced.
type CompileResponse struct {
	Log  string `json:"log"`
	File string `json:"file"`
}

// RootResponse answers the unauthenticated GET / health check.
type RootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
}

// JobAcceptedResponse acknowledges POST /jobs.
type JobAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResponse is the GET /jobs/{jobID} projection. File carries the
// base64-encoded artifact once the job has succeeded.
type JobResponse struct {
	JobID            string     `json:"job_id"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Passes           int        `json:"passes,omitempty"`
	BibliographyRuns int        `json:"bib_runs,omitempty"`
	Log              string     `json:"log,omitempty"`
	File             string     `json:"file,omitempty"`
	ArtifactDigest   string     `json:"artifact_digest,omitempty"`
	Error            string     `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
