package tools

import (
	"net/http"
	"os"
	"strings"
	"time"
)

// ReadFileToolName is the builtin file reader.
const ReadFileToolName = "read_file"

const defaultMaxFileSizeMB = 10

// NewReadFileSpec builds the read_file builtin. Files larger than
// maxFileSizeMB are refused before they are read.
func NewReadFileSpec(policy *SecurityPolicy, maxFileSizeMB int64) (*ToolSpec, error) {
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = defaultMaxFileSizeMB
	}
	maxBytes := maxFileSizeMB * 1024 * 1024

	spec := &ToolSpec{
		Name:        ReadFileToolName,
		Description: "Read and return the contents of a file. Limited to files within the base directory and under the size limit.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to read (relative to base directory)",
				},
			},
			"required":             []any{"path"},
			"additionalProperties": false,
		},
		Kind:              KindBuiltin,
		Source:            "builtin",
		Policy:            policy,
		RestrictToBaseDir: true,
		Timeout:           time.Duration(defaultTimeoutSecs) * time.Second,
		MaxOutputBytes:    defaultMaxOutputBytes,
		Validations:       map[string]Validation{"path": {Kind: ValidatePath}},
	}
	spec.builtin = func(inv *Invocation) (string, bool, error) {
		return readFile(inv, maxBytes)
	}
	if err := spec.compileSchema(); err != nil {
		return nil, err
	}
	return spec, nil
}

func readFile(inv *Invocation, maxBytes int64) (string, bool, error) {
	shown, _ := inv.Args["path"].(string)
	path, ok := inv.ResolvedPaths["path"]
	if !ok {
		return "", false, NewToolError(ErrInvalidParams, "path is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, NewToolErrorf(ErrFileNotFound, "File not found: %s", shown)
		}
		return "", false, NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	}
	if !info.Mode().IsRegular() {
		return "", false, NewToolErrorf(ErrInvalidParams, "Path is not a file: %s", shown)
	}
	if info.Size() > maxBytes {
		return "", false, NewToolErrorf(ErrFileTooLarge, "File too large: %d bytes (max: %d bytes)", info.Size(), maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	}
	if isBinaryContent(data) {
		return "", false, NewToolErrorf(ErrBinaryFile, "%s appears to be a binary file", shown)
	}

	c := newCollector(inv.Spec.MaxOutputBytes)
	_, _ = c.Write(data)
	return c.String(), c.truncated, nil
}

// isBinaryContent detects if content is binary using http.DetectContentType.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}

	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") {
		return false
	}
	// application/json, application/xml, etc. are text-like
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}

	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
