package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTemplate is written by `cmd2ai config init`.
const DefaultTemplate = `# cmd2ai configuration
# Values can reference environment variables as ${VAR}.

endpoint: https://openrouter.ai/api/v1/chat/completions
# api_key: ${OPENROUTER_API_KEY}
model: openai/gpt-5
# system_prompt: |
#   Be concise. I'm an experienced developer.
stream_timeout: 30
verbose: false
max_tool_rounds: 10

reasoning:
  enabled: false
  # effort: medium        # high, medium or low
  # max_tokens: 2000
  # exclude: false

theme:
  preset: gruvbox         # gruvbox, dracula, nord, solarized, monokai or classic
  # code_style: monokai   # any chroma style; overrides the preset

session:
  enabled: true
  expiry_minutes: 30
  max_pairs: 3

tools:
  enabled: true

local_tools:
  enabled: true
  # base_dir: ~           # tools cannot reach outside this directory
  max_file_size_mb: 10
  policy:
    path_argument_names: "{path,*_path,file,*_file,dir,*_dir,directory}"
    allow_absolute_paths: false
    deny_patterns:
      - "**/.ssh/**"
      - "**/.env"
  tools:
    - name: read_file
      enabled: true

    - name: list_directory
      type: command
      description: List the files in a directory below the base directory.
      command: ls
      args: ["-la", "{{path}}"]
      stdin_json: false
      input_schema:
        type: object
        properties:
          path:
            type: string
            description: Directory to list, relative to the base directory
        required: [path]

    - name: word_count
      enabled: false
      type: script
      description: Count the words in a text.
      interpreter: python3
      script: |
        import json, sys
        args = json.load(sys.stdin)
        print(len(args["text"].split()))
      input_schema:
        type: object
        properties:
          text:
            type: string
        required: [text]

# mcp:
#   servers:
#     filesystem:
#       command: npx
#       args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
#     remote:
#       url: https://example.com/mcp
#       headers:
#         Authorization: Bearer ${MCP_TOKEN}
`

// WriteDefault writes DefaultTemplate to path. An existing file is only
// replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(DefaultTemplate), 0600)
}
