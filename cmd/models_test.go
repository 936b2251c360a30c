package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/samsaffron/cmd2ai/internal/llm"
	"github.com/samsaffron/cmd2ai/internal/testutil"
)

const modelsBody = `{"object":"list","data":[
	{"id":"openai/gpt-5","object":"model","created":1754000000,"owned_by":"openai"},
	{"id":"anthropic/claude-sonnet-4","object":"model","created":1747000000,"owned_by":"anthropic"}
]}`

func TestModels_ListsEndpointModels(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.ChatReply{Body: modelsBody})
	testEnv(t, srv.Endpoint())

	stdout, _, err := execute(t, "models")
	if err != nil {
		t.Fatal(err)
	}
	claude := strings.Index(stdout, "anthropic/claude-sonnet-4")
	gpt := strings.Index(stdout, "openai/gpt-5")
	if claude < 0 || gpt < 0 || claude > gpt {
		t.Errorf("models not listed in id order:\n%s", stdout)
	}
	if h := srv.Calls()[0].Header.Get("Authorization"); h != "Bearer sk-test" {
		t.Errorf("authorization = %q", h)
	}

	stdout, _, err = execute(t, "models", "--json", "--filter", "GPT")
	if err != nil {
		t.Fatal(err)
	}
	var models []llm.ModelInfo
	if err := json.Unmarshal([]byte(stdout), &models); err != nil {
		t.Fatalf("invalid json %q: %v", stdout, err)
	}
	if len(models) != 1 || models[0].ID != "openai/gpt-5" || models[0].OwnedBy != "openai" {
		t.Errorf("models = %+v", models)
	}
}

func TestPrintModels_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := printModels(&buf, "http://x", nil, false); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "No models found.\n" {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := printModels(&buf, "http://x", nil, true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("json output = %q", buf.String())
	}
}
