package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/samsaffron/cmd2ai/internal/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Enabled: true, Path: filepath.Join(t.TempDir(), "sessions.db")})
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func conversation() []llm.Message {
	return []llm.Message{
		llm.SystemText("Today's date is Monday, January 2, 2006."),
		llm.UserText("what is in notes.txt?"),
		{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "read_file", Arguments: json.RawMessage(`{"path":"notes.txt"}`)}},
		},
		{Role: llm.RoleTool, ToolCallID: "call_1", Name: "read_file", Content: "milk"},
		llm.AssistantText("It says milk.", "looked at the file"),
	}
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := New("openai/gpt-5")
	sess.Messages = conversation()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Model != "openai/gpt-5" || loaded.Summary != "what is in notes.txt?" {
		t.Errorf("loaded = %+v", loaded)
	}
	if !reflect.DeepEqual(loaded.Messages, sess.Messages) {
		t.Errorf("messages round trip:\n got %+v\nwant %+v", loaded.Messages, sess.Messages)
	}
	if loaded.UpdatedAt.UnixMilli() != sess.UpdatedAt.UnixMilli() {
		t.Errorf("updated_at = %v, want %v", loaded.UpdatedAt, sess.UpdatedAt)
	}

	// Saving again replaces the message list.
	sess.Messages = sess.Messages[:2]
	sess.UpdatedAt = sess.UpdatedAt.Add(time.Minute)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, err = store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != 2 {
		t.Errorf("messages after resave = %d, want 2", len(loaded.Messages))
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_LatestListDeleteClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("latest on empty db: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i, prompt := range []string{"first", "second", "third"} {
		sess := New("m")
		sess.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		sess.Messages = []llm.Message{llm.UserText(prompt)}
		if err := store.Save(ctx, sess); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, sess.ID)
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != ids[2] {
		t.Errorf("latest = %s, want %s", latest.ID, ids[2])
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Summary != "third" || list[1].Summary != "second" || list[0].MessageCount != 1 {
		t.Errorf("list = %+v", list)
	}

	if err := store.Delete(ctx, ids[2]); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, ids[2]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}

	n, err := store.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("clear = %d, %v", n, err)
	}
	if _, err := store.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("latest after clear: %v", err)
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	sess := New("m")
	sess.Messages = []llm.Message{llm.UserText("hi")}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if _, err := store.Get(ctx, sess.ID); err != nil {
		t.Errorf("get after reopen: %v", err)
	}
}

func TestNewStore_DisabledIsNoop(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*NoopStore); !ok {
		t.Fatalf("store = %T, want *NoopStore", store)
	}
	if _, err := store.Latest(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("noop latest: %v", err)
	}
}
