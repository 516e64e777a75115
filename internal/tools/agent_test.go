package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/cache"
	"github.com/hearthd/voice-pipeline/internal/resilience"
)

// fakeChat scripts one completion and records prompts.
type fakeChat struct {
	completion *Completion
	err        error

	mu      sync.Mutex
	systems []string
	users   []string
}

func (f *fakeChat) StreamChat(ctx context.Context, system, user string, emit func(string)) (*Completion, error) {
	f.mu.Lock()
	f.systems = append(f.systems, system)
	f.users = append(f.users, user)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if emit != nil {
		emit(f.completion.Text)
	}
	return f.completion, nil
}

// planeServer is a minimal control-plane stub: /api/states and service
// calls, with per-path hit counting.
type planeServer struct {
	*httptest.Server
	mu       sync.Mutex
	states   int
	services []string
}

func newPlaneServer(t *testing.T) *planeServer {
	t.Helper()
	ps := &planeServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		switch {
		case r.URL.Path == "/api/states":
			ps.states++
			json.NewEncoder(w).Encode([]map[string]any{
				{"entity_id": "light.kitchen", "state": "off"},
				{"entity_id": "climate.living", "state": "heat"},
			})
		case strings.HasPrefix(r.URL.Path, "/api/services/"):
			ps.services = append(ps.services, strings.TrimPrefix(r.URL.Path, "/api/services/"))
			json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func newTestAgent(t *testing.T, chat ChatStreamer, plane *ControlPlane, store *cache.Store) *Agent {
	t.Helper()
	registry := resilience.NewRegistry(5, time.Minute)
	invoker := resilience.NewInvoker(registry, resilience.RetryConfig{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}, zerolog.Nop())
	return NewAgent(chat, plane, invoker, store, AgentConfig{ContextTTL: time.Minute}, zerolog.Nop())
}

func TestAgent_RespondWithToolCall(t *testing.T) {
	ps := newPlaneServer(t)
	plane := NewControlPlane(ps.URL, "token", 5*time.Second, zerolog.Nop())

	chat := &fakeChat{completion: &Completion{
		Text: "Turning on the kitchen light.",
		ToolCalls: []LLMToolCall{{
			ID:        "call_1",
			Name:      "call_service",
			Arguments: `{"domain":"light","service":"turn_on","data":{"entity_id":"light.kitchen"}}`,
		}},
	}}

	agent := newTestAgent(t, chat, plane, cache.New())

	var chunks []string
	reply, err := agent.Respond(context.Background(), Request{
		RoomID:    "kitchen",
		SessionID: "s1",
		Text:      "turn on the kitchen light",
	}, func(c string) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if reply.Text != "Turning on the kitchen light." {
		t.Errorf("reply text = %q", reply.Text)
	}
	if len(chunks) == 0 {
		t.Errorf("expected streamed chunks")
	}
	if len(reply.Tools) != 1 || !reply.Tools[0].Success {
		t.Fatalf("tool execution = %+v, want one success", reply.Tools)
	}
	if len(ps.services) != 1 || ps.services[0] != "light/turn_on" {
		t.Errorf("control plane got %v, want [light/turn_on]", ps.services)
	}

	// Device states were injected into the system prompt.
	if !strings.Contains(chat.systems[0], "light.kitchen: off") {
		t.Errorf("system prompt lacks device states:\n%s", chat.systems[0])
	}
}

func TestAgent_ContextCachedAcrossTurns(t *testing.T) {
	ps := newPlaneServer(t)
	plane := NewControlPlane(ps.URL, "", 5*time.Second, zerolog.Nop())
	chat := &fakeChat{completion: &Completion{Text: "Two lights are off."}}

	agent := newTestAgent(t, chat, plane, cache.New())

	for i := 0; i < 3; i++ {
		if _, err := agent.Respond(context.Background(), Request{RoomID: "kitchen", Text: "status?"}, nil); err != nil {
			t.Fatalf("Respond %d: %v", i, err)
		}
	}
	if ps.states != 1 {
		t.Errorf("states fetched %d times, want 1 (cached)", ps.states)
	}
}

func TestAgent_MutationInvalidatesContext(t *testing.T) {
	ps := newPlaneServer(t)
	plane := NewControlPlane(ps.URL, "", 5*time.Second, zerolog.Nop())
	chat := &fakeChat{completion: &Completion{
		Text: "Done.",
		ToolCalls: []LLMToolCall{{
			Name:      "call_service",
			Arguments: `{"domain":"light","service":"turn_on"}`,
		}},
	}}

	agent := newTestAgent(t, chat, plane, cache.New())

	if _, err := agent.Respond(context.Background(), Request{RoomID: "kitchen", Text: "lights on"}, nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if _, err := agent.Respond(context.Background(), Request{RoomID: "kitchen", Text: "status?"}, nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	// The service call invalidated the cached states, so the second
	// turn refetched.
	if ps.states != 2 {
		t.Errorf("states fetched %d times, want 2 after invalidation", ps.states)
	}
}

func TestAgent_UnknownToolRecordedAsFailure(t *testing.T) {
	ps := newPlaneServer(t)
	plane := NewControlPlane(ps.URL, "", 5*time.Second, zerolog.Nop())
	chat := &fakeChat{completion: &Completion{
		Text:      "Hm.",
		ToolCalls: []LLMToolCall{{Name: "launch_rocket", Arguments: `{}`}},
	}}

	agent := newTestAgent(t, chat, plane, cache.New())

	reply, err := agent.Respond(context.Background(), Request{RoomID: "kitchen", Text: "do it"}, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(reply.Tools) != 1 || reply.Tools[0].Success {
		t.Fatalf("unknown tool should be recorded as failed, got %+v", reply.Tools)
	}
	if len(ps.services) != 0 {
		t.Errorf("unknown tool must not reach the control plane")
	}
}

func TestAgent_ModelErrorPropagates(t *testing.T) {
	ps := newPlaneServer(t)
	plane := NewControlPlane(ps.URL, "", 5*time.Second, zerolog.Nop())
	chat := &fakeChat{err: resilience.Transient(context.DeadlineExceeded)}

	agent := newTestAgent(t, chat, plane, cache.New())

	if _, err := agent.Respond(context.Background(), Request{RoomID: "kitchen", Text: "hello"}, nil); err == nil {
		t.Fatal("expected model failure to propagate")
	}
}
