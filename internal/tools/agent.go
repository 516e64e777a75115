package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/cache"
	"github.com/hearthd/voice-pipeline/internal/resilience"
)

// Dependency names used for circuit isolation. Each downstream gets its
// own breaker so an LLM outage does not trip control-plane calls.
const (
	DepLLM          = "llm"
	DepControlPlane = "control_plane"
)

// AgentConfig tunes the responder.
type AgentConfig struct {
	ContextTTL   time.Duration // how long fetched entity states stay fresh
	SystemPrompt string        // optional override for the default persona
}

const defaultSystemPrompt = "You are a voice assistant for a smart home. " +
	"Answer in one or two short spoken sentences. When the user asks to " +
	"change a device, call the call_service function instead of describing " +
	"the change. Use the provided device states to answer questions about " +
	"the home."

// ChatStreamer is the model surface the agent depends on.
type ChatStreamer interface {
	StreamChat(ctx context.Context, system, user string, emit func(chunk string)) (*Completion, error)
}

// Agent turns a finalized transcript into a reply. It fetches home
// context through the cache, streams a completion from the model, and
// executes any requested service calls, all behind the invoker so each
// downstream is retried and circuit-guarded.
type Agent struct {
	llm     ChatStreamer
	plane   *ControlPlane
	invoker *resilience.Invoker
	cache   *cache.Store
	cfg     AgentConfig
	logger  zerolog.Logger
}

// NewAgent wires the responder. cache may be nil, in which case entity
// states are fetched on every turn.
func NewAgent(llm ChatStreamer, plane *ControlPlane, invoker *resilience.Invoker, store *cache.Store, cfg AgentConfig, logger zerolog.Logger) *Agent {
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = 30 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &Agent{
		llm:     llm,
		plane:   plane,
		invoker: invoker,
		cache:   store,
		cfg:     cfg,
		logger:  logger.With().Str("component", "agent").Logger(),
	}
}

// Respond implements Responder.
func (a *Agent) Respond(ctx context.Context, req Request, emit func(chunk string)) (*Reply, error) {
	system := a.cfg.SystemPrompt
	if states := a.homeContext(ctx, req.RoomID); states != "" {
		system += "\n\nCurrent device states:\n" + states
	}

	raw, err := a.invoker.Invoke(ctx, DepLLM, func(ctx context.Context) (any, error) {
		return a.llm.StreamChat(ctx, system, req.Text, emit)
	})
	if err != nil {
		return nil, err
	}
	completion := raw.(*Completion)

	reply := &Reply{Text: completion.Text}
	for _, call := range completion.ToolCalls {
		reply.Tools = append(reply.Tools, a.execute(ctx, req, call))
	}
	return reply, nil
}

// execute runs one model-requested service call. Failures are recorded
// in the execution result rather than aborting the turn: the spoken
// reply has already streamed, so a dead switch should not eat it.
func (a *Agent) execute(ctx context.Context, req Request, call LLMToolCall) ToolExecution {
	exec := ToolExecution{Name: call.Name}

	if call.Name != "call_service" {
		a.logger.Warn().Str("tool", call.Name).Msg("Model requested unknown tool")
		return exec
	}

	var args struct {
		Domain  string         `json:"domain"`
		Service string         `json:"service"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		a.logger.Warn().Err(err).Str("arguments", call.Arguments).Msg("Malformed tool arguments")
		return exec
	}
	exec.Payload = map[string]any{"domain": args.Domain, "service": args.Service}
	if len(args.Data) > 0 {
		exec.Payload["data"] = args.Data
	}

	_, err := a.invoker.Invoke(ctx, DepControlPlane, func(ctx context.Context) (any, error) {
		return a.plane.CallService(ctx, args.Domain, args.Service, args.Data)
	})
	if err != nil {
		a.logger.Error().Err(err).
			Str("domain", args.Domain).
			Str("service", args.Service).
			Str("session_id", req.SessionID).
			Msg("Service call failed")
		return exec
	}

	exec.Success = true
	// The call mutated the home, so cached states for this room are stale.
	if a.cache != nil {
		a.cache.InvalidatePrefix(contextKeyPrefix(req.RoomID))
	}
	return exec
}

// homeContext returns a compact textual rendering of entity states for
// the prompt. Context fetch is best-effort: on failure the model simply
// answers without device state.
func (a *Agent) homeContext(ctx context.Context, roomID string) string {
	key := contextKeyPrefix(roomID) + "states"

	compute := func() (any, error) {
		return a.invoker.Invoke(ctx, DepControlPlane, func(ctx context.Context) (any, error) {
			return a.plane.FetchStates(ctx)
		})
	}

	var raw any
	var err error
	if a.cache != nil {
		raw, err = a.cache.GetOrCompute(key, a.cfg.ContextTTL, compute)
	} else {
		raw, err = compute()
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("Home context unavailable, answering without it")
		return ""
	}

	states, ok := raw.([]map[string]any)
	if !ok {
		return ""
	}
	return renderStates(states)
}

func contextKeyPrefix(roomID string) string {
	return fmt.Sprintf("context:%s:", roomID)
}

// renderStates flattens entity states into "entity_id: state" lines.
// Attribute blobs are dropped to keep the prompt small.
func renderStates(states []map[string]any) string {
	var b strings.Builder
	for _, st := range states {
		id, _ := st["entity_id"].(string)
		state, _ := st["state"].(string)
		if id == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", id, state)
	}
	return strings.TrimRight(b.String(), "\n")
}
