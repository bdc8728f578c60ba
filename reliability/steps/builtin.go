package steps

import (
	"context"
	"fmt"
	"maps"
	"strings"
)

// Builtin action names. Some have an alias kept for older story files.
const (
	ActionUserInput = "user.input"
	ActionAPICall   = "api.call"
	ActionHTTPCall  = "http_call"
	ActionJSONPatch = "json_patch"
)

// RegisterBuiltins adds the actions that need no external service.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Handler{
		ActionUserInput: HandlerFunc(userInput),
		ActionAPICall:   HandlerFunc(apiCall),
		ActionHTTPCall:  HandlerFunc(apiCall),
		ActionJSONPatch: HandlerFunc(jsonPatch),
	}

	for _, name := range []string{ActionUserInput, ActionAPICall, ActionHTTPCall, ActionJSONPatch} {
		if err := r.Register(name, builtins[name]); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}

	return nil
}

// RequestPayload returns payload, else params["payload"], else params.
func RequestPayload(params, payload map[string]any) map[string]any {
	if len(payload) > 0 {
		return payload
	}

	if nested, ok := params["payload"].(map[string]any); ok {
		return nested
	}

	if params == nil {
		return map[string]any{}
	}

	return params
}

func userInput(_ context.Context, params, payload map[string]any, _ ActionContext) (Result, error) {
	if len(payload) > 0 {
		return Result{Status: "completed", Output: map[string]any{"data": payload}}, nil
	}

	return Result{Status: "awaiting_input", Output: map[string]any{"prompt": params["prompt"]}}, nil
}

func apiCall(_ context.Context, params, payload map[string]any, _ ActionContext) (Result, error) {
	return Result{Status: "called", Output: map[string]any{"data": RequestPayload(params, payload)}}, nil
}

// jsonPatch applies flat add, replace and remove operations to
// payload.document. Paths address top-level keys only.
func jsonPatch(_ context.Context, params, payload map[string]any, _ ActionContext) (Result, error) {
	body := RequestPayload(params, payload)

	document, okDoc := body["document"].(map[string]any)
	operations, okOps := body["operations"].([]any)

	if !okDoc || !okOps {
		return Result{Status: "patched", Output: map[string]any{"data": body}}, nil
	}

	patched := maps.Clone(document)

	for _, raw := range operations {
		op, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		path := strings.Trim(fmt.Sprint(op["path"]), "/")
		if path == "" || op["path"] == nil {
			continue
		}

		switch op["op"] {
		case "add", "replace":
			patched[path] = op["value"]
		case "remove":
			delete(patched, path)
		}
	}

	return Result{Status: "patched", Output: map[string]any{"data": patched}}, nil
}
