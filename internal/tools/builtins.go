package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/voxgateway/agent/internal/identity"
	"github.com/voxgateway/agent/internal/session"
)

// DatetimeTool reports the current time in ISO-8601, grounding end-to-end
// scenario 2 ("what time is it?").
type DatetimeTool struct {
	Now func() time.Time
}

func (t *DatetimeTool) Name() string        { return "get_datetime" }
func (t *DatetimeTool) Description() string { return "Returns the current date and time in ISO-8601." }
func (t *DatetimeTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *DatetimeTool) Timeout() time.Duration { return 0 }
func (t *DatetimeTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return now().UTC().Format(time.RFC3339), nil
}

// ArithmeticTool evaluates a tiny expression grammar: "<a> <op> <b>".
type ArithmeticTool struct{}

func (t *ArithmeticTool) Name() string { return "arithmetic" }
func (t *ArithmeticTool) Description() string {
	return "Evaluates a simple arithmetic expression of two numbers."
}
func (t *ArithmeticTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a":  map[string]any{"type": "number"},
			"b":  map[string]any{"type": "number"},
			"op": map[string]any{"type": "string", "enum": []any{"+", "-", "*", "/"}},
		},
		"required": []any{"a", "b", "op"},
	}
}
func (t *ArithmeticTool) Timeout() time.Duration { return 0 }
func (t *ArithmeticTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	a, _ := args["a"].(float64)
	b, _ := args["b"].(float64)
	op, _ := args["op"].(string)
	switch op {
	case "+":
		return fmt.Sprintf("%g", a+b), nil
	case "-":
		return fmt.Sprintf("%g", a-b), nil
	case "*":
		return fmt.Sprintf("%g", a*b), nil
	case "/":
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		return fmt.Sprintf("%g", a/b), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", op)
	}
}

// UpdateUserProfileTool mutates the persisted user profile artifact.
type UpdateUserProfileTool struct {
	Store *identity.Store
}

func (t *UpdateUserProfileTool) Name() string { return "update_user_profile" }
func (t *UpdateUserProfileTool) Description() string {
	return "Overwrites the persisted user profile text with the given content."
}
func (t *UpdateUserProfileTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"content": map[string]any{"type": "string"}},
		"required":   []any{"content"},
	}
}
func (t *UpdateUserProfileTool) Timeout() time.Duration { return 0 }
func (t *UpdateUserProfileTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	if err := t.Store.OverwriteProfile(content); err != nil {
		return "", fmt.Errorf("write profile: %w", err)
	}
	return "profile updated", nil
}

// SkillToggleTool implements activate_skill / deactivate_skill (§4.5): it
// mutates session state directly rather than returning computed data.
type SkillToggleTool struct {
	Activate bool
	Sess     *session.Session
}

func (t *SkillToggleTool) Name() string {
	if t.Activate {
		return "activate_skill"
	}
	return "deactivate_skill"
}
func (t *SkillToggleTool) Description() string {
	if t.Activate {
		return "Activates a named skill for the remainder of the session."
	}
	return "Deactivates a named skill."
}
func (t *SkillToggleTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}
}
func (t *SkillToggleTool) Timeout() time.Duration { return 0 }
func (t *SkillToggleTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return "", fmt.Errorf("missing skill name")
	}
	if t.Activate {
		t.Sess.ActivateSkill(name)
		return fmt.Sprintf("activated %s", name), nil
	}
	t.Sess.DeactivateSkill(name)
	return fmt.Sprintf("deactivated %s", name), nil
}
