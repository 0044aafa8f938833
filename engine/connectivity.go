package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/formfill/connectivity"
)

// RegisterConnectivity registers the formfill services in the router.
// Services: profile_get_active, autofill_trigger, suggest_field,
// rules_add, rules_remove.
func (e *Engine) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("profile_get_active", e.handleProfileGetActive)
	router.RegisterLocal("autofill_trigger", e.handleAutofillTrigger)
	router.RegisterLocal("suggest_field", e.handleSuggestField)
	router.RegisterLocal("rules_add", e.handleRulesAdd)
	router.RegisterLocal("rules_remove", e.handleRulesRemove)
}

// handleProfileGetActive returns the sanitized active profile.
// Payload: none required.
func (e *Engine) handleProfileGetActive(ctx context.Context, _ []byte) ([]byte, error) {
	prof, err := e.cfg.Profiles.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("profile_get_active: %w", err)
	}
	return json.Marshal(prof)
}

// handleAutofillTrigger runs the full pipeline on a page.
// Payload: {"url": "..."}
func (e *Engine) handleAutofillTrigger(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("autofill_trigger: unmarshal: %w", err)
	}

	res, err := e.Autofill(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// handleSuggestField generates suggestions for one field.
// Payload: {"url": "...", "selector": "..."}
func (e *Engine) handleSuggestField(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		URL      string `json:"url"`
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("suggest_field: unmarshal: %w", err)
	}

	res, err := e.Suggest(ctx, req.URL, req.Selector)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// handleRulesAdd creates a user rule.
// Payload: {"domain": "...", "field": "...", "selector": "...", "confidence": 0.95}
func (e *Engine) handleRulesAdd(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Domain     string  `json:"domain"`
		Field      string  `json:"field"`
		Selector   string  `json:"selector"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("rules_add: unmarshal: %w", err)
	}

	rule, err := e.rules.AddUserRule(ctx, req.Domain, req.Field, req.Selector, req.Confidence)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rule)
}

// handleRulesRemove deletes a user rule.
// Payload: {"rule_id": "...", "domain": "..."}
func (e *Engine) handleRulesRemove(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		RuleID string `json:"rule_id"`
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("rules_remove: unmarshal: %w", err)
	}

	removed, err := e.rules.RemoveUserRule(ctx, req.RuleID, req.Domain)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"removed": removed})
}
