package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Migrate upgrades a raw config document through the known schema versions:
// 1.0 -> 1.1 -> 1.2 -> 1.3. Documents without a version field are treated as
// 1.0. The returned bytes unmarshal into the current types.Config.
func Migrate(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config is not valid JSON: %w", err)
	}

	version := 1.0
	if v, ok := doc["version"].(float64); ok {
		version = v
	}

	for _, step := range migrations {
		if version < step.to {
			step.apply(doc)
			version = step.to
		}
	}
	doc["version"] = version

	return json.Marshal(doc)
}

type migration struct {
	to    float64
	apply func(doc map[string]any)
}

var migrations = []migration{
	// 1.1 split combined "provider/model" strings into separate fields.
	{to: 1.1, apply: func(doc map[string]any) {
		if model, ok := doc["model"].(string); ok && strings.Contains(model, "/") {
			parts := strings.SplitN(model, "/", 2)
			if _, exists := doc["provider"]; !exists {
				doc["provider"] = parts[0]
			}
			doc["model"] = parts[1]
		}
	}},

	// 1.2 replaced the allowedTools/deniedTools arrays with the rule-list
	// permissions object.
	{to: 1.2, apply: func(doc map[string]any) {
		allowed, hasAllowed := doc["allowedTools"].([]any)
		denied, hasDenied := doc["deniedTools"].([]any)
		if !hasAllowed && !hasDenied {
			return
		}

		perms, _ := doc["permissions"].(map[string]any)
		if perms == nil {
			perms = map[string]any{}
		}
		if hasAllowed {
			perms["allow"] = allowed
			delete(doc, "allowedTools")
		}
		if hasDenied {
			perms["deny"] = denied
			delete(doc, "deniedTools")
		}
		doc["permissions"] = perms
	}},

	// 1.3 renamed "mode" to "permissionMode" and its camelCase values to
	// kebab-case.
	{to: 1.3, apply: func(doc map[string]any) {
		mode, ok := doc["mode"].(string)
		if !ok {
			return
		}
		delete(doc, "mode")
		switch mode {
		case "autoEdit":
			mode = "auto-edit"
		}
		if _, exists := doc["permissionMode"]; !exists {
			doc["permissionMode"] = mode
		}
	}},
}
