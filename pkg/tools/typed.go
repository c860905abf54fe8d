package tools

import (
	"context"
	"encoding/json"

	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// Validator is implemented by argument structs with checks beyond their
// field types.
type Validator interface {
	Validate() error
}

// Define builds a Definition whose schema is reflected from T and whose
// handler decodes the raw argument map into T.
func Define[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) Definition {
	return Definition{
		Tool: llm.Tool{
			Name:        name,
			Description: description,
			Schema:      SchemaFor[T](),
		},
		Handler: Typed(fn),
	}
}

// Typed adapts a typed function to a Handler. Missing required keys and
// shape mismatches are reported as tool_args errors.
func Typed[T any](fn func(ctx context.Context, args T) (string, error)) Handler {
	required := requiredKeys(SchemaFor[T]())
	return func(ctx context.Context, raw map[string]any) (string, error) {
		for _, key := range required {
			if v, ok := raw[key]; !ok || v == nil {
				return "", errorsx.Errorf(errorsx.ReasonToolArgs, "invalid arguments: %s is required", key)
			}
		}
		var args T
		if err := decodeArgs(raw, &args); err != nil {
			return "", errorsx.Errorf(errorsx.ReasonToolArgs, "invalid arguments: %w", err)
		}
		if v, ok := any(&args).(Validator); ok {
			if err := v.Validate(); err != nil {
				return "", errorsx.Errorf(errorsx.ReasonToolArgs, "invalid arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
}

func requiredKeys(schema map[string]any) []string {
	list, _ := schema["required"].([]any)
	keys := make([]string, 0, len(list))
	for _, k := range list {
		if name, ok := k.(string); ok {
			keys = append(keys, name)
		}
	}
	return keys
}

func decodeArgs(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// SchemaFor reflects a flat JSON-Schema object for T. Fields without
// omitempty are required. Types the reflector cannot describe get an empty
// object schema.
func SchemaFor[T any]() (out map[string]any) {
	empty := func() map[string]any {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	defer func() {
		if recover() != nil {
			out = empty()
		}
	}()
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
		Anonymous:                 true,
	}
	data, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		return empty()
	}
	out = map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil || out["type"] != "object" {
		return empty()
	}
	for _, key := range []string{"$schema", "$id", "$defs", "additionalProperties"} {
		delete(out, key)
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// NoArgs is the argument type of tools that take no parameters.
type NoArgs struct{}
