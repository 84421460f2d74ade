// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize converts loosely shaped chat inputs into canonical
// datatypes.Message values.
//
// Inputs may be plain strings, numbers, maps decoded from JSON, structs,
// slices of any of these, or already canonical messages. The functions in
// this package never panic and never return errors: anything that cannot
// be interpreted structurally is stringified.
package normalize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

// Options controls defaults applied during normalization.
type Options struct {
	// DefaultRole is used when the input carries no string role.
	// Empty means datatypes.RoleUser.
	DefaultRole datatypes.Role

	// FallbackContent is used when the input carries no content.
	FallbackContent string
}

func (o Options) role() datatypes.Role {
	if o.DefaultRole == "" {
		return datatypes.RoleUser
	}
	return o.DefaultRole
}

// Normalize converts a single value into a Message.
//
// # Description
//
// Objects (maps, Message values, arbitrary structs) take their role from a
// string "role" field and their content from the "content" field via
// ExtractContent. Strings become a message with the default role. Other
// primitives are stringified.
//
// # Inputs
//
//   - value: Anything. nil is rejected.
//   - defaultRole: Role used when the value carries none. Empty means user.
//   - fallback: Content used when the value carries none.
//
// # Outputs
//
//   - datatypes.Message: The canonical message.
//   - bool: false when value is nil and should be dropped.
//
// # Examples
//
//	msg, _ := Normalize("hi", datatypes.RoleUser, "")
//	// msg == {Role: "user", Content: "hi"}
//
//	msg, _ = Normalize(map[string]any{"content": []any{"a", map[string]any{"text": "b"}}}, datatypes.RoleAssistant, "")
//	// msg == {Role: "assistant", Content: "a\nb"}
//
// # Limitations
//
//   - Structs are interpreted through their JSON encoding, so unexported
//     fields and fields tagged "-" are invisible.
func Normalize(value any, defaultRole datatypes.Role, fallback string) (datatypes.Message, bool) {
	opts := Options{DefaultRole: defaultRole, FallbackContent: fallback}
	if isNil(value) {
		return datatypes.Message{}, false
	}

	switch v := value.(type) {
	case datatypes.Message:
		return datatypes.NewMessage(roleOr(string(v.Role), opts), v.Content), true
	case *datatypes.Message:
		return datatypes.NewMessage(roleOr(string(v.Role), opts), v.Content), true
	case string:
		return datatypes.NewMessage(opts.role(), v), true
	case map[string]any:
		return fromObject(v, opts), true
	}

	if obj, ok := AsObject(value); ok {
		return fromObject(obj, opts), true
	}
	return datatypes.NewMessage(opts.role(), stringify(value)), true
}

// NormalizeMany converts a value into a list of messages.
//
// Slices and arrays are normalized element by element with nil elements
// dropped. Any other value yields a list of zero or one message.
func NormalizeMany(value any, opts Options) []datatypes.Message {
	out := []datatypes.Message{}
	if isNil(value) {
		return out
	}

	switch v := value.(type) {
	case []datatypes.Message:
		for _, m := range v {
			msg, _ := Normalize(m, opts.DefaultRole, opts.FallbackContent)
			out = append(out, msg)
		}
		return out
	case []any:
		for _, item := range v {
			if msg, ok := Normalize(item, opts.DefaultRole, opts.FallbackContent); ok {
				out = append(out, msg)
			}
		}
		return out
	case []map[string]any:
		for _, item := range v {
			if msg, ok := Normalize(item, opts.DefaultRole, opts.FallbackContent); ok {
				out = append(out, msg)
			}
		}
		return out
	case []string:
		for _, item := range v {
			out = append(out, datatypes.NewMessage(opts.role(), item))
		}
		return out
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if msg, ok := Normalize(rv.Index(i).Interface(), opts.DefaultRole, opts.FallbackContent); ok {
				out = append(out, msg)
			}
		}
		return out
	}

	if msg, ok := Normalize(value, opts.DefaultRole, opts.FallbackContent); ok {
		out = append(out, msg)
	}
	return out
}

// ExtractContent flattens a content value into a string.
//
// # Description
//
//   - string: returned as is.
//   - slice: each element is mapped (strings as is, objects with a "text"
//     field to that text, anything else to JSON) and joined with "\n".
//   - object with "text": the text, stringified.
//   - other object: its JSON encoding, or fallback if encoding fails.
//   - nil: fallback.
//   - other primitives: stringified.
func ExtractContent(value any, fallback string) string {
	if isNil(value) {
		return fallback
	}

	switch v := value.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, partText(item))
		}
		return strings.Join(parts, "\n")
	case []string:
		return strings.Join(v, "\n")
	case []datatypes.ContentPart:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, p.Text)
		}
		return strings.Join(parts, "\n")
	case datatypes.ContentPart:
		return v.Text
	case map[string]any:
		return objectContent(v, fallback)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, partText(rv.Index(i).Interface()))
		}
		return strings.Join(parts, "\n")
	}

	if obj, ok := AsObject(value); ok {
		return objectContent(obj, fallback)
	}
	return stringify(value)
}

// =============================================================================
// Helpers
// =============================================================================

func fromObject(obj map[string]any, opts Options) datatypes.Message {
	role, _ := obj["role"].(string)
	content, present := obj["content"]
	if !present {
		return datatypes.NewMessage(roleOr(role, opts), opts.FallbackContent)
	}
	return datatypes.NewMessage(roleOr(role, opts), ExtractContent(content, opts.FallbackContent))
}

func roleOr(role string, opts Options) datatypes.Role {
	if role == "" {
		return opts.role()
	}
	return datatypes.Role(role)
}

// partText maps one element of a content array.
func partText(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case datatypes.ContentPart:
		return v.Text
	case map[string]any:
		if text, ok := v["text"]; ok {
			return stringify(text)
		}
		return toJSON(v, "")
	}
	if obj, ok := AsObject(item); ok {
		if text, ok := obj["text"]; ok {
			return stringify(text)
		}
		return toJSON(obj, "")
	}
	return toJSON(item, stringify(item))
}

func objectContent(obj map[string]any, fallback string) string {
	if text, ok := obj["text"]; ok {
		return stringify(text)
	}
	return toJSON(obj, fallback)
}

// AsObject reports whether value is a map or struct that encodes to a JSON
// object and, if so, returns its decoded form.
func AsObject(value any) (map[string]any, bool) {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct && rv.Kind() != reflect.Map {
		return nil, false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func toJSON(value any, fallback string) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return fallback
	}
	return string(raw)
}

// stringify renders a primitive the way a user would expect to read it.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return toJSON(v, fmt.Sprint(v))
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32:
		return fmt.Sprint(v)
	case map[string]any, []any:
		return toJSON(v, fmt.Sprint(v))
	}
	return fmt.Sprint(value)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
