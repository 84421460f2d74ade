// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package request turns the windowed conversation plus context into the
// outbound chat-completion payload.
package request

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/normalize"
)

// UserContextLabel prefixes structured user context.
const UserContextLabel = "User context:\n"

// Assemble builds the context messages that precede the conversation.
//
// # Description
//
// When userContext is present it becomes one leading system message:
// strings are used as is, objects and lists are rendered as
// "User context:\n" followed by two-space indented JSON, and other values
// are stringified. The retrieval messages follow in order.
//
// The result is sent with the request only. It is never stored in the
// conversation and does not count against the history limit.
func Assemble(userContext any, retrieved []datatypes.Message) []datatypes.Message {
	out := make([]datatypes.Message, 0, len(retrieved)+1)
	if text, ok := FormatUserContext(userContext); ok {
		out = append(out, datatypes.NewMessage(datatypes.RoleSystem, text))
	}
	return append(out, retrieved...)
}

// FormatUserContext renders user context for the system prompt. It
// returns false when there is nothing to render.
func FormatUserContext(userContext any) (string, bool) {
	if userContext == nil {
		return "", false
	}
	switch v := userContext.(type) {
	case string:
		return v, v != ""
	case fmt.Stringer:
		return v.String(), true
	}

	kind := reflect.Indirect(reflect.ValueOf(userContext)).Kind()
	switch kind {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		if isNilValue(userContext) {
			return "", false
		}
		pretty, err := json.MarshalIndent(userContext, "", "  ")
		if err != nil {
			return UserContextLabel + fmt.Sprint(userContext), true
		}
		return UserContextLabel + string(pretty), true
	case reflect.Invalid:
		return "", false
	}
	return normalize.ExtractContent(userContext, ""), true
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
