// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package request

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
)

type profile struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email"`
	Plan   string `json:"plan"`
}

func TestAssemble(t *testing.T) {
	t.Parallel()

	retrieved := []datatypes.Message{datatypes.NewMessage(datatypes.RoleSystem, "doc")}

	t.Run("object context is labeled pretty JSON", func(t *testing.T) {
		t.Parallel()
		got := Assemble(map[string]any{"name": "Ada", "tier": 2}, retrieved)
		require.Len(t, got, 2)
		assert.Equal(t, datatypes.RoleSystem, got[0].Role)
		assert.Equal(t, "User context:\n{\n  \"name\": \"Ada\",\n  \"tier\": 2\n}", got[0].Content)
		assert.Equal(t, "doc", got[1].Content)
	})

	t.Run("string context is used as is", func(t *testing.T) {
		t.Parallel()
		got := Assemble("prefers metric units", nil)
		assert.Equal(t, []datatypes.Message{datatypes.NewMessage(datatypes.RoleSystem, "prefers metric units")}, got)
	})

	t.Run("number context is stringified", func(t *testing.T) {
		t.Parallel()
		got := Assemble(7, nil)
		assert.Equal(t, "7", got[0].Content)
	})

	t.Run("no context keeps retrieval only", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, retrieved, Assemble(nil, retrieved))
		assert.Equal(t, retrieved, Assemble("", retrieved))
	})

	t.Run("struct context", func(t *testing.T) {
		t.Parallel()
		got := Assemble(profile{Email: "a@b.c", Plan: "pro"}, nil)
		assert.Equal(t, "User context:\n{\n  \"email\": \"a@b.c\",\n  \"plan\": \"pro\"\n}", got[0].Content)
	})
}

func TestResolveUser(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "userId wins", in: map[string]any{"userId": "u1", "id": "i1", "email": "e"}, want: "u1"},
		{name: "id next", in: map[string]any{"id": float64(42), "email": "e"}, want: "42"},
		{name: "null userId falls through", in: map[string]any{"userId": nil, "email": "e@x"}, want: "e@x"},
		{name: "empty string omitted", in: map[string]any{"userId": ""}, want: ""},
		{name: "struct", in: profile{Email: "s@x"}, want: "s@x"},
		{name: "not an object", in: "someone", want: ""},
		{name: "nil", in: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolveUser(tt.in))
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	req := Build(Params{
		ContextMessages: []datatypes.Message{datatypes.NewMessage(datatypes.RoleSystem, "ctx")},
		History: []datatypes.Message{
			datatypes.NewMessage(datatypes.RoleSystem, "S"),
			datatypes.NewMessage(datatypes.RoleUser, "hi"),
		},
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		TopP:        0.9,
		UserContext: map[string]any{"id": "abc"},
		Stream:      true,
	})

	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, []datatypes.WireMessage{
		{Role: datatypes.RoleSystem, Content: "ctx"},
		{Role: datatypes.RoleSystem, Content: "S"},
		{Role: datatypes.RoleUser, Content: "hi"},
	}, req.Messages)
	assert.Equal(t, "abc", req.User)
	assert.True(t, req.Stream)
	require.NoError(t, req.Validate())

	body, err := req.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"model":"gpt-4o-mini",
		"messages":[{"role":"system","content":"ctx"},{"role":"system","content":"S"},{"role":"user","content":"hi"}],
		"temperature":0.7,
		"top_p":0.9,
		"user":"abc",
		"stream":true
	}`, string(body))
}

func TestBuild_OmitsUnknownUser(t *testing.T) {
	t.Parallel()

	req := Build(Params{
		History: []datatypes.Message{datatypes.NewMessage(datatypes.RoleUser, "hi")},
		Model:   "m",
	})
	body, err := req.Marshal()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.NotContains(t, fields, "user")
	assert.Contains(t, fields, "messages")
}

func TestOutboundRequest_ValidateAcceptsLargePayloads(t *testing.T) {
	t.Parallel()

	history := make([]datatypes.Message, 0, 1000)
	for i := 0; i < 1000; i++ {
		history = append(history, datatypes.NewMessage(datatypes.RoleUser, "turn"))
	}
	history = append(history, datatypes.NewMessage(datatypes.RoleUser, strings.Repeat("x", 512*1024)))

	req := Build(Params{History: history, Model: "m", Temperature: 0.7, TopP: 1})
	assert.NoError(t, req.Validate())
}

func TestOutboundRequest_Validate(t *testing.T) {
	t.Parallel()

	req := Build(Params{Model: "", Temperature: 3})
	err := req.Validate()
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	assert.Contains(t, fields, "Model")
	assert.Contains(t, fields, "Temperature")
	assert.Contains(t, fields, "Messages")
}

func TestToOpenAI(t *testing.T) {
	t.Parallel()

	req := Build(Params{
		History:     []datatypes.Message{datatypes.NewMessage(datatypes.RoleUser, "hi")},
		Model:       "m",
		Temperature: 0.5,
		TopP:        1,
		UserContext: map[string]any{"userId": "u"},
		Stream:      true,
	})
	oa := ToOpenAI(req)
	assert.Equal(t, "m", oa.Model)
	require.Len(t, oa.Messages, 1)
	assert.Equal(t, "user", oa.Messages[0].Role)
	assert.Equal(t, "hi", oa.Messages[0].Content)
	assert.InDelta(t, 0.5, oa.Temperature, 0.0001)
	assert.Equal(t, "u", oa.User)
	assert.True(t, oa.Stream)
}
