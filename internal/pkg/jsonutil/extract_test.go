package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"action":"enter","confidence":0.8}`, `{"action":"enter","confidence":0.8}`, true},
		{"fenced", "sure:\n```json\n{\"action\":\"skip\"}\n```\nthanks", `{"action":"skip"}`, true},
		{"prose", `I think {"action":"enter","reason":"a } in text"} is right`, `{"action":"enter","reason":"a } in text"}`, true},
		{"none", "no json here", "", false},
		{"unterminated", `{"action":"enter"`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "not json", Pretty("not json"))
	assert.Contains(t, Pretty(`{"a":1}`), "\n")
}
