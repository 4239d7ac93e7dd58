package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJoin(t *testing.T) {
	m, err := Parse([]byte(`{"type":"join","workspaceId":"ws1","path":"main.grg","userId":"u1","displayColor":"#f00"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, m.Type)
	assert.Equal(t, "ws1", m.WorkspaceID)
	assert.Equal(t, "main.grg", m.Path)
	assert.Equal(t, "u1", m.UserID)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing type":      `{"workspaceId":"ws1"}`,
		"unknown type":      `{"type":"frobnicate"}`,
		"join no path":      `{"type":"join","workspaceId":"ws1","userId":"u1"}`,
		"update no delta":   `{"type":"doc-update","workspaceId":"ws1","path":"a"}`,
		"awareness no sid":  `{"type":"awareness-update","workspaceId":"ws1","path":"a","state":{}}`,
		"leave no ws":       `{"type":"leave-room","path":"a"}`,
	}
	for name, raw := range cases {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestParseAwarenessNullState(t *testing.T) {
	// Explicit null state is valid; it means the entry was cleared.
	m, err := Parse([]byte(`{"type":"awareness-update","workspaceId":"ws1","path":"a","sessionId":"s1","state":null}`))
	require.NoError(t, err)
	assert.Equal(t, "null", string(m.State))
}

func TestOutboundEnvelopes(t *testing.T) {
	var m map[string]interface{}

	require.NoError(t, json.Unmarshal(Hello("s1"), &m))
	assert.Equal(t, TypeHello, m["type"])
	assert.Equal(t, "s1", m["sessionId"])

	require.NoError(t, json.Unmarshal(UserLeft("a.txt", "s1", "u1"), &m))
	assert.Equal(t, TypeUserLeft, m["type"])
	assert.Equal(t, "u1", m["userId"])

	require.NoError(t, json.Unmarshal(Error(KindWorkspaceConflict, "boom"), &m))
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, KindWorkspaceConflict, m["kind"])

	require.NoError(t, json.Unmarshal(AwarenessCleared("a.txt", "s1"), &m))
	assert.Nil(t, m["state"])
}

func TestOutboundRoundTripsThroughParse(t *testing.T) {
	// Server-side doc-update envelopes match the inbound schema.
	out := DocUpdate("a.txt", json.RawMessage(`[{"t":"del","tgt":{"replica":"x","seq":1}}]`))

	var m Message
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, TypeDocUpdate, m.Type)
	assert.NotEmpty(t, m.Delta)
}
