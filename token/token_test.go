package token_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/token"
)

func TestHumanTokenValidates(t *testing.T) {
	tok := token.Human()
	require.NoError(t, tok.Validate())
	require.Equal(t, token.KindHuman, tok.Kind())
}

func TestAgentTokenRequiresAgentID(t *testing.T) {
	tok := token.Agent("")
	require.Error(t, tok.Validate())
}

func TestAgentTokenValidates(t *testing.T) {
	tok := token.Agent("agent-1")
	require.NoError(t, tok.Validate())
	require.Equal(t, token.KindAgent, tok.Kind())
	require.Equal(t, "agent-1", tok.AgentID())
}

func TestZeroValueTokenIsInvalid(t *testing.T) {
	var tok token.Token
	require.Error(t, tok.Validate())
}
