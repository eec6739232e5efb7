package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDevTokenCommand(t *testing.T) {
	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"devtoken", "--user-id", "ops-1", "--email", "ops@palmyra.test", "--tenant", "acme", "--admin"})

	require.NoError(t, cmd.Execute())

	parts := strings.Split(strings.TrimSpace(out.String()), ".")
	require.Len(t, parts, 2)

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &claims))
	require.Equal(t, "ops-1", claims["sub"])
	require.Equal(t, "acme", claims["tenant_id"])
	require.Equal(t, true, claims["isAdmin"])
	require.Equal(t, "palmyra-dev", claims["iss"])
}

func TestDevTokenCommandRequiresUser(t *testing.T) {
	cmd := Command()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"devtoken", "--email", "ops@palmyra.test"})

	require.Error(t, cmd.Execute())
}
