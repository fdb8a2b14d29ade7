package karma

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDelegatesResponse(t *testing.T) {
	raw := `{"data":[
		{"publicAddress":"0xABC123","ensName":"abc.eth","discourseHandles":["abc_handle"],"isForumVerified":true},
		{"publicAddress":"0xDEF456","ensName":null,"discourseHandles":[],"isForumVerified":false}
	]}`

	var parsed delegatesResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &parsed))
	require.Len(t, parsed.Data, 2)

	assert.Equal(t, "0xABC123", parsed.Data[0].PublicAddress)
	require.NotNil(t, parsed.Data[0].ENSName)
	assert.Equal(t, "abc.eth", *parsed.Data[0].ENSName)
	assert.True(t, parsed.Data[0].IsForumVerified)

	assert.Nil(t, parsed.Data[1].ENSName)
	assert.Empty(t, parsed.Data[1].DiscourseHandles)
}
