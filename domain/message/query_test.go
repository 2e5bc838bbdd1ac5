package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryParams_DecodesWirePayload(t *testing.T) {
	req := require.New(t)

	// Clients speak the same camelCase as every other payload
	payload := []byte(`{
		"senderId": 1,
		"messageType": "PRIVATE",
		"from": "2026-09-01T10:00:00Z",
		"page": 2,
		"size": 10
	}`)

	var params QueryParams
	req.NoError(json.Unmarshal(payload, &params))

	req.NotNil(params.SenderID)
	req.EqualValues(1, *params.SenderID)
	req.Nil(params.ReceiverID)
	req.NotNil(params.Kind)
	req.Equal(KindPrivate, *params.Kind)
	req.NotNil(params.From)
	req.Nil(params.To)
	req.Equal(2, params.Page)
	req.Equal(10, params.Size)
}
