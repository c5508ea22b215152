package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Auth(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"auth","token":"abc.def.ghi"}`))
	require.NoError(t, err)

	auth, ok := frame.(Auth)
	require.True(t, ok)
	assert.Equal(t, "abc.def.ghi", auth.Token)
}

func TestDecode_RequestData(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"request_data","requestId":"req-1","dataType":"analysis","params":{"window":"7d"}}`))
	require.NoError(t, err)

	req, ok := frame.(RequestData)
	require.True(t, ok)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, "analysis", req.DataType)
	assert.Equal(t, "7d", req.Params["window"])
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_MissingType(t *testing.T) {
	_, err := Decode([]byte(`{"token":"abc"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))

	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Type("teleport"), unknown.Type)
}

func TestDecode_MissingRequiredField(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"auth without token", `{"type":"auth"}`},
		{"request_data without requestId", `{"type":"request_data","dataType":"analysis"}`},
		{"request_data without dataType", `{"type":"request_data","requestId":"req-1"}`},
		{"data without payload requestId", `{"type":"data","payload":{"data":{"isFinal":true}}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeDecode_Data(t *testing.T) {
	batch := Batch{
		TotalItems:     100,
		ProcessedItems: 50,
		Progress:       0.5,
		IsFinal:        false,
		Results:        []map[string]any{{"index": float64(0), "value": "a"}},
	}

	data, err := Encode(NewData("req-9", batch))
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)

	decoded, ok := frame.(Data)
	require.True(t, ok)
	assert.Equal(t, "req-9", decoded.Payload.RequestID)
	assert.Equal(t, 100, decoded.Payload.Data.TotalItems)
	assert.Equal(t, 50, decoded.Payload.Data.ProcessedItems)
	assert.False(t, decoded.Payload.Data.IsFinal)
	require.Len(t, decoded.Payload.Data.Results, 1)
}

func TestDecode_ErrorFrameOptionalRequestID(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"error","message":"boom"}`))
	require.NoError(t, err)

	e, ok := frame.(Error)
	require.True(t, ok)
	assert.Empty(t, e.RequestID)
	assert.Equal(t, "boom", e.Message)
}

func TestConstructors_SetDiscriminator(t *testing.T) {
	frames := []Frame{
		NewWelcome("c1"),
		NewAuth("t"),
		NewAuthSuccess("1"),
		NewAuthFailure("bad token"),
		NewPing(123),
		NewPong(456, 123),
		NewRequestData("r", "analysis", nil),
		NewRequestAccepted("r", "t", "queued"),
		NewData("r", Batch{}),
		NewError("r", "failed"),
	}

	for _, f := range frames {
		data := MustEncode(f)
		decoded, err := Decode(data)
		require.NoError(t, err, "frame %s", f.FrameType())
		assert.Equal(t, f.FrameType(), decoded.FrameType())
	}
}
