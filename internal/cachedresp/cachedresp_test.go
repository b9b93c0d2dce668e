package cachedresp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []CachedResponse{
		{
			Status: 200,
			Headers: []HeaderPair{
				{Name: "content-type", Value: "application/json"},
				{Name: "x-cache", Value: "hit, memory"},
			},
			Body: []byte(`{"ok":true}`),
		},
		{
			Status:  204,
			Headers: []HeaderPair{},
			Body:    []byte{},
		},
		{
			Status: 500,
			Headers: []HeaderPair{
				{Name: "x-empty-value", Value: ""},
			},
			Body: make([]byte, 4096),
		},
	}

	for _, c := range cases {
		encoded := Encode(c)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, c, decoded)
	}
}

func TestEncodeStatusIsBigEndian(t *testing.T) {
	encoded := Encode(CachedResponse{Status: 0x0102, Headers: []HeaderPair{}, Body: []byte{}})
	assert.Equal(t, byte(0x01), encoded[0])
	assert.Equal(t, byte(0x02), encoded[1])
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	full := Encode(CachedResponse{
		Status:  200,
		Headers: []HeaderPair{{Name: "a", Value: "b"}},
		Body:    []byte("hello"),
	})

	for n := 0; n < len(full); n++ {
		_, err := Decode(full[:n])
		assert.Error(t, err, "expected error decoding truncated input of length %d", n)
	}

	// The untruncated input must still succeed.
	_, err := Decode(full)
	assert.NoError(t, err)
}
