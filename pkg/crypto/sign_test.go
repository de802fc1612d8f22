package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandSignerEmptySecret(t *testing.T) {
	_, err := NewCommandSigner("")
	assert.Error(t, err)
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{
			name: "flat map",
			in:   map[string]interface{}{"b": 2, "a": 1},
			want: `{"a":1,"b":2}`,
		},
		{
			name: "nested map",
			in: map[string]interface{}{
				"z": map[string]interface{}{"y": true, "x": nil},
				"a": []interface{}{3, "s"},
			},
			want: `{"a":[3,"s"],"z":{"x":null,"y":true}}`,
		},
		{
			name: "struct fields normalize like maps",
			in: struct {
				B string `json:"beta"`
				A int    `json:"alpha"`
			}{B: "v", A: 7},
			want: `{"alpha":7,"beta":"v"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestSignDeterministicAcrossKeyOrder(t *testing.T) {
	signer, err := NewCommandSigner("shared-secret")
	require.NoError(t, err)

	a := map[string]interface{}{"commandType": "live", "cameraId": 4, "duration": 30}
	b := map[string]interface{}{"duration": 30, "cameraId": 4, "commandType": "live"}

	tagA, err := signer.Sign(a)
	require.NoError(t, err)
	tagB, err := signer.Sign(b)
	require.NoError(t, err)

	assert.Equal(t, tagA, tagB)
	assert.Len(t, tagA, 64)
}

func TestVerify(t *testing.T) {
	signer, err := NewCommandSigner("shared-secret")
	require.NoError(t, err)

	payload := map[string]interface{}{"cameraId": 4}
	tag, err := signer.Sign(payload)
	require.NoError(t, err)

	assert.True(t, signer.Verify(payload, tag))
	assert.False(t, signer.Verify(payload, tag[:len(tag)-1]+"0"))

	tampered := map[string]interface{}{"cameraId": 5}
	assert.False(t, signer.Verify(tampered, tag))
}

func TestVerifyDifferentSecret(t *testing.T) {
	s1, err := NewCommandSigner("secret-one")
	require.NoError(t, err)
	s2, err := NewCommandSigner("secret-two")
	require.NoError(t, err)

	payload := map[string]interface{}{"cameraId": 4}
	tag, err := s1.Sign(payload)
	require.NoError(t, err)

	assert.False(t, s2.Verify(payload, tag))
}
