package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationConstructors_SetFieldsOmittedWhenUnused(t *testing.T) {
	o := NewClear("/docs")
	assert.Equal(t, TypeClear, o.Type)
	assert.Equal(t, "/docs", o.Path)
	assert.Empty(t, o.Key, "clear should not set Key")
	assert.Empty(t, o.SubdirName, "clear should not set SubdirName")
}

func TestDecodeSerializable_RoundTrips(t *testing.T) {
	s := Serializable{Type: SerializableTypePlain, Value: []byte(`"hello"`)}
	o := NewSet("/", "k", s)

	decoded, err := o.DecodeSerializable()
	require.NoError(t, err)
	assert.Equal(t, SerializableTypePlain, decoded.Type)
	assert.Equal(t, `"hello"`, string(decoded.Value))
}

func TestDecodeAct_RoundTrips(t *testing.T) {
	o := NewAct("/", "counter", "increment", []byte(`3`))

	decoded, err := o.DecodeAct()
	require.NoError(t, err)
	assert.Equal(t, "increment", decoded.OpName)
	assert.Equal(t, "3", string(decoded.Value))
}

func TestNewCreateAndDeleteSubDirectory(t *testing.T) {
	create := NewCreateSubDirectory("/", "docs")
	assert.Equal(t, TypeCreateSubDirectory, create.Type)
	assert.Equal(t, "docs", create.SubdirName)

	del := NewDeleteSubDirectory("/", "docs")
	assert.Equal(t, TypeDeleteSubDirectory, del.Type)
	assert.Equal(t, "docs", del.SubdirName)
}
