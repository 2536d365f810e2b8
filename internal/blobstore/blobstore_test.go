package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteUTF8ReadUTF8_RoundTrips(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, WriteUTF8(store, "header", []byte(`{"a":1}`)))

	got, err := ReadUTF8(store, "header")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
}

func TestRead_MissingBlobFails(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Read("nonexistent")
	assert.Error(t, err, "expected an error reading a missing blob")
}

func TestWrite_MultipleEntriesInOneTree(t *testing.T) {
	store := NewMemoryStore()
	err := store.Write(Tree{
		ID: "t",
		Entries: []TreeEntry{
			{Path: "a", Mode: "100644", Type: "blob", Value: BlobValue{Contents: "hello", Encoding: EncodingUTF8}},
			{Path: "b", Mode: "100644", Type: "blob", Value: BlobValue{Contents: "d29ybGQ=", Encoding: EncodingBase64}},
		},
	})
	require.NoError(t, err)

	a, err := store.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", a, "want base64 of 'hello'")

	b, err := ReadUTF8(store, "b")
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))
}
