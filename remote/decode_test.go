package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"
)

type item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestDecodeCollectionKeepsServerOrder(t *testing.T) {
	t.Parallel()

	body := []byte(`{"ok":true,"meta":{"updated":1700000000},"data":{
		"zeta":{"data":{"id":"zeta","title":"Z"}},
		"alpha":{"data":{"id":"alpha","title":"A"}},
		"mid":{"data":{"id":"mid","title":"M"}}}}`)

	payload, err := decodeCollection[item](body, true)
	require.NoError(t, err)

	assert.Equal(t, uint64(1700000000), payload.Revision)
	require.Len(t, payload.Records, 3)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, []string{
		payload.Records[0].ID, payload.Records[1].ID, payload.Records[2].ID,
	})
	assert.Equal(t, item{ID: "alpha", Title: "A"}, payload.Records[1].Value)
}

func TestDecodeCollectionRevision(t *testing.T) {
	t.Parallel()

	t.Run("hash of data when meta is missing", func(t *testing.T) {
		t.Parallel()

		payload, err := decodeCollection[item]([]byte(`{"ok":true,"data":{"a":{"id":"a"}}}`), false)
		require.NoError(t, err)
		assert.Equal(t, xxh3.HashString(`{"a":{"id":"a"}}`), payload.Revision)

		again, err := decodeCollection[item]([]byte(`{"ok":true,"data":{"a":{"id":"a"}}}`), false)
		require.NoError(t, err)
		assert.Equal(t, payload.Revision, again.Revision)
	})

	t.Run("lastUpdated string", func(t *testing.T) {
		t.Parallel()

		payload, err := decodeCollection[item]([]byte(`{"ok":true,"meta":{"lastUpdated":"2024-01-02"},"data":{}}`), false)
		require.NoError(t, err)
		assert.Equal(t, xxh3.HashString("2024-01-02"), payload.Revision)
		assert.Empty(t, payload.Records)
	})
}

func TestDecodeCollectionArray(t *testing.T) {
	t.Parallel()

	payload, err := decodeCollection[item]([]byte(`{"data":[{"id":"x","title":"X"},{"title":"untitled"}]}`), false)
	require.NoError(t, err)
	require.Len(t, payload.Records, 2)
	assert.Equal(t, "x", payload.Records[0].ID)
	assert.Equal(t, "1", payload.Records[1].ID)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "not json", body: `<html>`, want: ErrMalformedResponse},
		{name: "rejected", body: `{"ok":false,"errorCode":"storage_not_found"}`, want: ErrRejected},
		{name: "scalar data", body: `{"ok":true,"data":42}`, want: ErrMalformedResponse},
		{name: "bad record", body: `{"ok":true,"data":{"a":{"data":"nope"}}}`, want: ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := decodeCollection[item]([]byte(tt.body), true)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeDocument(t *testing.T) {
	t.Parallel()

	got, err := decodeDocument[item]([]byte(`{"ok":true,"data":{"id":"u1","title":"Ada"}}`))
	require.NoError(t, err)
	assert.Equal(t, item{ID: "u1", Title: "Ada"}, got)

	empty, err := decodeDocument[item]([]byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, item{}, empty)

	_, err = decodeDocument[item]([]byte(`{"ok":false}`))
	require.ErrorIs(t, err, ErrRejected)
}
