package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_Unique(t *testing.T) {
	seen := make(map[ULID]bool)
	for range 100 {
		id := NewULID()
		require.False(t, id.IsZero())
		require.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestParseULID(t *testing.T) {
	id := NewULID()

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Len(t, id.String(), 26)

	for _, bad := range []string{"", "not-a-ulid", id.String()[:20]} {
		_, err := ParseULID(bad)
		assert.ErrorContains(t, err, "invalid ULID", bad)
	}
}

func TestULID_SQL(t *testing.T) {
	id := NewULID()

	v, err := id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)

	v, err = ULID{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	tests := []struct {
		name    string
		in      any
		want    ULID
		wantErr bool
	}{
		{"string", id.String(), id, false},
		{"bytes", []byte(id.String()), id, false},
		{"null", nil, ULID{}, false},
		{"empty", "", ULID{}, false},
		{"garbage", "xyz", ULID{}, true},
		{"int", 42, ULID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewULID()
			err := got.Scan(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestULID_JSON(t *testing.T) {
	type record struct {
		ID ULID `json:"id"`
	}
	id := NewULID()

	out, err := json.Marshal(record{ID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(out))

	out, err = json.Marshal(record{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":null}`, string(out))

	var r record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"`+id.String()+`"}`), &r))
	assert.Equal(t, id, r.ID)

	for _, in := range []string{`{"id":null}`, `{"id":""}`} {
		r = record{ID: id}
		require.NoError(t, json.Unmarshal([]byte(in), &r))
		assert.True(t, r.ID.IsZero(), in)
	}

	assert.Error(t, json.Unmarshal([]byte(`{"id":"bogus"}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`{"id":7}`), &r))
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	var fresh BaseModel
	require.NoError(t, fresh.BeforeCreate(nil))
	assert.False(t, fresh.ID.IsZero())

	existing := NewULID()
	kept := BaseModel{ID: existing}
	require.NoError(t, kept.BeforeCreate(nil))
	assert.Equal(t, existing, kept.ID)
}
