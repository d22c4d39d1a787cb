package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionMatches(t *testing.T) {
	body := []byte(`{
		"normalizedUserName": "ALICE",
		"roles": ["ADMIN", "EDITOR"],
		"claims": [
			{"type": "http://schemas.example.com/dept", "value": "eng"},
			{"type": "level", "value": "3"}
		]
	}`)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq hit", Eq("normalizedUserName", "ALICE"), true},
		{"eq miss", Eq("normalizedUserName", "BOB"), false},
		{"eq missing path", Eq("normalizedEmail", ""), false},
		{"contains hit", Contains("roles", "EDITOR"), true},
		{"contains miss", Contains("roles", "OWNER"), false},
		{"contains scalar", Contains("normalizedUserName", "ALICE"), true},
		{"any hit", Any("claims", map[string]string{"type": "http://schemas.example.com/dept", "value": "eng"}), true},
		{"any partial", Any("claims", map[string]string{"type": "level", "value": "eng"}), false},
		{"any not array", Any("normalizedUserName", map[string]string{"type": "x"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Matches(body))
		})
	}
}

func TestQueryMatches(t *testing.T) {
	doc := &Document{ID: "1", Partition: "1", Kind: "User", Body: []byte(`{"roles":["ADMIN"]}`)}

	assert.True(t, Query{Partition: "1"}.Matches(doc))
	assert.False(t, Query{Partition: "2"}.Matches(doc))
	assert.True(t, Query{CrossPartition: true, Kind: "User"}.Matches(doc))
	assert.False(t, Query{CrossPartition: true, Kind: "Role"}.Matches(doc))
	assert.True(t, Query{CrossPartition: true, Where: []Condition{Contains("roles", "ADMIN")}}.Matches(doc))

	assert.ErrorIs(t, Query{}.Validate(), ErrInvalidQuery)
	assert.NoError(t, Query{CrossPartition: true}.Validate())
}

func TestSort(t *testing.T) {
	docs := []*Document{
		{Partition: "b", ID: "1"},
		{Partition: "a", ID: "2"},
		{Partition: "a", ID: "1"},
	}
	Sort(docs)
	assert.Equal(t, "a", docs[0].Partition)
	assert.Equal(t, "1", docs[0].ID)
	assert.Equal(t, "2", docs[1].ID)
	assert.Equal(t, "b", docs[2].Partition)
}
