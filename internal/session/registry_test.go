// ABOUTME: Tests for the in-memory session registry
// ABOUTME: Covers create/update merges, missing IDs, ordering and snapshot copies

package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a clock that advances one second on every call.
func stepClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func str(s string) *string { return &s }

func status(s Status) *Status { return &s }

func TestRegistry_CreateSetsDefaults(t *testing.T) {
	reg := NewRegistry(WithClock(stepClock()))

	s := reg.Create("A", Fields{Username: str("bob"), IP: str("10.0.0.1")})

	assert.Equal(t, "A", s.ID)
	assert.Equal(t, StatusStarted, s.Status)
	assert.Nil(t, s.Score)
	assert.Nil(t, s.Email)
	assert.Nil(t, s.Image)
	require.NotNil(t, s.Username)
	assert.Equal(t, "bob", *s.Username)
	require.NotNil(t, s.IP)
	assert.Equal(t, "10.0.0.1", *s.IP)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)
}

func TestRegistry_UpdateLastWriteWins(t *testing.T) {
	reg := NewRegistry(WithClock(stepClock()))
	created := reg.Create("A", Fields{Username: str("bob")})

	first, ok := reg.Update("A", Fields{Email: str("b@x.com"), Status: status(StatusEmailAdded)})
	require.True(t, ok)
	second, ok := reg.Update("A", Fields{Email: str("bob@y.org")})
	require.True(t, ok)

	got, ok := reg.Get("A")
	require.True(t, ok)
	assert.Equal(t, "bob@y.org", *got.Email)
	assert.Equal(t, StatusEmailAdded, got.Status)
	assert.Equal(t, "bob", *got.Username)

	assert.Equal(t, created.CreatedAt, got.CreatedAt)
	assert.True(t, first.UpdatedAt.After(created.UpdatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, second.UpdatedAt, got.UpdatedAt)
}

func TestRegistry_UpdateMissingIsNoop(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Update("ghost", Fields{Email: str("x@y.z")})

	assert.False(t, ok)
	_, found := reg.Get("ghost")
	assert.False(t, found)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.List())
}

func TestRegistry_ImageReplacedWholesale(t *testing.T) {
	reg := NewRegistry()
	reg.Create("A", Fields{})

	reg.Update("A", Fields{Image: &Image{Data: []byte("png-bytes"), MediaType: "image/png"}})
	reg.Update("A", Fields{Image: &Image{Data: []byte("jpg")}})

	got, _ := reg.Get("A")
	require.NotNil(t, got.Image)
	assert.Equal(t, []byte("jpg"), got.Image.Data)
	assert.Empty(t, got.Image.MediaType, "media type must not survive from the previous image")
}

func TestRegistry_DuplicateCreateOverwritesInPlace(t *testing.T) {
	reg := NewRegistry()
	reg.Create("A", Fields{Username: str("first")})
	reg.Create("B", Fields{})
	reg.Update("A", Fields{Email: str("a@x.com")})

	reg.Create("A", Fields{Username: str("second")})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].ID)
	assert.Equal(t, "B", list[1].ID)
	assert.Equal(t, "second", *list[0].Username)
	assert.Nil(t, list[0].Email)
	assert.Equal(t, StatusStarted, list[0].Status)
}

func TestRegistry_ListInsertionOrder(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"z", "a", "m"} {
		reg.Create(id, Fields{})
	}
	reg.Update("a", Fields{Name: str("Ann")})

	var ids []string
	for _, s := range reg.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"z", "a", "m"}, ids)
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	reg := NewRegistry()
	reg.Create("A", Fields{Name: str("before")})

	snapshot := reg.List()
	reg.Update("A", Fields{Name: str("after"), Score: json.RawMessage(`9`)})

	assert.Equal(t, "before", *snapshot[0].Name)
	assert.Nil(t, snapshot[0].Score)

	got, _ := reg.Get("A")
	assert.Equal(t, "after", *got.Name)
	assert.JSONEq(t, `9`, string(got.Score))
}

func TestRegistry_FieldsAreCopiedOnMerge(t *testing.T) {
	reg := NewRegistry()
	name := "original"
	data := []byte("abc")
	reg.Create("A", Fields{Name: &name, Image: &Image{Data: data, MediaType: "image/png"}})

	name = "mutated"
	data[0] = 'X'

	got, _ := reg.Get("A")
	assert.Equal(t, "original", *got.Name)
	assert.Equal(t, []byte("abc"), got.Image.Data)
}

func TestSession_JSONShape(t *testing.T) {
	reg := NewRegistry(WithClock(stepClock()))
	reg.Create("A", Fields{Username: str("bob")})
	reg.Update("A", Fields{Image: &Image{Data: []byte{0x01, 0x02}, MediaType: "image/png"}})

	got, _ := reg.Get("A")
	raw, err := json.Marshal(got)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "A", decoded["sessionId"])
	assert.Equal(t, "started", decoded["status"])
	assert.Equal(t, "bob", decoded["username"])
	assert.Nil(t, decoded["email"])
	assert.Nil(t, decoded["score"])
	assert.Contains(t, decoded, "createdAt")
	assert.Equal(t, map[string]any{"buffer": "AQI=", "type": "image/png"}, decoded["image"])
}

func TestRegistry_ReturnedImageIsDetached(t *testing.T) {
	reg := NewRegistry()
	reg.Create("A", Fields{
		Name:  str("Ann"),
		Image: &Image{Data: []byte("abc"), MediaType: "image/png"},
		Score: json.RawMessage(`7`),
	})

	got, ok := reg.Get("A")
	require.True(t, ok)
	got.Image.Data[0] = 'X'
	got.Image.MediaType = "text/plain"
	got.Score[0] = '8'
	*got.Name = "Bob"

	listed := reg.List()
	listed[0].Image.Data[1] = 'Y'

	again, _ := reg.Get("A")
	assert.Equal(t, []byte("abc"), again.Image.Data)
	assert.Equal(t, "image/png", again.Image.MediaType)
	assert.JSONEq(t, `7`, string(again.Score))
	assert.Equal(t, "Ann", *again.Name)
}
