// ABOUTME: Tests for the event router using in-memory fake connections
// ABOUTME: Covers snapshots on register, fan-out per mutation, score back-channel and malformed input

package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intake-gateway/internal/ledger"
	"github.com/2389/intake-gateway/internal/protocol"
	"github.com/2389/intake-gateway/internal/session"
)

// fakeConn records every payload it accepts while open.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	open   bool
	frames [][]byte
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, open: true}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Notify(payload []byte) Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return Skipped
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return Delivered
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// snapshots decodes every all-sessions frame the connection received.
func (c *fakeConn) snapshots(t *testing.T) [][]session.Session {
	t.Helper()
	var out [][]session.Session
	for _, f := range c.received() {
		msg, err := protocol.DecodeOutbound(f)
		require.NoError(t, err)
		if all, ok := msg.(protocol.AllSessions); ok {
			out = append(out, all.Sessions)
		}
	}
	return out
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (j *fakeJournal) Append(e ledger.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter() *Router {
	return New(Config{Logger: testLogger()})
}

func TestRouter_RegisterAdminWithNoSessions(t *testing.T) {
	r := newTestRouter()
	admin := newFakeConn("admin")

	got := r.RegisterAdmin(admin)

	assert.Equal(t, Delivered, got)
	frames := admin.received()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"type":"all-sessions","sessions":[]}`, string(frames[0]))
}

func TestRouter_ObserverSeesStart(t *testing.T) {
	r := newTestRouter()
	admin := newFakeConn("admin")
	r.HandleMessage(admin, []byte(`{"type":"register-admin"}`))

	r.Start("A", "bob", "10.0.0.1")

	snaps := admin.snapshots(t)
	require.Len(t, snaps, 2)
	assert.Empty(t, snaps[0])
	require.Len(t, snaps[1], 1)
	assert.Equal(t, "A", snaps[1][0].ID)
	assert.Equal(t, session.StatusStarted, snaps[1][0].Status)
	assert.Equal(t, "bob", *snaps[1][0].Username)
	assert.Equal(t, "10.0.0.1", *snaps[1][0].IP)
}

func TestRouter_StartThenAddEmail(t *testing.T) {
	r := newTestRouter()

	r.Start("A", "bob", "127.0.0.1")
	found := r.AddEmail("A", "b@x.com")

	require.True(t, found)
	s, ok := r.Session("A")
	require.True(t, ok)
	assert.Equal(t, session.StatusEmailAdded, s.Status)
	assert.Equal(t, "b@x.com", *s.Email)
}

func TestRouter_FullFlowStatuses(t *testing.T) {
	r := newTestRouter()

	r.Start("A", "bob", "1.2.3.4")
	r.AddEmail("A", "b@x.com")
	r.AddName("A", "Bob Builder")
	s, _ := r.Session("A")
	assert.Equal(t, session.StatusReadyForScoring, s.Status)

	r.UploadImage("A", session.Image{Data: []byte{0xff, 0xd8}, MediaType: "image/jpeg"})
	s, _ = r.Session("A")
	assert.Equal(t, session.StatusImageUploaded, s.Status)
	require.NotNil(t, s.Image)
	assert.Equal(t, "image/jpeg", s.Image.MediaType)

	r.SubmitScore("A", json.RawMessage(`8`))
	s, _ = r.Session("A")
	assert.Equal(t, session.StatusScored, s.Status)

	// scored is not terminal
	r.AddName("A", "Robert")
	s, _ = r.Session("A")
	assert.Equal(t, session.StatusReadyForScoring, s.Status)
	assert.Equal(t, "Robert", *s.Name)
	assert.JSONEq(t, `8`, string(s.Score))
}

func TestRouter_EachMutationFansOutExactlyOnce(t *testing.T) {
	r := newTestRouter()
	a1, a2 := newFakeConn("a1"), newFakeConn("a2")
	r.RegisterAdmin(a1)
	r.RegisterAdmin(a2)

	r.Start("A", "bob", "ip")
	r.AddEmail("A", "b@x.com")
	r.AddName("A", "Bob")
	r.UploadImage("A", session.Image{Data: []byte("x"), MediaType: "image/png"})

	for _, admin := range []*fakeConn{a1, a2} {
		snaps := admin.snapshots(t)
		require.Len(t, snaps, 5, "initial snapshot plus one per mutation")
		statuses := []session.Status{}
		for _, snap := range snaps[1:] {
			require.Len(t, snap, 1)
			statuses = append(statuses, snap[0].Status)
		}
		assert.Equal(t, []session.Status{
			session.StatusStarted,
			session.StatusEmailAdded,
			session.StatusReadyForScoring,
			session.StatusImageUploaded,
		}, statuses)
	}
}

func TestRouter_UpdateUnknownSessionStillFansOut(t *testing.T) {
	r := newTestRouter()
	admin := newFakeConn("admin")
	r.RegisterAdmin(admin)

	found := r.AddEmail("ghost", "g@x.com")

	assert.False(t, found)
	_, ok := r.Session("ghost")
	assert.False(t, ok)
	snaps := admin.snapshots(t)
	require.Len(t, snaps, 2)
	assert.Empty(t, snaps[1])
}

func TestRouter_SendScoreReachesBoundClient(t *testing.T) {
	r := newTestRouter()
	client := newFakeConn("client")
	admin := newFakeConn("admin")
	r.Start("A", "bob", "ip")

	r.HandleMessage(client, []byte(`{"type":"register-user","sessionId":"A"}`))
	r.HandleMessage(admin, []byte(`{"type":"register-admin"}`))
	r.HandleMessage(admin, []byte(`{"type":"send-score","sessionId":"A","score":9}`))

	clientFrames := client.received()
	require.Len(t, clientFrames, 1, "clients never receive snapshots")
	assert.JSONEq(t, `{"type":"score","score":9}`, string(clientFrames[0]))

	snaps := admin.snapshots(t)
	require.Len(t, snaps, 2)
	last := snaps[1]
	require.Len(t, last, 1)
	assert.Equal(t, session.StatusScored, last[0].Status)
	assert.JSONEq(t, `9`, string(last[0].Score))
}

func TestRouter_SendScoreAfterClientClosed(t *testing.T) {
	r := newTestRouter()
	client := newFakeConn("client")
	admin := newFakeConn("admin")
	r.Start("A", "bob", "ip")
	r.RegisterUser(client, "A")
	r.RegisterAdmin(admin)

	client.close()
	found, delivery := r.SubmitScore("A", json.RawMessage(`"7"`))
	assert.True(t, found)
	assert.Equal(t, Skipped, delivery)

	r.Disconnect(client)
	found, delivery = r.SubmitScore("A", json.RawMessage(`5`))
	assert.True(t, found)
	assert.Equal(t, Skipped, delivery)

	assert.Empty(t, client.received())
	snaps := admin.snapshots(t)
	require.Len(t, snaps, 3)
	assert.JSONEq(t, `5`, string(snaps[2][0].Score))
}

func TestRouter_SendScoreForUnknownSession(t *testing.T) {
	r := newTestRouter()
	client := newFakeConn("client")
	admin := newFakeConn("admin")
	r.RegisterUser(client, "ghost")
	r.RegisterAdmin(admin)

	found, delivery := r.SubmitScore("ghost", json.RawMessage(`3`))

	assert.False(t, found)
	assert.Equal(t, Delivered, delivery, "the bound client is still told")
	assert.Equal(t, 0, r.Stats().Sessions)
	assert.Len(t, admin.snapshots(t), 2)
}

func TestRouter_MalformedFramesAreSwallowed(t *testing.T) {
	r := newTestRouter()
	admin := newFakeConn("admin")
	r.Start("A", "bob", "ip")
	r.RegisterAdmin(admin)
	before := len(admin.received())

	for _, frame := range []string{
		`not json`,
		`{"type":"nope"}`,
		`{"type":"send-score","sessionId":"A"}`,
		`{"type":"send-score","score":1}`,
		`{"type":"register-user"}`,
		``,
	} {
		assert.NotPanics(t, func() { r.HandleMessage(admin, []byte(frame)) })
	}

	assert.Len(t, admin.received(), before)
	s, _ := r.Session("A")
	assert.Equal(t, session.StatusStarted, s.Status)
	assert.Nil(t, s.Score)
	assert.Equal(t, 0, r.Stats().Clients)
}

func TestRouter_ClosedObserversAreSkipped(t *testing.T) {
	r := newTestRouter()
	live, dead := newFakeConn("live"), newFakeConn("dead")
	r.RegisterAdmin(live)
	r.RegisterAdmin(dead)
	dead.close()

	r.Start("A", "bob", "ip")

	assert.Len(t, live.received(), 2)
	assert.Len(t, dead.received(), 1)
}

func TestRouter_DisconnectReleasesWithoutFanOut(t *testing.T) {
	r := newTestRouter()
	admin := newFakeConn("admin")
	other := newFakeConn("other")
	r.RegisterAdmin(admin)
	r.RegisterAdmin(other)
	r.RegisterUser(admin, "A")

	rel := r.Disconnect(admin)

	assert.True(t, rel.WasObserver)
	assert.Equal(t, []string{"A"}, rel.SessionIDs)
	assert.Len(t, other.received(), 1)
	assert.Equal(t, Stats{Sessions: 0, Observers: 1, Clients: 0}, r.Stats())

	r.Start("B", "carol", "ip")
	assert.Len(t, admin.received(), 1, "released observer gets nothing more")
	assert.Len(t, other.received(), 2)
}

func TestRouter_RegisterUserLastBindWins(t *testing.T) {
	r := newTestRouter()
	first, second := newFakeConn("first"), newFakeConn("second")
	r.Start("A", "bob", "ip")
	r.RegisterUser(first, "A")
	r.RegisterUser(second, "A")

	r.SubmitScore("A", json.RawMessage(`1`))

	assert.Empty(t, first.received())
	assert.Len(t, second.received(), 1)
}

func TestRouter_JournalRecordsMutations(t *testing.T) {
	journal := &fakeJournal{}
	r := New(Config{Journal: journal, Logger: testLogger()})

	r.Start("A", "bob", "ip")
	r.AddEmail("A", "b@x.com")
	r.AddName("missing", "nobody")
	r.SubmitScore("A", json.RawMessage(`4`))

	require.Len(t, journal.entries, 4)
	assert.Equal(t, ledger.ActionStart, journal.entries[0].Action)
	assert.Equal(t, ledger.ActionAddEmail, journal.entries[1].Action)
	assert.Equal(t, "email added", journal.entries[1].Status)
	assert.Equal(t, ledger.ActionAddName, journal.entries[2].Action)
	assert.False(t, journal.entries[2].Found)
	assert.Equal(t, ledger.ActionScore, journal.entries[3].Action)
	assert.Equal(t, "skipped", journal.entries[3].Detail["client"])
}
