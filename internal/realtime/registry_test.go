package realtime

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"live-activity-service/internal/domain"
)

func TestRegistryAudiences(t *testing.T) {
	reg := NewRegistry(nil, nil)
	org := newFakeClient("c-org", 8)
	alice := newFakeClient("c-alice", 8)
	aliceTab := newFakeClient("c-alice-2", 8)
	bob := newFakeClient("c-bob", 8)
	other := newFakeClient("c-other", 8)

	reg.JoinAsOrganizer("e1", org)
	reg.Join("e1", "p-alice", alice)
	reg.Join("e1", "p-alice", aliceTab)
	reg.Join("e1", "p-bob", bob)
	reg.Join("e2", "p-carol", other)

	require.Len(t, reg.Members("e1", domain.ToRoom), 4)
	require.Equal(t, []Client{org}, reg.Members("e1", domain.ToOrganizer))
	require.ElementsMatch(t, []Client{alice, aliceTab}, reg.Members("e1", domain.ToParticipant("p-alice")))
	require.Empty(t, reg.Members("e1", domain.ToParticipant("p-carol")))
	require.Equal(t, map[string]bool{"p-alice": true, "p-bob": true}, reg.OnlineParticipants("e1"))
}

func TestRegistryPresenceFollowsLastConnection(t *testing.T) {
	presence := &recordingPresence{}
	reg := NewRegistry(nil, presence)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	reg.Join("e1", "p1", newFakeClient("c1", 1))
	reg.Join("e1", "p1", newFakeClient("c2", 1))
	require.Eventually(t, func() bool { return len(presence.events()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"online:p1"}, presence.events())

	s, ok := reg.Detach("c1")
	require.True(t, ok)
	require.Equal(t, "p1", s.ParticipantID)
	require.True(t, reg.Connected("e1", "p1"))

	_, ok = reg.Detach("c2")
	require.True(t, ok)
	require.False(t, reg.Connected("e1", "p1"))
	require.Eventually(t, func() bool { return len(presence.events()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"online:p1", "offline:p1"}, presence.events())
	require.Zero(t, reg.Count("e1"))

	_, ok = reg.Detach("c2")
	require.False(t, ok)

	online, err := reg.PresenceOnline(ctx, "e1")
	require.NoError(t, err)
	require.Empty(t, online)
}

func TestRegistrySlowPresenceDoesNotBlockJoin(t *testing.T) {
	presence := &recordingPresence{block: make(chan struct{})}
	reg := NewRegistry(nil, presence)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	joined := make(chan struct{})
	go func() {
		reg.Join("e1", "p1", newFakeClient("c1", 1))
		reg.Join("e1", "p2", newFakeClient("c2", 1))
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("join blocked on the presence store")
	}
	require.Equal(t, map[string]bool{"p1": true, "p2": true}, reg.OnlineParticipants("e1"))

	close(presence.block)
	require.Eventually(t, func() bool { return len(presence.events()) == 2 }, time.Second, 5*time.Millisecond)
	online, err := reg.PresenceOnline(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, online)
}

func TestRegistryPresenceOnlineWithoutStore(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.Join("e1", "p2", newFakeClient("c2", 1))
	reg.Join("e1", "p1", newFakeClient("c1", 1))
	online, err := reg.PresenceOnline(context.Background(), "e1")
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, online)
}

type fakeClient struct {
	id string

	mu     sync.Mutex
	buf    [][]byte
	limit  int
	closed bool
}

func newFakeClient(id string, limit int) *fakeClient {
	return &fakeClient{id: id, limit: limit}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.buf) >= c.limit {
		return false
	}
	c.buf = append(c.buf, msg)
	return true
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.buf...)
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type recordingPresence struct {
	// block, when set, holds every write until it is closed.
	block chan struct{}

	mu     sync.Mutex
	log    []string
	online map[string]bool
}

func (p *recordingPresence) record(participantID string, online bool) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = make(map[string]bool)
	}
	if online {
		p.log = append(p.log, "online:"+participantID)
		p.online[participantID] = true
	} else {
		p.log = append(p.log, "offline:"+participantID)
		delete(p.online, participantID)
	}
}

func (p *recordingPresence) MarkOnline(_ context.Context, _, participantID string) error {
	p.record(participantID, true)
	return nil
}

func (p *recordingPresence) MarkOffline(_ context.Context, _, participantID string) error {
	p.record(participantID, false)
	return nil
}

func (p *recordingPresence) Online(_ context.Context, _ string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *recordingPresence) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}
