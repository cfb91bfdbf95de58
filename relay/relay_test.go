package relay

import (
	"bytes"
	"encoding/binary"
	"syscall"
	"testing"
	"time"

	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/queue"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/google/go-cmp/cmp"
)

type bufEndpoint struct {
	bytes.Buffer
}

func (b *bufEndpoint) SetReadDeadline(time.Time) error { return nil }
func (b *bufEndpoint) Close() error { return nil }

type fakePlugin struct {
	plugin.Unsupported
	calls    int
	resetErr error
	peer     []byte
	panics   bool
}

func (p *fakePlugin) HotReset(int) error {
	p.calls++
	if p.panics {
		panic("boom")
	}
	return p.resetErr
}

func (p *fakePlugin) PeerData(index int, req *models.PeerRequest) ([]byte, error) {
	p.calls++
	return p.peer, nil
}

func (p *fakePlugin) LoadXclbin(index int, xclbin *models.Xclbin) error {
	p.calls++
	return nil
}

func request(kind models.RequestKind, data []byte) *models.Envelope {
	return models.NewEnvelope(models.NewRequest(kind, data), 0x55, models.FlagRequest)
}

func interpret(t *testing.T, p plugin.Plugin, env *models.Envelope) *models.Envelope {
	t.Helper()
	local, remote := &bufEndpoint{}, &bufEndpoint{}
	in := NewInterpreter(0, "0000:03:00.1", p)
	msg := &queue.Message{Source: queue.Local, Local: local, Remote: remote, Handler: in.Handle, Envelope: env}

	route, err := Process(msg)
	if err != nil {
		t.Fatal(err)
	}
	if route == Drop {
		return nil
	}
	if route != ToLocal || remote.Len() != 0 {
		t.Fatalf("interpreted reply routed to %s", route)
	}
	reply, err := socket.ReadEnvelope(local)
	if err != nil {
		t.Fatal(err)
	}
	if reply.ID != env.ID || !reply.IsResponse() {
		t.Fatalf("reply id %#x flags %#x", reply.ID, reply.Flags)
	}
	return reply
}

func statusOf(t *testing.T, reply *models.Envelope) int32 {
	t.Helper()
	code, ok := models.StatusCode(reply.Payload)
	if !ok {
		t.Fatalf("not a status response: % x", reply.Payload)
	}
	return code
}

func TestPureRelay(t *testing.T) {
	local, remote := &bufEndpoint{}, &bufEndpoint{}
	env := request(models.ReqHotReset, nil)

	if route, err := Process(&queue.Message{Source: queue.Local, Local: local, Remote: remote, Envelope: env}); err != nil || route != ToRemote {
		t.Fatalf("local: route %s err %v", route, err)
	}
	if route, err := Process(&queue.Message{Source: queue.Remote, Local: local, Remote: remote, Envelope: env}); err != nil || route != ToLocal {
		t.Fatalf("remote: route %s err %v", route, err)
	}
	for _, ep := range []*bufEndpoint{local, remote} {
		got, err := socket.ReadEnvelope(ep)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(env, got); diff != "" {
			t.Fatal(diff)
		}
	}
}

func TestInvalidEnvelopeDropped(t *testing.T) {
	env := &models.Envelope{Size: 10, Payload: []byte{1}}
	if _, route := Dispatch(&queue.Message{Source: queue.Local, Envelope: env}); route != Drop {
		t.Fatalf("route = %s", route)
	}
}

func TestUnhandledFallsThrough(t *testing.T) {
	env := request(models.ReqTestReady, nil)
	msg := &queue.Message{
		Source:   queue.Remote,
		Envelope: env,
		Handler:  func(*models.Envelope) (*models.Envelope, bool) { return nil, false },
	}
	if got, route := Dispatch(msg); route != ToLocal || got != env {
		t.Fatalf("route = %s", route)
	}
}

func TestMissingPeer(t *testing.T) {
	msg := &queue.Message{Source: queue.Local, Local: &bufEndpoint{}, Envelope: request(models.ReqHotReset, nil)}
	if _, err := Process(msg); err == nil {
		t.Fatal("relay without peer succeeded")
	}
}

func TestInterpreterStatus(t *testing.T) {
	cases := []struct {
		name string
		env  *models.Envelope
		p    *fakePlugin
		want int32
	}{
		{"short payload", models.NewEnvelope([]byte{1, 2, 3}, 0x55, models.FlagRequest), &fakePlugin{}, -int32(syscall.EINVAL)},
		{"unknown kind", request(99, nil), &fakePlugin{}, -int32(syscall.ENOTSUP)},
		{"no hook", request(models.ReqLockBitstream, nil), &fakePlugin{}, -int32(syscall.ENOTSUP)},
		{"hook ok", request(models.ReqHotReset, nil), &fakePlugin{}, 0},
		{"hook errno", request(models.ReqHotReset, nil), &fakePlugin{resetErr: syscall.EBUSY}, -int32(syscall.EBUSY)},
		{"hook panic", request(models.ReqHotReset, nil), &fakePlugin{panics: true}, -int32(syscall.EIO)},
		{"bad xclbin", request(models.ReqLoadXclbin, []byte("xclbin2\x00")), &fakePlugin{}, -int32(syscall.EINVAL)},
		{"xclbin", request(models.ReqLoadXclbin, models.NewXclbinHeader(1024)), &fakePlugin{}, 0},
		{"short reclock", request(models.ReqReclock, []byte{1, 2}), &fakePlugin{}, -int32(syscall.EINVAL)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := statusOf(t, interpret(t, c.p, c.env)); got != c.want {
				t.Fatalf("status = %d, want %d", got, c.want)
			}
		})
	}
}

func TestInterpreterUserProbe(t *testing.T) {
	reply := interpret(t, nil, request(models.ReqUserProbe, nil))
	if len(reply.Payload) != models.ConnResponseSize {
		t.Fatalf("response size %d", len(reply.Payload))
	}
	if flags := binary.LittleEndian.Uint64(reply.Payload[8:]); flags&models.PeerReady == 0 {
		t.Fatalf("conn flags %#x", flags)
	}
}

func TestInterpreterPeerDataSized(t *testing.T) {
	for _, size := range []uint64{16, 2} {
		p := &fakePlugin{peer: []byte{1, 2, 3, 4}}
		pr := &models.PeerRequest{Kind: models.PeerSensor, Size: size}
		reply := interpret(t, p, request(models.ReqPeerData, pr.Encode()))

		want := make([]byte, size)
		copy(want, p.peer)
		if !bytes.Equal(reply.Payload, want) {
			t.Fatalf("size %d: payload % x", size, reply.Payload)
		}
	}
}

func TestInterpreterMigEccShortBuffer(t *testing.T) {
	p := &fakePlugin{}
	pr := &models.PeerRequest{Kind: models.PeerMigEcc, Size: 64, Entries: 4, Data: make([]byte, 2*models.MigEccEntrySize)}
	if got := statusOf(t, interpret(t, p, request(models.ReqPeerData, pr.Encode()))); got != -int32(syscall.EINVAL) {
		t.Fatalf("status = %d", got)
	}
	if p.calls != 0 {
		t.Fatal("hook invoked for malformed request")
	}
}

func TestInterpreterDropsStrayResponse(t *testing.T) {
	env := models.NewStatusResponse(7, 0)
	if reply := interpret(t, &fakePlugin{}, env); reply != nil {
		t.Fatalf("stray response answered: %+v", reply)
	}
}

func TestInterpreterWithoutHooks(t *testing.T) {
	bodies := map[models.RequestKind][]byte{
		models.ReqLoadXclbin: models.NewXclbinHeader(1024),
		models.ReqPeerData:   (&models.PeerRequest{Kind: models.PeerICAP, Size: 8}).Encode(),
		models.ReqReclock:    make([]byte, models.FreqScalingSize),
	}
	for kind := models.ReqTestReady; kind <= models.ReqReadP2PBarAddr; kind++ {
		if kind == models.ReqUserProbe {
			continue
		}
		t.Run(kind.String(), func(t *testing.T) {
			reply := interpret(t, plugin.Unsupported{}, request(kind, bodies[kind]))
			if got := statusOf(t, reply); got != -int32(syscall.ENOTSUP) {
				t.Fatalf("status = %d", got)
			}
		})
	}
}

func TestInterpreterPeerDataUnknownKind(t *testing.T) {
	p := &fakePlugin{peer: []byte{1}}
	pr := &models.PeerRequest{Kind: models.PeerKind(42), Size: 8}
	if got := statusOf(t, interpret(t, p, request(models.ReqPeerData, pr.Encode()))); got != -int32(syscall.ENOTSUP) {
		t.Fatalf("status = %d", got)
	}
	if p.calls != 0 {
		t.Fatal("hook invoked for unknown peer kind")
	}
}
