package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/queue"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/brodyxchen/swmailbox/statistics"
	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/vsock"
)

const testDevice = "0000:03:00.0"

// fakeMgmt lays out a mgmt PF with a mailbox sub-device; the driver side
// of the opened mailbox is handed to the test.
func fakeMgmt(t *testing.T) (device.Options, chan net.Conn) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, testDevice)
	mb := filepath.Join(dir, "mailbox.m.2")
	if err := os.MkdirAll(mb, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../../drivers/xclmgmt", filepath.Join(dir, "driver")); err != nil {
		t.Fatal(err)
	}
	for _, attr := range []string{"config_mailbox_comm_id", "config_mailbox_channel_switch"} {
		if err := os.WriteFile(filepath.Join(mb, attr), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "instance"), []byte("3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	drivers := make(chan net.Conn, 1)
	opts := device.Options{
		SysfsRoot: root,
		Open: func(string) (socket.Endpoint, error) {
			daemon, driver := net.Pipe()
			drivers <- driver
			return daemon, nil
		},
	}
	return opts, drivers
}

type fakeProgrammer struct {
	mutex  sync.Mutex
	images [][]byte
}

func (p *fakeProgrammer) Download(ch *device.Channel, xclbin []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.images = append(p.images, xclbin)
	return nil
}

type testServer struct {
	srv     *Server
	opts    device.Options
	driver  net.Conn
	conf    device.Config
	cancel  context.CancelFunc
	errChan chan error
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	return startServerWith(t, nil)
}

func startServerWith(t *testing.T, plugins *plugin.Table) *testServer {
	t.Helper()
	opts, drivers := fakeMgmt(t)
	srv := New(&Config{Device: opts, ListenHost: "127.0.0.1", WaitInterval: 50 * time.Millisecond}, plugins)
	srv.Programmer = &fakeProgrammer{}

	ch, err := device.New(&srv.Config.Device, testDevice, 0)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{srv: srv, opts: opts, cancel: cancel, errChan: make(chan error, 1)}
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.errChan <- srv.ServeDevice(ctx, ch, func() { close(ready) })
	}()

	select {
	case ts.driver = <-drivers:
	case <-time.After(5 * time.Second):
		t.Fatal("mailbox never opened")
	}
	select {
	case <-ready:
	case err := <-ts.errChan:
		t.Fatalf("serve: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("never ready")
	}
	ts.conf = ts.loadConf(t)
	t.Cleanup(func() {
		cancel()
		ts.driver.Close()
		<-done
	})
	return ts
}

func (ts *testServer) loadConf(t *testing.T) device.Config {
	t.Helper()
	ch, err := device.New(&ts.opts, testDevice, 0)
	if err != nil {
		t.Fatal(err)
	}
	conf, err := ch.LoadConf()
	if err != nil {
		t.Fatal(err)
	}
	return conf
}

func (ts *testServer) dial(t *testing.T, id uint32) (net.Conn, uint32) {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort(ts.conf.Host, strconv.Itoa(int(ts.conf.Port))))
	if err != nil {
		t.Fatal(err)
	}
	if err = socket.WriteID(conn, id); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	st, err := socket.ReadID(conn)
	if err != nil {
		t.Fatal(err)
	}
	return conn, st
}

func readEnvelope(t *testing.T, c net.Conn) *models.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	env, err := socket.ReadEnvelope(c)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestPublishedConfig(t *testing.T) {
	ts := startServer(t)
	if ts.conf.Host != "127.0.0.1" || ts.conf.Port == 0 || ts.conf.ID == 0 {
		t.Fatalf("published %+v", ts.conf)
	}
}

func TestHandshakeRejected(t *testing.T) {
	ts := startServer(t)

	conn, st := ts.dial(t, ts.conf.ID+1)
	defer conn.Close()
	if st != socket.HandshakeRejected {
		t.Fatalf("status = %d, want rejected", st)
	}
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("rejected peer not closed")
	}

	// the device keeps listening
	ok, st := ts.dial(t, ts.conf.ID)
	defer ok.Close()
	if st != socket.HandshakeAccepted {
		t.Fatalf("status = %d, want accepted", st)
	}
}

func TestRelay(t *testing.T) {
	ts := startServer(t)
	peer, st := ts.dial(t, ts.conf.ID)
	defer peer.Close()
	if st != socket.HandshakeAccepted {
		t.Fatal("not accepted")
	}

	req := models.NewEnvelope(models.NewRequest(models.ReqPeerData, []byte{1, 2, 3, 4}), 11, models.FlagRequest)
	if err := socket.WriteEnvelope(ts.driver, req); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(req, readEnvelope(t, peer)); diff != "" {
		t.Fatal(diff)
	}

	resp := models.NewStatusResponse(11, 0)
	if err := socket.WriteEnvelope(peer, resp); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(resp, readEnvelope(t, ts.driver)); diff != "" {
		t.Fatal(diff)
	}
}

func TestLoadXclbin(t *testing.T) {
	ts := startServer(t)
	peer, _ := ts.dial(t, ts.conf.ID)
	defer peer.Close()

	image := models.NewXclbinHeader(models.XclbinHeaderSize + 16)
	req := models.NewEnvelope(models.NewRequest(models.ReqLoadXclbin, image), 21, models.FlagRequest)
	if err := socket.WriteEnvelope(peer, req); err != nil {
		t.Fatal(err)
	}

	reply := readEnvelope(t, peer)
	code, ok := models.StatusCode(reply.Payload)
	if !ok || code != 0 || reply.ID != 21 || !reply.IsResponse() {
		t.Fatalf("reply %+v", reply)
	}

	p := ts.srv.Programmer.(*fakeProgrammer)
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.images) != 1 {
		t.Fatalf("%d downloads", len(p.images))
	}
	if diff := cmp.Diff(image, p.images[0]); diff != "" {
		t.Fatal(diff)
	}
}

func TestLoadXclbinInvalid(t *testing.T) {
	ts := startServer(t)
	peer, _ := ts.dial(t, ts.conf.ID)
	defer peer.Close()

	req := models.NewEnvelope(models.NewRequest(models.ReqLoadXclbin, []byte("garbage")), 22, models.FlagRequest)
	if err := socket.WriteEnvelope(peer, req); err != nil {
		t.Fatal(err)
	}
	reply := readEnvelope(t, peer)
	if code, ok := models.StatusCode(reply.Payload); !ok || code != -22 {
		t.Fatalf("reply %+v", reply)
	}
}

func TestLocalMailboxFailure(t *testing.T) {
	ts := startServer(t)
	peer, _ := ts.dial(t, ts.conf.ID)
	defer peer.Close()

	ts.driver.Close()
	select {
	case err := <-ts.errChan:
		if !errors.Is(err, errors.ErrLocalMailbox) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("device kept serving")
	}

	ch, err := device.New(&ts.opts, testDevice, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = ch.LoadConf(); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("config not restored: %v", err)
	}
}

func TestRunShutdown(t *testing.T) {
	opts, drivers := fakeMgmt(t)
	srv := New(&Config{Device: opts, ListenHost: "127.0.0.1", WaitInterval: 50 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run(ctx)
	}()
	defer func() {
		select {
		case driver := <-drivers:
			driver.Close()
		default:
		}
	}()
	defer cancel()

	ch, err := device.New(&opts, testDevice, 0)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err = ch.LoadConf(); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never published: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	if _, err = ch.LoadConf(); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Fatalf("config not restored: %v", err)
	}
}

type retrievePlugin struct {
	plugin.Unsupported
	image []byte
	err   error
}

func (p *retrievePlugin) RetrieveXclbin(_ int, orig []byte) ([]byte, error) {
	return p.image, p.err
}

func loadXclbin(t *testing.T, ts *testServer, id uint64, image []byte) int32 {
	t.Helper()
	peer, st := ts.dial(t, ts.conf.ID)
	defer peer.Close()
	if st != socket.HandshakeAccepted {
		t.Fatal("not accepted")
	}

	req := models.NewEnvelope(models.NewRequest(models.ReqLoadXclbin, image), id, models.FlagRequest)
	if err := socket.WriteEnvelope(peer, req); err != nil {
		t.Fatal(err)
	}
	reply := readEnvelope(t, peer)
	code, ok := models.StatusCode(reply.Payload)
	if !ok || reply.ID != id {
		t.Fatalf("reply %+v", reply)
	}
	return code
}

func TestLoadXclbinRetrieved(t *testing.T) {
	retrieved := models.NewXclbinHeader(models.XclbinHeaderSize + 64)
	retrieved[len(retrieved)-1] = 0x5a

	cases := []struct {
		name    string
		p       *retrievePlugin
		want    int32
		program []byte
	}{
		{"replaced", &retrievePlugin{image: retrieved}, 0, retrieved},
		{"replaced invalid", &retrievePlugin{image: []byte("not an xclbin")}, -int32(syscall.EINVAL), nil},
		{"hook error", &retrievePlugin{err: syscall.EACCES}, -int32(syscall.EACCES), nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ts := startServerWith(t, plugin.New(c.p))
			if got := loadXclbin(t, ts, 31, models.NewXclbinHeader(models.XclbinHeaderSize)); got != c.want {
				t.Fatalf("status = %d, want %d", got, c.want)
			}

			p := ts.srv.Programmer.(*fakeProgrammer)
			p.mutex.Lock()
			defer p.mutex.Unlock()
			if c.program == nil {
				if len(p.images) != 0 {
					t.Fatalf("%d downloads", len(p.images))
				}
				return
			}
			if len(p.images) != 1 {
				t.Fatalf("%d downloads", len(p.images))
			}
			if diff := cmp.Diff(c.program, p.images[0]); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestPeerReconnect(t *testing.T) {
	ts := startServer(t)

	first, st := ts.dial(t, ts.conf.ID)
	if st != socket.HandshakeAccepted {
		t.Fatal("not accepted")
	}
	req := models.NewEnvelope(models.NewRequest(models.ReqPeerData, []byte{1}), 1, models.FlagRequest)
	if err := socket.WriteEnvelope(ts.driver, req); err != nil {
		t.Fatal(err)
	}
	readEnvelope(t, first)
	first.Close()

	// back to accept: the next peer is served on the same mailbox
	second, st := ts.dial(t, ts.conf.ID)
	defer second.Close()
	if st != socket.HandshakeAccepted {
		t.Fatal("second peer not accepted")
	}
	req = models.NewEnvelope(models.NewRequest(models.ReqPeerData, []byte{2}), 2, models.FlagRequest)
	if err := socket.WriteEnvelope(ts.driver, req); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(req, readEnvelope(t, second)); diff != "" {
		t.Fatal(diff)
	}

	select {
	case err := <-ts.errChan:
		t.Fatalf("device stopped: %v", err)
	default:
	}
}

type addrListener struct {
	net.Listener
	addr net.Addr
}

func (l addrListener) Addr() net.Addr { return l.addr }

func TestListenPort(t *testing.T) {
	cases := []struct {
		addr net.Addr
		want uint16
		ok   bool
	}{
		{&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 62000}, 62000, true},
		{&vsock.Addr{ContextID: 3, Port: 5000}, 5000, true},
		{&vsock.Addr{ContextID: 3, Port: 0x1a2b3c4d}, 0, false},
		{&vsock.Addr{ContextID: 3, Port: 0}, 0, false},
	}
	for _, c := range cases {
		got, err := listenPort(addrListener{addr: c.addr})
		if (err == nil) != c.ok || got != c.want {
			t.Fatalf("%v: port %d, err %v", c.addr, got, err)
		}
	}
}

func TestDiscardCountsQueued(t *testing.T) {
	opts, _ := fakeMgmt(t)
	ch, err := device.New(&opts, testDevice, 0)
	if err != nil {
		t.Fatal(err)
	}
	c := &Conn{Name: "srv-test", ch: ch}

	q := queue.New()
	q.Push(&queue.Message{Source: queue.Local, Envelope: models.NewStatusResponse(1, 0)})
	q.Push(&queue.Message{Source: queue.Local, Envelope: models.NewStatusResponse(2, 0)})

	before := statistics.Dropped.Count()
	if n := c.discard(q); n != 2 {
		t.Fatalf("discarded %d", n)
	}
	if got := statistics.Dropped.Count() - before; got != 2 {
		t.Fatalf("dropped counter grew by %d", got)
	}
	if c.discard(queue.New()) != 0 {
		t.Fatal("empty queue counted")
	}
}
