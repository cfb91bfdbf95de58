package relay

import (
	"fmt"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/statistics"
)

// Interpreter answers requests from the local mailbox through the plugin
// hooks. Every request gets exactly one response carrying its id.
type Interpreter struct {
	Index  int
	Name   string
	Plugin plugin.Plugin
}

func NewInterpreter(index int, name string, p plugin.Plugin) *Interpreter {
	if p == nil {
		p = plugin.Unsupported{}
	}
	return &Interpreter{Index: index, Name: name, Plugin: p}
}

func (in *Interpreter) logf(level log.Level, format string, args ...interface{}) {
	if log.Enabled(level) {
		log.Print(level, in.Name+": "+fmt.Sprintf(format, args...))
	}
}

// Handle is a queue.Handler.
func (in *Interpreter) Handle(env *models.Envelope) (*models.Envelope, bool) {
	if !env.IsRequest() {
		in.logf(log.LevelWarn, "stray message dropped, id=%#x flags=%#x", env.ID, env.Flags)
		return nil, true
	}
	statistics.Interpreted.Inc(1)

	req, err := models.ParseRequest(env.Payload)
	if err != nil {
		in.logf(log.LevelError, "local request dropped, wrong size %d", env.Size)
		return in.status(env.ID, models.ReqUnknown, err), true
	}
	in.logf(log.LevelInfo, "request %s received", req.Kind)

	payload, err := in.call(req)
	if err != nil {
		return in.status(env.ID, req.Kind, err), true
	}
	if payload == nil {
		return in.status(env.ID, req.Kind, nil), true
	}
	in.logf(log.LevelInfo, "response %s sent", req.Kind)
	return models.NewEnvelope(payload, env.ID, models.FlagResponse), true
}

func (in *Interpreter) status(id uint64, kind models.RequestKind, err error) *models.Envelope {
	code := errors.Errno(err)
	if code != 0 {
		statistics.HandlerErrors.Inc(1)
	}
	in.logf(log.LevelInfo, "response %s sent ret = %d", kind, code)
	return models.NewStatusResponse(id, code)
}

// call runs the hook for req. A nil payload with a nil error is a plain
// success status.
func (in *Interpreter) call(req *models.MailboxRequest) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			in.logf(log.LevelError, "plugin panic on %s: %v", req.Kind, r)
			payload, err = nil, errors.StatusHandlerPanic
		}
	}()

	if !req.Kind.Known() {
		return nil, errors.ErrNotSupported
	}

	p := in.Plugin
	switch req.Kind {
	case models.ReqUserProbe:
		return models.NewConnResponse(0), nil

	case models.ReqLoadXclbin:
		xclbin, err := models.ParseXclbin(req.Data)
		if err != nil {
			return nil, err
		}
		return nil, p.LoadXclbin(in.Index, xclbin)

	case models.ReqPeerData:
		pr, err := models.ParsePeerRequest(req.Data)
		if err != nil {
			return nil, err
		}
		if !pr.Kind.Known() {
			return nil, errors.ErrNotSupported
		}
		if pr.Size > constant.MaxPayloadSize {
			return nil, errors.ErrInvalidRequest
		}
		data, err := p.PeerData(in.Index, pr)
		if err != nil {
			return nil, err
		}
		size := int(pr.Size)
		if size == 0 {
			size = len(data)
		}
		resp := make([]byte, size)
		copy(resp, data)
		return resp, nil

	case models.ReqLockBitstream:
		return nil, p.LockBitstream(in.Index)

	case models.ReqUnlockBitstream:
		return nil, p.UnlockBitstream(in.Index)

	case models.ReqHotReset:
		return nil, p.HotReset(in.Index)

	case models.ReqReclock:
		freq, err := models.ParseFreqScaling(req.Data)
		if err != nil {
			return nil, err
		}
		return nil, p.Reclock(in.Index, freq)

	case models.ReqProgramShell:
		return nil, p.ProgramShell(in.Index)

	case models.ReqReadP2PBarAddr:
		return nil, p.ReadP2PBarAddr(in.Index, req.Data)
	}
	return nil, errors.ErrNotSupported
}
