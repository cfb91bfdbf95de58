// Package statistics counts relay traffic for one daemon process and logs
// a snapshot periodically when enabled.
package statistics

import (
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

var (
	closeMutex sync.Mutex
	closeChan  chan struct{}

	Reg = metrics.NewRegistry()

	Enable = false

	LocalMessages  = metrics.NewRegisteredCounter("message.local", Reg)
	RemoteMessages = metrics.NewRegisteredCounter("message.remote", Reg)
	Interpreted    = metrics.NewRegisteredCounter("message.interpreted", Reg)
	Dropped        = metrics.NewRegisteredCounter("message.dropped", Reg)
	HandlerErrors  = metrics.NewRegisteredCounter("handler.error", Reg)

	Connections = metrics.NewRegisteredCounter("conn.accepted", Reg)
	Rejected    = metrics.NewRegisteredCounter("conn.rejected", Reg)
	Pairs       = metrics.NewRegisteredCounter("pair.running", Reg)

	// microseconds from receive to delivery
	DispatchHist = metrics.NewRegisteredHistogram("dispatch.us", Reg, metrics.NewExpDecaySample(1028, 0.015))
)

// Run starts the log routine; it is a no-op unless Enable is set.
func Run(title string, freq time.Duration) {
	if !Enable {
		return
	}

	closeMutex.Lock()
	defer closeMutex.Unlock()
	if closeChan != nil {
		return
	}
	closeChan = make(chan struct{})
	LogRoutine(title, Reg, freq, closeChan)
}

func Close() {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	if closeChan != nil {
		close(closeChan)
		closeChan = nil
	}
}

func ObserveDispatch(received time.Time) {
	if received.IsZero() {
		return
	}
	DispatchHist.Update(time.Since(received).Microseconds())
}
