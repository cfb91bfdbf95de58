package statistics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brodyxchen/swmailbox/log"
	"github.com/rcrowley/go-metrics"
)

func LogRoutine(title string, r metrics.Registry, freq time.Duration, closeChan chan struct{}) {
	go func() {
		ticker := time.NewTicker(freq)
		defer ticker.Stop()
		for {
			select {
			case <-closeChan:
				return
			case <-ticker.C:
				if msg := format(title, r); msg != "" {
					log.Info(msg)
				}
			}
		}
	}()
}

func format(title string, r metrics.Registry) string {
	var counters, gauges, hists []string

	r.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case metrics.Counter:
			counters = append(counters, fmt.Sprintf("%s: %d", name, metric.Count()))
		case metrics.Gauge:
			gauges = append(gauges, fmt.Sprintf("%s: %d", name, metric.Value()))
		case metrics.Histogram:
			if metric.Count() == 0 {
				return
			}
			h := metric.Snapshot()
			metric.Clear()
			ps := h.Percentiles([]float64{0.5, 0.95, 0.99})
			hists = append(hists, fmt.Sprintf("%s: count=%d, min=%d, max=%d, mean=%.2f, median=%.2f, 95%%=%.2f, 99%%=%.2f",
				name, h.Count(), h.Min(), h.Max(), h.Mean(), ps[0], ps[1], ps[2]))
		}
	})

	sb := strings.Builder{}
	section := func(kind string, list []string) {
		if len(list) == 0 {
			return
		}
		sort.Strings(list)
		sb.WriteString(fmt.Sprintf("%s(%d):{", kind, len(list)))
		for _, v := range list {
			sb.WriteString("[")
			sb.WriteString(v)
			sb.WriteString("],")
		}
		sb.WriteString("}, ")
	}
	section("counter", counters)
	section("gauge", gauges)
	section("hist", hists)

	if sb.Len() > 0 {
		return title + "==>" + sb.String()
	}
	return ""
}
