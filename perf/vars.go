package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency = metric.NewHistogram("1m1s")
	RecordsRx       = metric.NewCounter("10s1s")
	RecordsTx       = metric.NewCounter("10s1s")
	BadFrames       = metric.NewCounter("10s1s")
	TunDrops        = metric.NewCounter("10s1s")
	SessionsUp      = metric.NewCounter("1m1s")
	SessionsDown    = metric.NewCounter("1m1s")
	QueryResponses  = metric.NewCounter("10s1s")
	LSAsRx          = metric.NewCounter("10s1s")
	LSAsTx          = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("dvpn:Records rx/s", RecordsRx)
	expvar.Publish("dvpn:Records tx/s", RecordsTx)
	expvar.Publish("dvpn:BadFrames/s", BadFrames)
	expvar.Publish("dvpn:TunDrops/s", TunDrops)
	expvar.Publish("dvpn:SessionsUp", SessionsUp)
	expvar.Publish("dvpn:SessionsDown", SessionsDown)
	expvar.Publish("dvpn:QueryResponses/s", QueryResponses)
	expvar.Publish("dvpn:LSAs rx/s", LSAsRx)
	expvar.Publish("dvpn:LSAs tx/s", LSAsTx)
	expvar.Publish("dvpn:DispatchLatency (µs)", DispatchLatency)
}
