// Package pprof keeps the net/http/pprof import, and its init side effect, out
// of every package but the daemon.
package pprof

import (
	"net/http"
	"net/http/pprof"
)

// WithProfile returns the pprof handlers, to be mounted at /debug/pprof.
func WithProfile() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
