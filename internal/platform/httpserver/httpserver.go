package httpserver

import (
	"net/http"
	"time"
)

// requestBudget covers decoding, the gate and two audit appends.
const requestBudget = 15 * time.Second

// New builds the gateway server. POST /consensus blocks for up to roundTimeout
// while votes are collected, so the write deadline is stretched by that much.
func New(addr string, handler http.Handler, roundTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       requestBudget,
		WriteTimeout:      requestBudget + roundTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
