// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge exposes a serial port to WebSocket clients. Binary messages
// from the client are written to the port and bytes read from the port are
// sent back as binary messages. One client holds the port at a time.
package bridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

// readSlice bounds how long the port reader blocks before checking for a
// disconnected client
const readSlice = 50 * time.Millisecond

// Bridge serves one serial port over WebSocket
type Bridge struct {
	port     serialport.Port
	username string
	password string
	log      *zap.SugaredLogger

	upgrader websocket.Upgrader
	mu       sync.Mutex
	busy     bool
	base     context.Context
}

// New creates a bridge for port. An empty username disables authentication.
func New(port serialport.Port, username, password string, logger *zap.SugaredLogger) *Bridge {
	return &Bridge{
		port:     port,
		username: username,
		password: password,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 256,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (b *Bridge) authorized(r *http.Request) bool {
	if b.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(b.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(b.password)) == 1
	return userOK && passOK
}

// acquire claims the port and returns the context bounding the session
func (b *Bridge) acquire() (context.Context, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy {
		return nil, false
	}
	b.busy = true
	if b.base == nil {
		return context.Background(), true
	}
	return b.base, true
}

func (b *Bridge) release() {
	b.mu.Lock()
	b.busy = false
	b.mu.Unlock()
}

// ServeHTTP upgrades the request and pumps bytes until either side closes
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="coldlocker"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	base, ok := b.acquire()
	if !ok {
		http.Error(w, "port in use", http.StatusConflict)
		return
	}
	defer b.release()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	b.log.Infow("bridge client connected", "remote", r.RemoteAddr)
	b.pump(base, conn)
	b.log.Infow("bridge client disconnected", "remote", r.RemoteAddr)
}

func (b *Bridge) pump(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	b.port.SetReadTimeout(readSlice)
	b.port.ResetInputBuffer()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 64)
		for ctx.Err() == nil {
			n, err := b.port.Read(buf)
			if err != nil {
				cancel()
				return
			}
			if n == 0 {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if _, err := b.port.Write(data); err != nil {
			if !errors.Is(err, serialport.ErrClosed) {
				b.log.Warnf("port write: %v", err)
			}
			break
		}
	}
	cancel()
	<-done
}

// ListenAndServe serves the bridge on addr until ctx is done
func (b *Bridge) ListenAndServe(ctx context.Context, addr string) error {
	b.mu.Lock()
	b.base = ctx
	b.mu.Unlock()

	srv := &http.Server{
		Addr:              addr,
		Handler:           b,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// hijacked connections end through the session context
		srv.Shutdown(shutdown)
		return nil
	}
}
