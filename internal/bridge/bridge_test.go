// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Thermoquad/coldlocker/pkg/serialport"
)

func startBridge(t *testing.T, username, password string) (string, serialport.Port) {
	t.Helper()
	near, far := serialport.Pipe(0)
	srv := httptest.NewServer(New(near, username, password, zap.NewNop().Sugar()))
	t.Cleanup(func() {
		far.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), far
}

func dial(t *testing.T, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// ============================================================
// Bridge Tests
// ============================================================

func TestBridge_PumpsBothWays(t *testing.T) {
	url, far := startBridge(t, "", "")
	conn, _, err := dial(t, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x11}); err != nil {
		t.Fatalf("write: %v", err)
	}
	far.SetReadTimeout(time.Second)
	buf := make([]byte, 8)
	n, err := far.Read(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte{0x01, 0x11}) {
		t.Fatalf("port read % X, %v", buf[:n], err)
	}

	far.Write([]byte{0xAA, 0xBB})
	conn.SetReadDeadline(time.Now().Add(time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage || !bytes.Equal(data, []byte{0xAA, 0xBB}) {
		t.Errorf("unexpected message %d % X", kind, data)
	}
}

func TestBridge_Auth(t *testing.T) {
	url, _ := startBridge(t, "tech", "secret")

	_, resp, err := dial(t, url, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail without credentials")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("tech:secret")))
	if _, _, err := dial(t, url, header); err != nil {
		t.Errorf("dial with credentials: %v", err)
	}
}

func TestBridge_OneClientAtATime(t *testing.T) {
	url, _ := startBridge(t, "", "")
	if _, _, err := dial(t, url, nil); err != nil {
		t.Fatalf("first dial: %v", err)
	}

	_, resp, err := dial(t, url, nil)
	if err == nil {
		t.Fatal("second client should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %v", resp)
	}
}
