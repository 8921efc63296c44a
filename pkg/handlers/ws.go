/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/services"
)

const (
	wsWriteWait = 10 * time.Second
	// systemPushInterval drives the /ws/system metric loop.
	systemPushInterval = 2 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The console is served by the appliance itself on an air-gapped LAN;
	// origin checks would only break access through the box's hostname vs
	// its address.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WsSystem pushes a resource snapshot every two seconds until the client
// goes away.
func (h *Handler) WsSystem(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.ErrorS(err, "websocket upgrade failed", "path", c.Request.URL.Path)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go discardReads(conn, cancel)

	ticker := time.NewTicker(systemPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := resourceSnapshot(ctx)
			if devices, err := h.prober.Devices(ctx); err == nil {
				snapshot["gpu_devices"] = devices
			}
			snapshot["active_training_job"] = h.training.ActiveJobId()
			snapshot["active_eval_job"] = h.eval.ActiveJobId()
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}

// WsLogs streams journal entries; the follower child dies with the socket.
func (h *Handler) WsLogs(c *gin.Context) {
	filter := services.LogFilter{
		Service:  c.Query("service"),
		Severity: c.Query("severity"),
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.ErrorS(err, "websocket upgrade failed", "path", c.Request.URL.Path)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go discardReads(conn, cancel)

	entries := make(chan *services.LogEntry, 64)
	errc := make(chan error, 1)
	go func() { errc <- h.services.Follow(ctx, filter, entries) }()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errc:
			if err != nil {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteJSON(gin.H{"error": err.Error()})
			}
			return
		case entry := <-entries:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}

// WsTerminal attaches a shell to the socket through a pseudo-terminal.
func (h *Handler) WsTerminal(c *gin.Context) {
	h.servePty(c, "/bin/bash", "-l")
}

// WsPython attaches an interactive Python to the socket.
func (h *Handler) WsPython(c *gin.Context) {
	h.servePty(c, "python3", "-i")
}

// resizeMessage is the single control frame the terminal sockets accept;
// every other text or binary frame is raw keyboard input.
type resizeMessage struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (h *Handler) servePty(c *gin.Context, name string, args ...string) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.ErrorS(err, "websocket upgrade failed", "path", c.Request.URL.Path)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	tty, err := pty.Start(cmd)
	if err != nil {
		klog.ErrorS(err, "failed to start pty", "command", name)
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = conn.WriteJSON(gin.H{"error": "failed to start " + name})
		return
	}
	defer func() {
		tty.Close()
		// the context kills the child when the socket drops
		_ = cmd.Wait()
	}()

	// pty → socket
	go func() {
		defer cancel()
		buf := make([]byte, 8192)
		for {
			n, err := tty.Read(buf)
			if n > 0 {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// socket → pty
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			var resize resizeMessage
			if json.Unmarshal(payload, &resize) == nil && resize.Type == "resize" {
				if err := pty.Setsize(tty, &pty.Winsize{Cols: resize.Cols, Rows: resize.Rows}); err != nil {
					klog.ErrorS(err, "pty resize failed")
				}
				continue
			}
		}
		if _, err = tty.Write(payload); err != nil {
			return
		}
	}
}

// discardReads drains the client side of a push-only socket so pings are
// answered, and cancels the context when the peer disconnects.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, r, err := conn.NextReader()
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, r)
	}
}
