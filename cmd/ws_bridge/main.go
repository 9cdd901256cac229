// Command ws_bridge exposes a stdio program, typically `mars --headless`,
// over a WebSocket so browser based ACP clients can talk to it.
//
//	ws_bridge -addr :8080 -- mars --headless
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is one line of child output sent to the client.
type frame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.New(os.Stderr, config.Logging{Level: *level})
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ws_bridge [-addr :8080] -- <command> [args...]")
		os.Exit(2)
	}

	http.Handle("/ws", newHandler(flag.Args(), logger))
	logger.Info("WebSocket server running", "url", "ws://localhost"+*addr+"/ws", "command", flag.Args())
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// newHandler starts one child process per WebSocket connection. Client
// messages become lines on the child's stdin and each output line comes
// back as a frame. The child is killed when the connection closes.
func newHandler(cmdArgs []string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			logger.Error("stdin pipe", "error", err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			logger.Error("stdout pipe", "error", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			logger.Error("stderr pipe", "error", err)
			return
		}
		if err := cmd.Start(); err != nil {
			logger.Error("could not start command", "command", cmdArgs[0], "error", err)
			return
		}
		logger.Info("client connected", "remote", r.RemoteAddr, "pid", cmd.Process.Pid)

		// gorilla connections allow one concurrent writer.
		var writeMu sync.Mutex
		send := func(f frame) error {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteMessage(websocket.TextMessage, data)
		}

		var wg sync.WaitGroup
		pump := func(kind string, rd io.Reader) {
			defer wg.Done()
			sc := bufio.NewScanner(rd)
			sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
			for sc.Scan() {
				if err := send(frame{Type: kind, Data: sc.Text()}); err != nil {
					logger.Debug("write failed", "error", err)
					return
				}
			}
		}
		wg.Add(2)
		go pump("stdout", stdout)
		go pump("stderr", stderr)

		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					logger.Debug("read ended", "error", err)
					cancel()
					return
				}
				if _, err := stdin.Write(append(msg, '\n')); err != nil {
					logger.Warn("stdin write failed", "error", err)
					cancel()
					return
				}
			}
		}()

		wg.Wait()
		err = cmd.Wait()
		logger.Info("command exited", "pid", cmd.Process.Pid, "error", err)
		_ = send(frame{Type: "exit", Data: exitStatus(err)})
	})
}

func exitStatus(err error) string {
	if err == nil {
		return "0"
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return fmt.Sprint(ee.ExitCode())
	}
	return err.Error()
}
