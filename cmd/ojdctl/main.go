// Command ojdctl is a reference IPC client for ojd: it dials the
// daemon's socket, sends Hello followed by Ping, and prints both
// responses. It exists to exercise the Listener's newline-delimited
// JSON framing end to end from something other than a test, not as the
// CLI described for the daemon (no subcommand surface, no TUI).
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ajlab/ojd/internal/common/config"
)

type request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type response struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	OK      bool            `json:"ok"`
	Error   *errorInfo      `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorInfo struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func main() {
	sockFlag := flag.String("sock", "", "path to the ojd unix socket (default: <state_dir>/oj.sock)")
	timeout := flag.Duration("timeout", 5*time.Second, "dial/round-trip timeout")
	flag.Parse()

	sockPath := *sockFlag
	if sockPath == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ojdctl: failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		sockPath = filepath.Join(cfg.StateDir, "oj.sock")
	}

	conn, err := net.DialTimeout("unix", sockPath, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ojdctl: dial %s: %v\n", sockPath, err)
		os.Exit(1)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(*timeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	helloPayload, _ := json.Marshal(map[string]int{"version": 1})
	if err := roundTrip(enc, scanner, request{ID: "1", Type: "Hello", Payload: helloPayload}); err != nil {
		fmt.Fprintf(os.Stderr, "ojdctl: Hello: %v\n", err)
		os.Exit(1)
	}
	if err := roundTrip(enc, scanner, request{ID: "2", Type: "Ping"}); err != nil {
		fmt.Fprintf(os.Stderr, "ojdctl: Ping: %v\n", err)
		os.Exit(1)
	}
}

func roundTrip(enc *json.Encoder, scanner *bufio.Scanner, req request) error {
	if err := enc.Encode(req); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		return fmt.Errorf("read: connection closed")
	}

	var resp response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s (%s)", req.Type, resp.Error.Message, resp.Error.Category)
	}
	fmt.Printf("%s ok: %s\n", req.Type, string(resp.Payload))
	return nil
}
