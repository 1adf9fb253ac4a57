package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"clustergate/internal/config"
	"clustergate/internal/resp"
)

// startFakeNode runs the same minimal scripted RESP2 server used across this
// module's package tests, standing in for one cluster node so Start
// can bootstrap and Dispatch can round-trip without a real cluster.
func startFakeNode(t *testing.T, respond func(cmd []string) resp.Value) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					cmd, err := readCommand(r)
					if err != nil {
						return
					}
					reply := respond(cmd)
					if _, err := conn.Write([]byte(encodeForTest(reply))); err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '*' {
		return nil, fmt.Errorf("expected array, got %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hdr, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		hdr = strings.TrimRight(hdr, "\r\n")
		size, err := strconv.Atoi(hdr[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		total := 0
		for total < len(buf) {
			m, err := r.Read(buf[total:])
			total += m
			if err != nil {
				return nil, err
			}
		}
		out = append(out, string(buf[:size]))
	}
	return out, nil
}

func encodeForTest(v resp.Value) string {
	switch v.Kind {
	case resp.KindSimpleString:
		return "+" + v.Str + "\r\n"
	case resp.KindError:
		return "-" + v.Str + "\r\n"
	case resp.KindInteger:
		return fmt.Sprintf(":%d\r\n", v.Int)
	case resp.KindBulkString:
		return fmt.Sprintf("$%d\r\n%s\r\n", len(v.Bulk), v.Bulk)
	case resp.KindNil:
		return "$-1\r\n"
	case resp.KindArray:
		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", len(v.Array))
		for _, e := range v.Array {
			b.WriteString(encodeForTest(e))
		}
		return b.String()
	default:
		return "+OK\r\n"
	}
}

func pingOK(cmd []string) bool { return cmd[0] == "PING" || cmd[0] == "AUTH" || cmd[0] == "CLUSTER" }

func TestStartDispatchClose(t *testing.T) {
	addr, stop := startFakeNode(t, func(cmd []string) resp.Value {
		if pingOK(cmd) {
			if cmd[0] == "CLUSTER" {
				return resp.Array() // empty CLUSTER SLOTS: no known topology, single seed still usable
			}
			return resp.SimpleString("PONG")
		}
		return resp.BulkString([]byte("world"))
	})
	defer stop()

	cfg := &config.Config{Seeds: []string{addr}}
	cfg.ApplyDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gw, err := Start(ctx, cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer gw.Close()

	reply, err := gw.Dispatch(ctx, resp.NewCommand("GET", "hello"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply.Kind != resp.KindBulkString || string(reply.Bulk) != "world" {
		t.Fatalf("unexpected reply: %v", reply)
	}

	if err := gw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := gw.Dispatch(context.Background(), resp.NewCommand("PING")); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestStartFailsWithNoReachableSeed(t *testing.T) {
	cfg := &config.Config{Seeds: []string{"127.0.0.1:1"}}
	cfg.ApplyDefaults()
	cfg.DialTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := Start(ctx, cfg); err == nil {
		t.Fatalf("expected Start to fail when no seed is reachable")
	}
}
