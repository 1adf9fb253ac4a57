package nodeclient

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"clustergate/internal/resp"
)

// fakeServer accepts one connection and replies to each incoming
// envelope using respond, in arrival order, matching the real node
// client contract's single-connection pipelining.
func fakeServer(t *testing.T, respond func(cmd []string) resp.Value) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			cmd, err := readCommand(r)
			if err != nil {
				return
			}
			reply := respond(cmd)
			conn.Write([]byte(encodeForTest(reply)))
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	return ln.Addr().String(), func() {
		close(done)
		ln.Close()
	}
}

// readCommand decodes one RESP2 array-of-bulk-strings request.
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
		if _, err := readFull(r, buf); err != nil {
			return nil, err
		}
		out = append(out, string(buf[:size]))
	}
	return out, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
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
	default:
		return "+OK\r\n"
	}
}

func TestSendRoundTrip(t *testing.T) {
	addr, stop := fakeServer(t, func(cmd []string) resp.Value {
		if cmd[0] == "PING" || cmd[0] == "AUTH" {
			return resp.SimpleString("PONG")
		}
		if cmd[0] == "GET" {
			return resp.BulkString([]byte("hello"))
		}
		return resp.SimpleString("OK")
	})
	defer stop()

	c, err := Dial(Config{Addr: addr, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	reply, err := c.Send(resp.NewCommand("GET", "mykey"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Kind != resp.KindBulkString || string(reply.Bulk) != "hello" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestSendPairOrdering(t *testing.T) {
	var seen []string
	done := make(chan struct{})
	addr, stop := fakeServer(t, func(cmd []string) resp.Value {
		if cmd[0] == "PING" {
			return resp.SimpleString("PONG")
		}
		seen = append(seen, cmd[0])
		if len(seen) == 2 {
			close(done)
		}
		return resp.SimpleString("OK")
	})
	defer stop()

	c, err := Dial(Config{Addr: addr, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	reply, err := c.SendPair(resp.NewCommand("ASKING"), resp.NewCommand("GET", "k"))
	if err != nil {
		t.Fatalf("SendPair: %v", err)
	}
	if reply.Kind != resp.KindSimpleString || reply.Str != "OK" {
		t.Fatalf("unexpected reply: %v", reply)
	}
	<-done
	if len(seen) != 2 || seen[0] != "ASKING" || seen[1] != "GET" {
		t.Fatalf("expected ASKING then GET with no interleaving, got %v", seen)
	}
}

func TestCloseFailsPendingSend(t *testing.T) {
	block := make(chan struct{})
	addr, stop := fakeServer(t, func(cmd []string) resp.Value {
		if cmd[0] == "PING" {
			return resp.SimpleString("PONG")
		}
		<-block // never reply, forcing Close to race a pending Send
		return resp.SimpleString("OK")
	})
	defer stop()
	defer close(block)

	c, err := Dial(Config{Addr: addr, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Send(resp.NewCommand("GET", "stuck"))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected an error once the connection is closed mid-flight")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Send never returned after Close; goroutine leaked")
	}
}
