// Package nodeclient implements the node client contract (C1): one
// pipelined TCP connection to one back-end, accepting envelopes and
// resolving them to replies in FIFO order. It still needs a concrete
// body for the gateway to run, so it is adapted from an earlier
// node-migration tool's hand-rolled RESP client
// (internal/redisx/client.go) with the RDB-streaming/pipeline-batching
// surface (RawRead, CloseWrite, the 128MB receive-buffer tuning)
// stripped — none of that belongs to a command router — and a
// single-writer mailbox goroutine added so Send truly pipelines
// concurrent callers instead of serializing them behind one mutex.
package nodeclient

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clustergate/internal/resp"
)

// NodeError is the error category defined for the node client
// contract.
type NodeError struct {
	Kind string // "NotConnected" or "Disconnected"
}

func (e *NodeError) Error() string { return "nodeclient: " + e.Kind }

var (
	// ErrNotConnected is returned synchronously by Send once the
	// connection is known dead.
	ErrNotConnected = &NodeError{Kind: "NotConnected"}
	// ErrDisconnected is returned when the connection is lost between
	// send and reply.
	ErrDisconnected = &NodeError{Kind: "Disconnected"}
)

const defaultTimeout = 5 * time.Second

// Config describes minimal connection parameters, mirroring
// redisx.Config in the earlier node-migration tool.
type Config struct {
	Addr     string
	Password string
	TLS      bool
	Timeout  time.Duration
}

type pending struct {
	reply chan resp.Value
	err   chan error
}

// Client is one pipelined connection to one back-end. Requests
// submitted via Send are written to the wire by a single mailbox
// goroutine in submission order; a dedicated reader goroutine resolves
// replies to the matching pending entry in that same order, giving
// the FIFO pipelining guarantee the contract requires.
type Client struct {
	addr    string
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration

	writeMu sync.Mutex // guards writeEnvelope framing only

	jobCh        chan writeJob
	pendingQueue chan pending

	closeMu  sync.Mutex // guards the closed/closeErr transition so Send never enqueues after Close has started draining
	closed   atomic.Bool
	closeErr chan struct{}
	once     sync.Once
}

// Dial opens a connection and authenticates if a password is set,
// adapted from redisx.Dial.
func Dial(cfg Config) (*Client, error) {
	if cfg.TLS {
		return nil, errors.New("nodeclient: TLS is not supported")
	}
	if cfg.Addr == "" {
		return nil, errors.New("nodeclient: addr is empty")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	conn, err := net.DialTimeout("tcp", cfg.Addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: dial %s failed: %w", cfg.Addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	c := &Client{
		addr:         cfg.Addr,
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, 64*1024),
		timeout:      timeout,
		jobCh:        make(chan writeJob, 256),
		pendingQueue: make(chan pending, 256),
		closeErr:     make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()

	if cfg.Password != "" {
		if _, err := c.Send(resp.NewCommand("AUTH", cfg.Password)); err != nil {
			c.Close()
			return nil, fmt.Errorf("nodeclient: auth failed: %w", err)
		}
	}
	if _, err := c.Send(resp.NewCommand("PING")); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Addr returns the remote address this client is connected to.
func (c *Client) Addr() string { return c.addr }

// writeJob is one jobCh mailbox entry, decoupling Send callers from the
// socket write: the reader loop consumes replies strictly in the order
// entries are pushed to jobCh.
type writeJob struct {
	envelope resp.Value
	p        pending
}

func (c *Client) writeLoop() {
	for {
		var job writeJob
		select {
		case job = <-c.jobCh:
		case <-c.closeErr:
			return
		}
		c.writeMu.Lock()
		err := c.writeEnvelope(job.envelope)
		c.writeMu.Unlock()
		if err != nil {
			c.failAndClose(job.p, ErrDisconnected)
			continue
		}
		select {
		case c.pendingQueue <- job.p:
		case <-c.closeErr:
			c.failAndClose(job.p, ErrDisconnected)
			return
		}
	}
}

func (c *Client) failAndClose(p pending, err error) {
	p.err <- err
	c.Close()
}

func (c *Client) readLoop() {
	for {
		var p pending
		select {
		case p = <-c.pendingQueue:
		case <-c.closeErr:
			return
		}
		v, err := c.readReply()
		if err != nil {
			p.err <- ErrDisconnected
			c.Close()
			return
		}
		p.reply <- v
	}
}

func (c *Client) readReply() (resp.Value, error) {
	c.conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
	line, err := c.reader.ReadByte()
	if err != nil {
		return resp.Value{}, err
	}
	switch line {
	case '+':
		s, err := readLine(c.reader)
		if err != nil {
			return resp.Value{}, err
		}
		return resp.SimpleString(s), nil
	case '-':
		s, err := readLine(c.reader)
		if err != nil {
			return resp.Value{}, err
		}
		return resp.Error(s), nil
	case ':':
		s, err := readLine(c.reader)
		if err != nil {
			return resp.Value{}, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return resp.Value{}, fmt.Errorf("nodeclient: bad integer reply %q: %w", s, err)
		}
		return resp.Integer(n), nil
	case '$':
		s, err := readLine(c.reader)
		if err != nil {
			return resp.Value{}, err
		}
		size, err := strconv.Atoi(s)
		if err != nil {
			return resp.Value{}, fmt.Errorf("nodeclient: bad bulk length %q: %w", s, err)
		}
		if size == -1 {
			return resp.Nil(), nil
		}
		data := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, data); err != nil {
			return resp.Value{}, err
		}
		return resp.BulkString(data[:size]), nil
	case '*':
		s, err := readLine(c.reader)
		if err != nil {
			return resp.Value{}, err
		}
		count, err := strconv.Atoi(s)
		if err != nil {
			return resp.Value{}, fmt.Errorf("nodeclient: bad array length %q: %w", s, err)
		}
		if count == -1 {
			return resp.Nil(), nil
		}
		items := make([]resp.Value, 0, count)
		for i := 0; i < count; i++ {
			item, err := c.readReply()
			if err != nil {
				return resp.Value{}, err
			}
			items = append(items, item)
		}
		return resp.Array(items...), nil
	default:
		return resp.Value{}, fmt.Errorf("nodeclient: unexpected RESP prefix %q", line)
	}
}

func (c *Client) writeEnvelope(envelope resp.Value) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	var buf bytes.Buffer
	if envelope.Kind != resp.KindArray {
		return fmt.Errorf("nodeclient: envelope must be an array, got %v", envelope.Kind)
	}
	fmt.Fprintf(&buf, "*%d\r\n", len(envelope.Array))
	for _, item := range envelope.Array {
		b, ok := item.Bytes()
		if !ok {
			return fmt.Errorf("nodeclient: envelope element must be a string")
		}
		fmt.Fprintf(&buf, "$%d\r\n", len(b))
		buf.Write(b)
		buf.WriteString("\r\n")
	}
	_, err := c.conn.Write(buf.Bytes())
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// enqueue pushes jobs onto the mailbox under closeMu so a Close
// racing with a Send can never leave a job stranded in the channel
// after the drain loop has already run: either the job is queued
// before closed flips, or Send observes closed and fails fast.
func (c *Client) enqueue(jobs ...writeJob) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Load() {
		return ErrNotConnected
	}
	for _, j := range jobs {
		c.jobCh <- j
	}
	return nil
}

// Send submits one envelope and blocks for its reply. On connection
// loss between send and reply, it returns ErrDisconnected; if the
// client is already known dead, it returns ErrNotConnected
// synchronously without touching the wire.
func (c *Client) Send(envelope resp.Value) (resp.Value, error) {
	p := pending{reply: make(chan resp.Value, 1), err: make(chan error, 1)}
	if err := c.enqueue(writeJob{envelope: envelope, p: p}); err != nil {
		return resp.Value{}, err
	}
	select {
	case v := <-p.reply:
		return v, nil
	case err := <-p.err:
		return resp.Value{}, err
	}
}

// SendPair submits two envelopes back-to-back on this connection with
// no other router-initiated envelope interleaved between them, and
// returns the reply to the second. This is how ASK redirections send
// the ASKING sentinel immediately ahead of the retried command: both
// jobs are pushed to the single-writer mailbox in one enqueue call
// before either's reply is awaited, so no concurrent Send from
// elsewhere in the router can land between them.
func (c *Client) SendPair(first, second resp.Value) (resp.Value, error) {
	p1 := pending{reply: make(chan resp.Value, 1), err: make(chan error, 1)}
	p2 := pending{reply: make(chan resp.Value, 1), err: make(chan error, 1)}
	if err := c.enqueue(
		writeJob{envelope: first, p: p1},
		writeJob{envelope: second, p: p2},
	); err != nil {
		return resp.Value{}, err
	}

	select {
	case <-p1.reply:
	case <-p1.err:
		// first failed; second will fail too once the connection is torn down.
	}
	select {
	case v := <-p2.reply:
		return v, nil
	case err := <-p2.err:
		return resp.Value{}, err
	}
}

// Close tears down the connection; any requests still in flight, or
// still sitting in the mailbox, resolve with ErrDisconnected.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.closeMu.Lock()
		c.closed.Store(true)
		close(c.closeErr)
		err = c.conn.Close()
		c.closeMu.Unlock()
		c.drain()
	})
	return err
}

// drain fails every job left in the mailbox once no further Send can
// enqueue one (closed is already true under closeMu by the time this
// runs), so no caller is left blocked on a reply that will never come.
func (c *Client) drain() {
	for {
		select {
		case job := <-c.jobCh:
			job.p.err <- ErrDisconnected
		case p := <-c.pendingQueue:
			p.err <- ErrDisconnected
		default:
			return
		}
	}
}
