// Package redisstub runs an in-process RESP server implementing the handful of
// commands the recipe cache and rate limiter issue. It is only meant for tests.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	kv       map[string]*kvEntry
	failing  bool
	commands map[string]int
	closed   chan struct{}
}

type kvEntry struct {
	value  string
	expiry time.Time
}

func (e *kvEntry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && now.After(e.expiry)
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		kv:       make(map[string]*kvEntry),
		commands: make(map[string]int),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// SetFailing makes every data command reply with an error until reset.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Value returns the live string stored at key.
func (s *Server) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.lookupLocked(key)
	if entry == nil {
		return "", false
	}
	return entry.value, true
}

// Count reports how many times the named command was received.
func (s *Server) Count(command string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[strings.ToUpper(command)]
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	var queued [][]string
	inTx := false
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		s.mu.Lock()
		s.commands[cmd]++
		s.mu.Unlock()

		var werr error
		switch {
		case inTx && cmd == "EXEC":
			inTx = false
			werr = s.exec(writer, queued)
			queued = nil
		case inTx && cmd == "DISCARD":
			inTx, queued = false, nil
			werr = writeSimpleString(writer, "OK")
		case inTx:
			queued = append(queued, args)
			werr = writeSimpleString(writer, "QUEUED")
		default:
			werr = s.handleCommand(writer, cmd, args, &authenticated, &inTx)
		}
		if werr != nil {
			return
		}
	}
}

func (s *Server) handleCommand(writer *bufio.Writer, cmd string, args []string, authenticated, inTx *bool) error {
	var werr error
	switch cmd {
	case "HELLO":
		// RESP3 is not spoken here; clients fall back to RESP2.
		werr = writeError(writer, "ERR unknown command 'HELLO'")
	case "CLIENT", "SELECT":
		werr = writeSimpleString(writer, "OK")
	case "PING":
		werr = writeSimpleString(writer, "PONG")
	case "AUTH":
		password := args[len(args)-1]
		if len(args) < 2 || len(args) > 3 {
			werr = writeError(writer, "ERR wrong number of arguments for 'auth'")
		} else if s.opts.Password == "" || password == s.opts.Password {
			*authenticated = true
			werr = writeSimpleString(writer, "OK")
		} else {
			werr = writeError(writer, "WRONGPASS invalid username-password pair")
		}
	case "MULTI":
		if !*authenticated {
			werr = writeError(writer, "NOAUTH Authentication required.")
		} else {
			*inTx = true
			werr = writeSimpleString(writer, "OK")
		}
	default:
		if !*authenticated {
			werr = writeError(writer, "NOAUTH Authentication required.")
		} else {
			werr = s.dispatch(writer, cmd, args[1:])
		}
	}
	return werr
}

// exec replays a MULTI block and answers with one array holding every reply.
func (s *Server) exec(writer *bufio.Writer, queued [][]string) error {
	if _, err := fmt.Fprintf(writer, "*%d\r\n", len(queued)); err != nil {
		return err
	}
	for _, args := range queued {
		if err := s.dispatch(writer, strings.ToUpper(args[0]), args[1:]); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func (s *Server) dispatch(writer *bufio.Writer, cmd string, args []string) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		return writeError(writer, "ERR stub failure injected")
	}

	switch cmd {
	case "GET":
		if len(args) != 1 {
			return writeError(writer, "ERR wrong number of arguments for 'get'")
		}
		value, ok := s.Value(args[0])
		if !ok {
			return writeBulkNil(writer)
		}
		return writeBulkString(writer, value)
	case "SET":
		if len(args) < 2 {
			return writeError(writer, "ERR wrong number of arguments for 'set'")
		}
		ttl, err := parseSetExpiry(args[2:])
		if err != nil {
			return writeError(writer, err.Error())
		}
		s.set(args[0], args[1], ttl)
		return writeSimpleString(writer, "OK")
	case "DEL":
		if len(args) == 0 {
			return writeError(writer, "ERR wrong number of arguments for 'del'")
		}
		return writeInteger(writer, s.del(args))
	case "INCR":
		if len(args) != 1 {
			return writeError(writer, "ERR wrong number of arguments for 'incr'")
		}
		value, err := s.incr(args[0])
		if err != nil {
			return writeError(writer, err.Error())
		}
		return writeInteger(writer, value)
	case "EXPIRE", "PEXPIRE":
		if len(args) != 2 && len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'expire'")
		}
		condition := ""
		if len(args) == 3 {
			condition = strings.ToUpper(args[2])
			if condition != "NX" && condition != "XX" {
				return writeError(writer, "ERR unsupported option "+args[2])
			}
		}
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return writeError(writer, "ERR value is not an integer or out of range")
		}
		unit := time.Second
		if cmd == "PEXPIRE" {
			unit = time.Millisecond
		}
		if s.expire(args[0], time.Duration(amount)*unit, condition) {
			return writeInteger(writer, 1)
		}
		return writeInteger(writer, 0)
	case "TTL":
		if len(args) != 1 {
			return writeError(writer, "ERR wrong number of arguments for 'ttl'")
		}
		return writeInteger(writer, s.ttl(args[0]))
	default:
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd)))
	}
}

func parseSetExpiry(opts []string) (time.Duration, error) {
	var ttl time.Duration
	for i := 0; i < len(opts); i++ {
		switch strings.ToUpper(opts[i]) {
		case "EX", "PX":
			if i+1 >= len(opts) {
				return 0, fmt.Errorf("ERR syntax error")
			}
			amount, err := strconv.ParseInt(opts[i+1], 10, 64)
			if err != nil || amount <= 0 {
				return 0, fmt.Errorf("ERR invalid expire time in 'set' command")
			}
			if strings.EqualFold(opts[i], "EX") {
				ttl = time.Duration(amount) * time.Second
			} else {
				ttl = time.Duration(amount) * time.Millisecond
			}
			i++
		case "KEEPTTL", "NX", "XX", "GET":
		default:
			return 0, fmt.Errorf("ERR syntax error")
		}
	}
	return ttl, nil
}

func (s *Server) lookupLocked(key string) *kvEntry {
	entry := s.kv[key]
	if entry == nil {
		return nil
	}
	if entry.expired(time.Now()) {
		delete(s.kv, key)
		return nil
	}
	return entry
}

func (s *Server) set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &kvEntry{value: value}
	if ttl > 0 {
		entry.expiry = time.Now().Add(ttl)
	}
	s.kv[key] = entry
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if s.lookupLocked(key) != nil {
			delete(s.kv, key)
			removed++
		}
	}
	return removed
}

func (s *Server) incr(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.lookupLocked(key)
	if entry == nil {
		entry = &kvEntry{value: "0"}
		s.kv[key] = entry
	}
	current, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ERR value is not an integer or out of range")
	}
	current++
	entry.value = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *Server) expire(key string, ttl time.Duration, condition string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.lookupLocked(key)
	if entry == nil {
		return false
	}
	if (condition == "NX" && !entry.expiry.IsZero()) || (condition == "XX" && entry.expiry.IsZero()) {
		return false
	}
	entry.expiry = time.Now().Add(ttl)
	return true
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.lookupLocked(key)
	if entry == nil {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	return int64(time.Until(entry.expiry).Round(time.Second) / time.Second)
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
