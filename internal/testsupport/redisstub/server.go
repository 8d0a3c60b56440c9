// Package redisstub runs a minimal in-process Redis protocol server for
// integration tests. It implements only the counter commands the rate
// limiter store issues and the hash commands the upload session store
// issues; it is not a general Redis emulation.
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
	counters map[string]*counterEntry
	hashes   map[string]*hashEntry
	closed   chan struct{}
}

type counterEntry struct {
	value  int64
	expiry time.Time
}

type hashEntry struct {
	fields map[string]string
	order  []string
	expiry time.Time
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
		counters: make(map[string]*counterEntry),
		hashes:   make(map[string]*hashEntry),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
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
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authed := s.opts.Password == ""

	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		cmd := strings.ToUpper(args[0])

		if cmd == "AUTH" {
			if len(args) < 2 || args[len(args)-1] != s.opts.Password {
				writeError(writer, "ERR invalid password")
				continue
			}
			authed = true
			writeSimple(writer, "OK")
			continue
		}
		if !authed {
			writeError(writer, "NOAUTH Authentication required.")
			continue
		}

		switch cmd {
		case "PING":
			writeSimple(writer, "PONG")
		case "INCR":
			if len(args) != 2 {
				writeError(writer, "ERR wrong number of arguments for 'incr' command")
				continue
			}
			writeInt(writer, s.incr(args[1]))
		case "EXPIRE":
			if len(args) != 3 {
				writeError(writer, "ERR wrong number of arguments for 'expire' command")
				continue
			}
			seconds, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				writeError(writer, "ERR value is not an integer or out of range")
				continue
			}
			writeInt(writer, s.expire(args[1], seconds))
		case "TTL":
			if len(args) != 2 {
				writeError(writer, "ERR wrong number of arguments for 'ttl' command")
				continue
			}
			writeInt(writer, s.ttl(args[1]))
		case "HSETNX":
			if len(args) != 4 {
				writeError(writer, "ERR wrong number of arguments for 'hsetnx' command")
				continue
			}
			writeInt(writer, s.hsetnx(args[1], args[2], args[3]))
		case "HLEN":
			if len(args) != 2 {
				writeError(writer, "ERR wrong number of arguments for 'hlen' command")
				continue
			}
			writeInt(writer, s.hlen(args[1]))
		case "DEL":
			if len(args) < 2 {
				writeError(writer, "ERR wrong number of arguments for 'del' command")
				continue
			}
			writeInt(writer, s.del(args[1:]))
		case "EVALSHA":
			// Force the client to retry with the full script body.
			writeError(writer, "NOSCRIPT No matching script.")
		case "EVAL":
			if len(args) < 4 {
				writeError(writer, "ERR wrong number of arguments for 'eval' command")
				continue
			}
			if !strings.Contains(args[1], "HGETALL") {
				writeError(writer, "ERR unsupported script")
				continue
			}
			writeFlatPairs(writer, s.takeHash(args[3]))
		case "QUIT":
			writeSimple(writer, "OK")
			return
		default:
			writeError(writer, fmt.Sprintf("ERR unknown command '%s'", args[0]))
		}
	}
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &counterEntry{}
		s.counters[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, seconds int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	if entry := s.counters[key]; entry != nil {
		entry.expiry = deadline
		return 1
	}
	if entry := s.hashes[key]; entry != nil {
		entry.expiry = deadline
		return 1
	}
	return 0
}

func (s *Server) hsetnx(key, field, value string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.hashes[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &hashEntry{fields: make(map[string]string)}
		s.hashes[key] = entry
	}
	if _, exists := entry.fields[field]; exists {
		return 0
	}
	entry.fields[field] = value
	entry.order = append(entry.order, field)
	return 1
}

func (s *Server) hlen(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.hashes[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		return 0
	}
	return int64(len(entry.fields))
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.counters[key]; ok {
			delete(s.counters, key)
			removed++
			continue
		}
		if _, ok := s.hashes[key]; ok {
			delete(s.hashes, key)
			removed++
		}
	}
	return removed
}

// takeHash reads and deletes a hash in one locked step, mirroring the
// HGETALL plus DEL script the upload store runs atomically.
func (s *Server) takeHash(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.hashes[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		delete(s.hashes, key)
		return nil
	}
	delete(s.hashes, key)
	pairs := make([]string, 0, len(entry.order)*2)
	for _, field := range entry.order {
		pairs = append(pairs, field, entry.fields[field])
	}
	return pairs
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.counters, key)
		return -2
	}
	seconds := int64(remaining / time.Second)
	if seconds == 0 {
		seconds = 1
	}
	return seconds
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, nil
	}
	if line[0] != '*' {
		// Inline command form.
		return strings.Fields(line), nil
	}
	count, err := strconv.Atoi(line[1:])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		header, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(header) == 0 || header[0] != '$' {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		length, err := strconv.Atoi(header[1:])
		if err != nil || length < 0 {
			return nil, fmt.Errorf("bad bulk length %q", header)
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:length]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func writeSimple(w *bufio.Writer, text string) {
	fmt.Fprintf(w, "+%s\r\n", text)
	w.Flush()
}

func writeError(w *bufio.Writer, text string) {
	fmt.Fprintf(w, "-%s\r\n", text)
	w.Flush()
}

func writeInt(w *bufio.Writer, value int64) {
	fmt.Fprintf(w, ":%d\r\n", value)
	w.Flush()
}

func writeFlatPairs(w *bufio.Writer, values []string) {
	fmt.Fprintf(w, "*%d\r\n", len(values))
	for _, value := range values {
		fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	}
	w.Flush()
}
