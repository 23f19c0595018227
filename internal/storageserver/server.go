package storageserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dfs/internal/config"
	"github.com/marmos91/dfs/internal/dfserrors"
	"github.com/marmos91/dfs/internal/logger"
	"github.com/marmos91/dfs/internal/wire"
)

// Server is one storage server instance: it registers itself with the name
// server, then accepts connections from the name server (forwarded client
// commands), from the name server's own index-refresh probe, and from
// clients streaming a file directly after a LOCATE.
type Server struct {
	engine  *Engine
	cfg     *config.StorageServerConfig
	id      int
	metrics *Metrics
}

// Register dials the name server, reports the files this instance already
// holds on disk, and returns the assigned storage server id. id is fixed
// for the lifetime of the process afterward.
func Register(cfg *config.StorageServerConfig, engine *Engine) (int, error) {
	conn, err := net.DialTimeout("tcp", cfg.NameServerAddr, 5*time.Second)
	if err != nil {
		return 0, dfserrors.Transport(err, "dial name server")
	}
	defer conn.Close()

	files, err := engine.ListFiles()
	if err != nil {
		return 0, err
	}

	msg := wire.NewMessage().
		Set("TYPE", "REGISTER_SS").
		Set("IP", cfg.AdvertiseIP).
		Set("CLIENT_PORT", strconv.Itoa(cfg.BasePort)).
		Set("FILES", strings.Join(files, ","))
	if err := msg.WriteTo(conn); err != nil {
		return 0, dfserrors.Transport(err, "send REGISTER_SS")
	}

	r := bufio.NewReader(conn)
	line, err := wire.ReadLine(r)
	if err != nil && line == "" {
		return 0, dfserrors.Transport(err, "read SS_ID reply")
	}
	var id int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "SS_ID:%d", &id); err != nil {
		return 0, dfserrors.Transport(err, "parse SS_ID reply %q", line)
	}
	if id < 0 {
		return 0, dfserrors.Internal(nil, "name server registry is full")
	}
	return id, nil
}

// NewServer builds a Server for an already-registered id. metrics may be
// nil, in which case command counts are not recorded.
func NewServer(engine *Engine, cfg *config.StorageServerConfig, id int, metrics *Metrics) *Server {
	return &Server{engine: engine, cfg: cfg, id: id, metrics: metrics}
}

// ListenAndServe accepts connections on BasePort+id until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.BasePort+s.id)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("storage server listening", logger.SSID(s.id), slog.String("addr", addr))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("accept failed", logger.SSID(s.id), logger.Err(err))
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	lc := logger.NewLogContext(conn.RemoteAddr().String())
	ctx := logger.WithContext(context.Background(), lc)

	r := bufio.NewReader(conn)
	msg, err := wire.ReadMessage(r)
	if err != nil {
		return
	}

	user, _ := msg.Get("USER")
	raw, ok := msg.Get("CMD")
	if !ok {
		wire.WriteLine(conn, "ERROR: missing CMD")
		return
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		wire.WriteLine(conn, "ERROR: empty command")
		return
	}
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	lc = lc.WithUser(user).WithVerb(verb)
	logger.InfoCtx(logger.WithContext(ctx, lc), "command received")
	if s.metrics != nil {
		s.metrics.CommandsTotal.WithLabelValues(verb).Inc()
	}

	switch verb {
	case "CREATE":
		s.reply(conn, requireArg(args, func(file string) (string, error) { return s.engine.Create(file, user) }))
	case "DELETE":
		s.reply(conn, requireArg(args, func(file string) (string, error) { return s.engine.Delete(file, user) }))
	case "READ":
		data, err := requireArgBytes(args, func(file string) ([]byte, error) { return s.engine.Read(file, user) })
		if err == nil && s.metrics != nil {
			s.metrics.BytesServed.Add(float64(len(data)))
		}
		s.replyBytes(conn, data, err)
	case "INFO":
		s.handleInfo(conn, user, args)
	case "VIEW":
		s.handleView(conn, args)
	case "STREAM":
		s.handleStream(conn, user, args)
	case "UNDO":
		s.reply(conn, requireArg(args, func(file string) (string, error) { return s.engine.Undo(file, user) }))
	case "CHECKPOINT":
		s.handleCheckpoint(conn, user, args)
	case "VIEWCHECKPOINT":
		s.handleCheckpointTagged(conn, user, args, s.engine.CheckpointView)
	case "REVERT":
		s.handleCheckpointTagged(conn, user, args, s.engine.CheckpointRevert)
	case "LISTCHECKPOINTS":
		s.reply(conn, requireArg(args, func(file string) (string, error) { return s.engine.CheckpointList(file, user) }))
	case "WRITE":
		s.handleWrite(conn, r, user, args)
	default:
		wire.WriteLine(conn, "ERROR: unknown command")
	}
}

func (s *Server) reply(conn net.Conn, text string, err error) {
	if err != nil {
		conn.Write([]byte(dfserrors.WireLine(err)))
		return
	}
	conn.Write([]byte(text))
}

func (s *Server) replyBytes(conn net.Conn, data []byte, err error) {
	if err != nil {
		conn.Write([]byte(dfserrors.WireLine(err)))
		return
	}
	conn.Write(data)
}

func requireArg(args []string, fn func(string) (string, error)) (string, error) {
	if len(args) < 1 {
		return "", dfserrors.NotFound("usage: <verb> <file>")
	}
	return fn(args[0])
}

func requireArgBytes(args []string, fn func(string) ([]byte, error)) ([]byte, error) {
	if len(args) < 1 {
		return nil, dfserrors.NotFound("usage: <verb> <file>")
	}
	return fn(args[0])
}

func (s *Server) handleInfo(conn net.Conn, user string, args []string) {
	if len(args) < 1 {
		wire.WriteLine(conn, "ERROR: usage: INFO <file>")
		return
	}
	file := args[0]
	if user == "" {
		// The name server's own index-refresh probe: bypass the ACL gate.
		s.reply(conn, s.engine.InfoUnchecked(file))
		return
	}
	s.reply(conn, s.engine.Info(file, user))
}

func (s *Server) handleView(conn net.Conn, args []string) {
	var showAll, showLong bool
	for _, a := range args {
		switch a {
		case "-a":
			showAll = true
		case "-l":
			showLong = true
		case "-al", "-la":
			showAll, showLong = true, true
		}
	}
	s.reply(conn, s.engine.View(showAll, showLong))
}

func (s *Server) handleStream(conn net.Conn, user string, args []string) {
	if len(args) < 1 {
		wire.WriteLine(conn, "ERROR: usage: STREAM <file>")
		return
	}
	tokens, err := s.engine.StreamTokens(args[0], user)
	if err != nil {
		conn.Write([]byte(dfserrors.WireLine(err)))
		return
	}
	for i, tok := range tokens {
		if i > 0 {
			conn.Write([]byte(" "))
		}
		conn.Write([]byte(tok))
		time.Sleep(s.cfg.StreamTokenPause)
	}
	conn.Write([]byte("\n--- End of Stream ---\n"))
}

func (s *Server) handleCheckpoint(conn net.Conn, user string, args []string) {
	if len(args) < 2 {
		wire.WriteLine(conn, "ERROR: usage: CHECKPOINT <file> <tag>")
		return
	}
	s.reply(conn, s.engine.CheckpointCreate(args[0], args[1], user))
}

func (s *Server) handleCheckpointTagged(conn net.Conn, user string, args []string, fn func(name, tag, user string) (string, error)) {
	if len(args) < 2 {
		wire.WriteLine(conn, "ERROR: usage: <verb> <file> <tag>")
		return
	}
	s.reply(conn, fn(args[0], args[1], user))
}

// writeErrorLine renders a WRITE-session error the way the original
// interactive protocol does, with an uppercase "ERROR:" prefix rather than
// the generic "Error:" every other verb's dfserrors.WireLine produces.
func writeErrorLine(err error) string {
	de, ok := dfserrors.As(err)
	if !ok {
		return "ERROR: internal error\n"
	}
	return fmt.Sprintf("ERROR: %s\n", de.Message)
}

// handleWrite runs the interactive per-sentence edit loop for one WRITE
// session: lock, then read "<word_index> <content>" lines until ETIRW or
// the peer disconnects.
func (s *Server) handleWrite(conn net.Conn, r *bufio.Reader, user string, args []string) {
	if len(args) < 2 {
		wire.WriteLine(conn, "ERROR: usage: WRITE <file> <sentence_index>")
		return
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		wire.WriteLine(conn, "ERROR: Invalid sentence number.")
		return
	}

	session, reply, err := s.engine.BeginWrite(args[0], index, user)
	if err != nil {
		conn.Write([]byte(writeErrorLine(err)))
		return
	}
	conn.Write([]byte(reply))

	for {
		line, err := wire.ReadLine(r)
		line = strings.TrimSpace(line)
		if line == ETIRW {
			msg, cerr := session.Commit()
			if cerr != nil {
				conn.Write([]byte(writeErrorLine(cerr)))
				return
			}
			conn.Write([]byte(msg))
			return
		}
		if line == "" && err != nil {
			session.Abort()
			return
		}
		conn.Write([]byte(session.ApplyEdit(line)))
	}
}
