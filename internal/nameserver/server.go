// Package nameserver implements the DFS control plane: storage server
// registration and liveness, the file index, and command routing.
package nameserver

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/marmos91/dfs/internal/logger"
	"github.com/marmos91/dfs/internal/wire"
)

// Server accepts client and storage-server connections and dispatches them
// through a Router against shared State.
type Server struct {
	state  *State
	router *Router
}

// NewServer builds a Server over state.
func NewServer(state *State) *Server {
	return &Server{state: state, router: NewRouter(state)}
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("name server listening", slog.String("addr", addr))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("accept failed", logger.Err(err))
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
	for {
		firstLine, err := r.ReadString('\n')
		firstLine = strings.TrimRight(firstLine, "\r\n")
		if firstLine == "" && err != nil {
			return
		}

		if strings.HasPrefix(firstLine, "LOCATE ") {
			reply := s.router.handleLocate(strings.Fields(firstLine)[1:])
			wire.WriteLine(conn, strings.TrimRight(reply, "\n"))
			return
		}

		msg, err := wire.ReadMessageSeeded(firstLine, r)
		if err != nil {
			return
		}

		if typ, ok := msg.Get("TYPE"); ok {
			switch typ {
			case "AUTH":
				user, _ := msg.Get("USER")
				reply := s.router.HandleAuth(user, msg.GetOr("PASS", ""))
				conn.Write([]byte(reply))
				continue
			case "REGISTER_SS":
				s.handleRegister(conn, msg)
				return
			default:
				wire.WriteLine(conn, "Error: unknown envelope type")
				continue
			}
		}

		cmd, err := wire.ParseCommand(msg)
		if err != nil {
			wire.WriteLine(conn, "Invalid command")
			continue
		}
		lc = lc.WithUser(cmd.User).WithVerb(cmd.Verb)
		logger.InfoCtx(logger.WithContext(ctx, lc), "command received")

		ok, authErr := s.state.Auth.Authenticate(cmd.User, cmd.Pass)
		if authErr != nil || !ok {
			wire.WriteLine(conn, "Error: invalid credentials")
			return
		}

		reply, bridge, err := s.router.Dispatch(cmd.User, cmd)
		if err != nil {
			wire.WriteLine(conn, "Error: "+err.Error())
			return
		}
		if bridge != nil {
			clientConn, ok := asWireConn(conn)
			if !ok {
				bridge.Close()
				return
			}
			Bridge(clientConn, bridge)
			bridge.Close()
			return
		}
		conn.Write([]byte(reply))
	}
}

func (s *Server) handleRegister(conn net.Conn, msg *wire.Message) {
	ip := msg.GetOr("IP", "")
	clientPort, _ := msg.GetInt("CLIENT_PORT")
	filesRaw := msg.GetOr("FILES", "")
	var files []string
	if filesRaw != "" {
		files = strings.Split(filesRaw, ",")
	}
	reply := s.router.HandleRegisterSS(ip, clientPort, files, s.state.Config.StorageServer.BasePort)
	conn.Write([]byte(reply))
}

// asWireConn adapts a net.Conn into the Conn interface Bridge expects.
func asWireConn(c net.Conn) (Conn, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil, false
	}
	return tcpConn{tc}, true
}
