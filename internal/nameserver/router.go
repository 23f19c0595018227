package nameserver

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dfs/internal/dfserrors"
	"github.com/marmos91/dfs/internal/logger"
	"github.com/marmos91/dfs/internal/wire"
)

// Router dispatches one authenticated command to the right handler. It
// holds no connection-scoped state of its own, everything it needs comes
// from the shared State or the arguments passed to Handle.
type Router struct {
	state *State
}

// NewRouter builds a Router over state.
func NewRouter(state *State) *Router {
	return &Router{state: state}
}

// HandleAuth authenticates a TYPE:AUTH envelope and returns the reply line.
func (rt *Router) HandleAuth(user, pass string) string {
	ok, err := rt.state.Auth.Authenticate(user, pass)
	if err != nil {
		logger.Error("credential store error", logger.Username(user), logger.Err(err))
		ok = false
	}
	if ok {
		logger.Info("authentication succeeded", logger.Username(user))
		return "AUTH:SUCCESS\n"
	}
	logger.Warn("authentication failed", logger.Username(user))
	return "AUTH:FAILED\n"
}

// HandleRegisterSS registers a new storage server and returns its reply
// line. basePort is the configured SS base port (client port placeholder).
func (rt *Router) HandleRegisterSS(ip string, clientPort int, files []string, basePort int) string {
	var id int
	rt.state.WithLock(func() {
		var evicted []int
		id, evicted = rt.state.Registry.Register(ip, clientPort)
		for _, evID := range evicted {
			rt.state.Index.RemoveSS(evID)
			logger.Info("evicted unreachable storage server", logger.SSID(evID))
			if rt.state.Metrics != nil {
				rt.state.Metrics.SSEvicted.Inc()
			}
		}
	})
	if id == -1 {
		logger.Error("storage server registry full")
		return "SS_ID:-1\n"
	}
	if clientPort == basePort {
		rt.state.WithLock(func() {
			if d, ok := rt.state.Registry.Find(id); ok {
				d.Port = basePort + id
			}
		})
	}
	logger.Info("storage server registered", logger.SSID(id))
	if rt.state.Metrics != nil {
		rt.state.Metrics.RegistrationsOK.Inc()
		rt.state.Metrics.ActiveSS.Set(float64(rt.state.Registry.Len()))
	}
	go rt.refreshIndexFromSS(id, files)
	return fmt.Sprintf("SS_ID:%d\n", id)
}

// refreshIndexFromSS issues one INFO per file named in the SS's
// REGISTER_SS message to populate the index with full metadata. It sends no
// VIEW; the file list comes from the registration message alone.
func (rt *Router) refreshIndexFromSS(ssID int, files []string) {
	var addr string
	rt.state.WithLock(func() {
		if d, ok := rt.state.Registry.Find(ssID); ok {
			addr = d.Addr()
		}
	})
	if addr == "" {
		return
	}
	for _, name := range files {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		meta, err := rt.fetchSSInfo(addr, name)
		if err != nil {
			logger.Warn("index refresh failed for file", logger.Filename(name), logger.SSID(ssID), logger.Err(err))
			continue
		}
		rt.state.WithLock(func() {
			rt.state.Index.Put(name, ssID, func() *FileMeta { return meta })
		})
	}
}

// fetchSSInfo dials the SS and issues a raw INFO request on its behalf,
// parsing the resulting block back into a FileMeta. This bypasses
// authentication because it is the NS itself, not a user, asking.
func (rt *Router) fetchSSInfo(addr, file string) (*FileMeta, error) {
	conn, err := rt.state.Dial(addr)
	if err != nil {
		return nil, dfserrors.Transport(err, "dial storage server")
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(rt.state.Config.NameServer.FanOutTimeout))

	cmd := wire.NewMessage().Set("USER", "").Set("PASS", "").Set("CMD", "INFO "+file)
	if err := cmd.WriteTo(conn); err != nil {
		return nil, dfserrors.Transport(err, "send INFO")
	}

	r := bufio.NewReader(conn)
	return parseInfoBlock(r, file)
}

// parseInfoBlock reads the INFO response lines produced by a storage
// server's storage engine and reconstructs NS-side metadata from them.
func parseInfoBlock(r *bufio.Reader, file string) (*FileMeta, error) {
	m := &FileMeta{Name: file, SSIDs: make(map[int]struct{})}
	for {
		line, err := wire.ReadLine(r)
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			break
		}
		if strings.HasPrefix(line, "Owner:") {
			m.Owner = strings.TrimSpace(strings.TrimPrefix(line, "Owner:"))
		} else if strings.HasPrefix(line, "Created:") {
			m.Created, _ = time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(line, "Created:")))
		} else if strings.HasPrefix(line, "Modified:") {
			m.Modified, _ = time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(line, "Modified:")))
		} else if strings.HasPrefix(line, "Accessed:") {
			m.Accessed, _ = time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(line, "Accessed:")))
		} else if strings.HasPrefix(line, "ReadUsers:") {
			m.Read = parseCSVSet(strings.TrimPrefix(line, "ReadUsers:"))
		} else if strings.HasPrefix(line, "WriteUsers:") {
			m.Write = parseCSVSet(strings.TrimPrefix(line, "WriteUsers:"))
		}
		if err != nil {
			break
		}
	}
	if m.Owner == "" {
		return nil, dfserrors.NotFound("file %q not found on storage server", file)
	}
	return m, nil
}

func parseCSVSet(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, u := range strings.Split(strings.TrimSpace(raw), ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			out[u] = struct{}{}
		}
	}
	return out
}

// Dispatch runs an authenticated command and returns the reply text to send
// back to the client verbatim (already newline-terminated where required).
// A non-nil Conn is returned only for WRITE and STREAM, signalling the caller must
// bridge the client connection to it instead of sending a canned reply.
func (rt *Router) Dispatch(user string, cmd *wire.Command) (reply string, bridge Conn, bridgeErr error) {
	if rt.state.Metrics != nil {
		rt.state.Metrics.CommandsTotal.WithLabelValues(cmd.Verb).Inc()
	}
	switch cmd.Verb {
	case "VIEW":
		return rt.handleView(user, cmd.Args), nil, nil
	case "LOCATE":
		return rt.handleLocate(cmd.Args), nil, nil
	case "INFO":
		return rt.handleInfo(user, cmd.Args), nil, nil
	case "ADDACCESS":
		return rt.handleAccess(user, cmd.Args, true), nil, nil
	case "REMACCESS":
		return rt.handleAccess(user, cmd.Args, false), nil, nil
	case "CREATE":
		return rt.handleCreate(user, cmd.Args)
	case "DELETE":
		return rt.handleDelete(user, cmd.Args)
	case "LIST":
		return rt.handleList(), nil, nil
	case "READ", "STREAM", "EXEC", "UNDO", "CHECKPOINT", "VIEWCHECKPOINT", "REVERT", "LISTCHECKPOINTS":
		return rt.forwardSingle(user, cmd)
	case "WRITE":
		return rt.handleWrite(user, cmd)
	default:
		return "Invalid command\n", nil, nil
	}
}

func (rt *Router) handleLocate(args []string) string {
	if len(args) < 1 {
		return "Error: usage: LOCATE <file>\n"
	}
	file := args[0]
	var meta *FileMeta
	var descr *SSDescriptor
	rt.state.WithLock(func() {
		m, ok := rt.state.Index.Get(file)
		if !ok {
			return
		}
		meta = m
		ids := m.SSIDList()
		if len(ids) > 0 {
			descr, _ = rt.state.Registry.Find(ids[0])
		}
	})
	if meta == nil || descr == nil {
		return fmt.Sprintf("Error: file %q not found\n", file)
	}
	return fmt.Sprintf("SS_IP:%s\nSS_PORT:%d\n", descr.Host, descr.Port)
}

func (rt *Router) handleInfo(user string, args []string) string {
	if len(args) < 1 {
		return "Error: usage: INFO <file>\n"
	}
	file := args[0]
	var m *FileMeta
	rt.state.WithLock(func() {
		meta, ok := rt.state.Index.Get(file)
		if ok {
			m = meta
		}
	})
	if m == nil {
		return fmt.Sprintf("Error: file %q not found\n", file)
	}
	if !m.CheckRead(user) {
		return "Error: Access denied\n"
	}
	return renderInfo(m)
}

func renderInfo(m *FileMeta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Filename: %s\n", m.Name)
	fmt.Fprintf(&b, "Owner: %s\n", m.Owner)
	fmt.Fprintf(&b, "Created: %s\n", m.Created.Format(time.RFC3339))
	fmt.Fprintf(&b, "Modified: %s\n", m.Modified.Format(time.RFC3339))
	fmt.Fprintf(&b, "Accessed: %s\n", m.Accessed.Format(time.RFC3339))
	fmt.Fprintf(&b, "ReadUsers: %s\n", setString(m.Read))
	fmt.Fprintf(&b, "WriteUsers: %s\n", setString(m.Write))
	fmt.Fprintf(&b, "StorageServers: %s\n", joinInts(m.SSIDList()))
	return b.String()
}

func setString(s map[string]struct{}) string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return strings.Join(out, ",")
}

func joinInts(ids []int) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.Itoa(id)
	}
	return strings.Join(out, ",")
}

func (rt *Router) handleAccess(user string, args []string, grant bool) string {
	var flag, file, target string
	if grant {
		if len(args) < 3 {
			return "Error: usage: ADDACCESS -R|-W <file> <user>\n"
		}
		flag, file, target = args[0], args[1], args[2]
	} else {
		if len(args) < 2 {
			return "Error: usage: REMACCESS <file> <user>\n"
		}
		file, target = args[0], args[1]
	}

	var m *FileMeta
	var denied, notFound bool
	rt.state.WithLock(func() {
		meta, ok := rt.state.Index.Get(file)
		if !ok {
			notFound = true
			return
		}
		if meta.Owner != user {
			denied = true
			return
		}
		now := time.Now()
		if grant {
			switch flag {
			case "-R":
				meta.Read[target] = struct{}{}
			case "-W":
				meta.Write[target] = struct{}{}
			default:
				denied = true
				return
			}
		} else {
			if target == meta.Owner {
				denied = true
				return
			}
			delete(meta.Read, target)
			delete(meta.Write, target)
		}
		meta.Modified = now
		m = meta
	})

	switch {
	case notFound:
		return fmt.Sprintf("Error: file %q not found\n", file)
	case denied:
		return "Error: Access denied\n"
	case m == nil:
		return "Error: Access denied\n"
	}

	if grant {
		kind := "Read"
		if flag == "-W" {
			kind = "Write"
		}
		return fmt.Sprintf("Success: %s access granted to '%s' for file '%s'\n", kind, target, file)
	}
	return fmt.Sprintf("Success: Access revoked from '%s' for file '%s'\n", target, file)
}

// handleView fans VIEW out to every active storage server concurrently,
// bounded by an errgroup so one slow or unreachable SS never delays the
// others beyond its own FanOutTimeout deadline, then reassembles the
// per-SS blocks in registry order.
func (rt *Router) handleView(user string, args []string) string {
	var descriptors []*SSDescriptor
	rt.state.WithLock(func() {
		descriptors = rt.state.Registry.IterActive()
	})
	if len(descriptors) == 0 {
		return "No active storage servers\n"
	}

	bodies := make([]string, len(descriptors))
	var g errgroup.Group
	for i, d := range descriptors {
		i, d := i, d
		g.Go(func() error {
			body, err := rt.fanOutVIEW(d, user, args)
			if err != nil {
				body = fmt.Sprintf("Error: %v\n", err)
			}
			bodies[i] = body
			return nil
		})
	}
	g.Wait()

	var b strings.Builder
	for i, d := range descriptors {
		fmt.Fprintf(&b, "--- StorageServer %d (port %d) ---\n", d.ID, d.Port)
		b.WriteString(bodies[i])
	}
	return b.String()
}

func (rt *Router) fanOutVIEW(d *SSDescriptor, user string, args []string) (string, error) {
	conn, err := rt.state.Dial(d.Addr())
	if err != nil {
		return "", dfserrors.Transport(err, "dial storage server %d", d.ID)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(rt.state.Config.NameServer.FanOutTimeout))

	raw := "VIEW " + strings.Join(args, " ")
	cmd := wire.NewMessage().Set("USER", user).Set("CMD", strings.TrimSpace(raw))
	if err := cmd.WriteTo(conn); err != nil {
		return "", dfserrors.Transport(err, "send VIEW to storage server %d", d.ID)
	}

	r := bufio.NewReader(conn)
	var b strings.Builder
	for {
		line, err := wire.ReadLine(r)
		if line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if err != nil {
			break
		}
	}
	return b.String(), nil
}

func (rt *Router) handleCreate(user string, args []string) (string, Conn, error) {
	if len(args) < 1 {
		return "Error: usage: CREATE <file>\n", nil, nil
	}
	file := args[0]

	var target *SSDescriptor
	var alreadyIndexed bool
	rt.state.WithLock(func() {
		if meta, ok := rt.state.Index.Get(file); ok {
			ids := meta.SSIDList()
			if len(ids) > 0 {
				target, _ = rt.state.Registry.Find(ids[0])
				alreadyIndexed = true
			}
		}
		if target == nil {
			target = rt.pickRoundRobin()
		}
	})
	if target == nil {
		return "Error: No storage server available\n", nil, nil
	}

	reply, err := rt.forwardTo(target, user, "CREATE "+file)
	if err != nil {
		return dfserrors.WireLine(err), nil, nil
	}
	if !strings.Contains(reply, "Success") {
		return reply, nil, nil
	}
	if !alreadyIndexed {
		now := time.Now()
		rt.state.WithLock(func() {
			rt.state.Index.Put(file, target.ID, func() *FileMeta { return NewFileMeta(file, user, now) })
		})
	}
	return reply, nil, nil
}

// pickRoundRobin selects the next active SS in rotation. Must be called
// with State's lock held.
func (rt *Router) pickRoundRobin() *SSDescriptor {
	active := rt.state.Registry.IterActive()
	if len(active) == 0 {
		return nil
	}
	d := active[rt.state.rrCursor%len(active)]
	rt.state.rrCursor++
	return d
}

func (rt *Router) handleDelete(user string, args []string) (string, Conn, error) {
	if len(args) < 1 {
		return "Error: usage: DELETE <file>\n", nil, nil
	}
	file := args[0]

	var target *SSDescriptor
	var ssID int
	var notFound bool
	rt.state.WithLock(func() {
		meta, ok := rt.state.Index.Get(file)
		if !ok {
			notFound = true
			return
		}
		ids := meta.SSIDList()
		if len(ids) == 0 {
			notFound = true
			return
		}
		ssID = ids[0]
		target, _ = rt.state.Registry.Find(ssID)
	})
	if notFound || target == nil {
		return fmt.Sprintf("Error: file %q not found\n", file), nil, nil
	}

	reply, err := rt.forwardTo(target, user, "DELETE "+file)
	if err != nil {
		return dfserrors.WireLine(err), nil, nil
	}
	if strings.Contains(reply, "Success") {
		rt.state.WithLock(func() {
			rt.state.Index.Remove(file, ssID)
		})
	}
	return reply, nil, nil
}

func (rt *Router) handleList() string {
	users := rt.state.Auth.List()
	for i := 1; i < len(users); i++ {
		for j := i; j > 0 && users[j-1] > users[j]; j-- {
			users[j-1], users[j] = users[j], users[j-1]
		}
	}
	return strings.Join(users, "\n") + "\n"
}

// forwardSingle resolves the target SS for READ/STREAM/EXEC/UNDO/
// CHECKPOINT/... and either returns its response directly or, for verbs
// whose response may be long-running (STREAM), bridges the connection.
func (rt *Router) forwardSingle(user string, cmd *wire.Command) (string, Conn, error) {
	if len(cmd.Args) < 1 {
		return fmt.Sprintf("Error: usage: %s <file> [...]\n", cmd.Verb), nil, nil
	}
	file := cmd.Args[0]

	var target *SSDescriptor
	rt.state.WithLock(func() {
		if meta, ok := rt.state.Index.Get(file); ok {
			ids := meta.SSIDList()
			if len(ids) > 0 {
				target, _ = rt.state.Registry.Find(ids[0])
			}
		}
		if target == nil {
			active := rt.state.Registry.IterActive()
			if len(active) > 0 {
				target = active[0]
			}
		}
	})
	if target == nil {
		return "Error: No storage server available\n", nil, nil
	}

	if cmd.Verb == "EXEC" {
		return rt.handleExec(target, user, file)
	}

	if cmd.Verb == "STREAM" {
		conn, err := rt.state.Dial(target.Addr())
		if err != nil {
			return dfserrors.WireLine(dfserrors.Transport(err, "dial storage server")), nil, nil
		}
		if err := wire.NewMessage().Set("USER", user).Set("CMD", cmd.Raw).WriteTo(conn); err != nil {
			conn.Close()
			return dfserrors.WireLine(dfserrors.Transport(err, "send STREAM")), nil, nil
		}
		return "", conn, nil
	}

	reply, err := rt.forwardTo(target, user, cmd.Raw)
	if err != nil {
		return dfserrors.WireLine(err), nil, nil
	}
	return reply, nil, nil
}

// handleExec fetches the file content via READ and executes each
// non-empty, non-fenced line through the external command interpreter,
// as spec.md §4.3 describes. Gated behind Config.Exec.Enabled.
func (rt *Router) handleExec(target *SSDescriptor, user, file string) (string, Conn, error) {
	if !rt.state.Config.Exec.Enabled {
		return "Error: EXEC is disabled\n", nil, nil
	}
	reply, err := rt.forwardTo(target, user, "READ "+file)
	if err != nil {
		return dfserrors.WireLine(err), nil, nil
	}
	return runExecLines(reply, rt.state.Config.Exec.AllowedPrefixes), nil, nil
}

func (rt *Router) handleWrite(user string, cmd *wire.Command) (string, Conn, error) {
	if len(cmd.Args) < 2 {
		return "Error: usage: WRITE <file> <sentence_index>\n", nil, nil
	}
	file := cmd.Args[0]

	var target *SSDescriptor
	rt.state.WithLock(func() {
		if meta, ok := rt.state.Index.Get(file); ok {
			ids := meta.SSIDList()
			if len(ids) > 0 {
				target, _ = rt.state.Registry.Find(ids[0])
			}
		}
	})
	if target == nil {
		return fmt.Sprintf("Error: file %q not found\n", file), nil, nil
	}

	conn, err := rt.state.Dial(target.Addr())
	if err != nil {
		return dfserrors.WireLine(dfserrors.Transport(err, "dial storage server")), nil, nil
	}
	if err := wire.NewMessage().Set("USER", user).Set("CMD", cmd.Raw).WriteTo(conn); err != nil {
		conn.Close()
		return dfserrors.WireLine(dfserrors.Transport(err, "send WRITE")), nil, nil
	}
	return "", conn, nil
}

// forwardTo sends a single command to target and reads back its entire
// response, for verbs whose reply is bounded (everything but STREAM/WRITE).
func (rt *Router) forwardTo(target *SSDescriptor, user, raw string) (string, error) {
	conn, err := rt.state.Dial(target.Addr())
	if err != nil {
		return "", dfserrors.Transport(err, "dial storage server %d", target.ID)
	}
	defer conn.Close()

	cmd := wire.NewMessage().Set("USER", user).Set("CMD", raw)
	if err := cmd.WriteTo(conn); err != nil {
		return "", dfserrors.Transport(err, "send command to storage server %d", target.ID)
	}

	r := bufio.NewReader(conn)
	var b strings.Builder
	for {
		line, err := wire.ReadLine(r)
		if line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if err != nil {
			break
		}
	}
	return b.String(), nil
}
