package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dfs/internal/client/prompt"
	"github.com/marmos91/dfs/internal/config"
	"github.com/marmos91/dfs/internal/output"
)

const help = `Available Commands:
  VIEW | VIEW -a | VIEW -l | VIEW -al
  READ <file>            CREATE <file>          DELETE <file>
  WRITE <file> <sentence_index>                 INFO <file>
  STREAM <file>          EXEC <file>
  ADDACCESS -R|-W <file> <user>                 REMACCESS <file> <user>
  UNDO <file>
  CHECKPOINT <file> <tag>     VIEWCHECKPOINT <file> <tag>     REVERT <file> <tag>
  LISTCHECKPOINTS <file>
  LIST
  EXIT or QUIT - leave the client
`

// REPL drives the interactive dfs-client session: login, then a read-eval-
// print loop over the wire protocol in spec.md §6.
type REPL struct {
	out io.Writer
	c   *Client
}

// NewREPL builds a REPL against the given name server, using cfg for the
// reply-read timing.
func NewREPL(nameServerAddr string, cfg config.ClientConfig, out io.Writer) *REPL {
	initial := cfg.InitialReadTimeout
	if initial <= 0 {
		initial = 2 * time.Second
	}
	quiet := cfg.ReplyQuietWindow
	if quiet <= 0 {
		quiet = 150 * time.Millisecond
	}
	return &REPL{
		out: out,
		c:   New(nameServerAddr, initial, quiet),
	}
}

// Login prompts for credentials until AUTH succeeds or the user aborts.
func (r *REPL) Login() error {
	for {
		user, err := prompt.InputRequired("Username")
		if err != nil {
			return err
		}
		pass, err := prompt.Password("Password")
		if err != nil {
			return err
		}
		if err := r.c.Authenticate(user, pass); err != nil {
			fmt.Fprintf(r.out, "Authentication failed. Invalid username or password.\n\n")
			continue
		}
		fmt.Fprintf(r.out, "Authentication successful! Welcome, %s!\n\n", user)
		return nil
	}
}

// Run prints the command banner and drives the command loop until EXIT/
// QUIT or the user aborts the prompt.
func (r *REPL) Run() error {
	fmt.Fprint(r.out, help)

	for {
		line, err := prompt.Input(r.c.User())
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if upper == "EXIT" || upper == "QUIT" {
			return nil
		}

		if err := r.dispatch(line); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

func (r *REPL) dispatch(line string) error {
	fields := strings.Fields(line)
	verb := strings.ToUpper(fields[0])

	switch verb {
	case "STREAM":
		return r.runStream(fields)
	case "WRITE":
		return r.runWrite(fields)
	case "INFO":
		return r.runInfo(line)
	default:
		reply, err := r.c.Do(line)
		if err != nil {
			return err
		}
		fmt.Fprint(r.out, reply)
		return nil
	}
}

// runInfo re-renders the name server's key:value INFO block as a table,
// the client-side polish spec's §4.13 calls for.
func (r *REPL) runInfo(line string) error {
	reply, err := r.c.Do(line)
	if err != nil {
		return err
	}
	if strings.HasPrefix(strings.TrimSpace(reply), "Error:") {
		fmt.Fprint(r.out, reply)
		return nil
	}

	table := output.NewTableData("Field", "Value")
	scanner := bufio.NewScanner(strings.NewReader(reply))
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		table.AddRow(strings.TrimSpace(key), strings.TrimSpace(val))
	}
	return output.PrintTable(r.out, table)
}

func (r *REPL) runStream(fields []string) error {
	if len(fields) < 2 {
		fmt.Fprint(r.out, "Error: usage: STREAM <file>\n")
		return nil
	}
	file := fields[1]

	addr, err := r.c.StreamAddr(file)
	if err != nil {
		return err
	}
	conn, err := r.c.DialStorageServer(addr, "STREAM "+file)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprint(r.out, "--- Streaming Content ---\n")
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			r.out.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	fmt.Fprint(r.out, "\n[INFO] Stream ended.\n")
	return nil
}

func (r *REPL) runWrite(fields []string) error {
	if len(fields) < 3 {
		fmt.Fprint(r.out, "Error: usage: WRITE <file> <sentence_index>\n")
		return nil
	}
	file := fields[1]
	index, err := strconv.Atoi(fields[2])
	if err != nil {
		fmt.Fprint(r.out, "Error: sentence index must be a number\n")
		return nil
	}

	session, reply, err := r.c.OpenWrite(file, index)
	if err != nil {
		return err
	}
	fmt.Fprint(r.out, reply)

	for {
		edit, err := prompt.Input("write")
		if err != nil {
			session.Close()
			return nil
		}
		if strings.TrimSpace(edit) == etirw {
			reply, err := session.Commit()
			if err != nil {
				return err
			}
			fmt.Fprint(r.out, reply)
			return nil
		}
		wordIndex, content, ok := strings.Cut(strings.TrimSpace(edit), " ")
		if !ok {
			fmt.Fprint(r.out, "ERROR: usage: <word_index> <content>\n")
			continue
		}
		wi, err := strconv.Atoi(wordIndex)
		if err != nil {
			fmt.Fprint(r.out, "ERROR: word index must be a number\n")
			continue
		}
		reply, err := session.Edit(wi, content)
		if err != nil {
			session.Close()
			return err
		}
		fmt.Fprint(r.out, reply)
	}
}
