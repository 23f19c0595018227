package storageserver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dfs/internal/dfserrors"
)

// ETIRW is the sentinel line that ends an interactive WRITE session
// ("WRITE" reversed), matching the original protocol verbatim.
const ETIRW = "ETIRW"

func isDelim(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

// splitSentences splits text on '.', '!', '?', right-inclusive: each
// delimiter stays with its preceding sentence; trailing text without a
// delimiter forms a final incomplete sentence.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	for i := 0; i < len(text); i++ {
		cur.WriteByte(text[i])
		if isDelim(text[i]) {
			sentences = append(sentences, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		sentences = append(sentences, cur.String())
	}
	return sentences
}

// splitWords splits a sentence on spaces, as the original's strtok(" ")
// does (collapsing runs of spaces, dropping empty tokens).
func splitWords(sentence string) []string {
	return strings.Fields(sentence)
}

type lockKey struct {
	file     string
	sentence int
}

// writeLocksMu and writeLocks implement the in-memory lock tracking of the
// write coordinator. tryLock and unlock also create and remove the
// filesystem-visible lock marker, but whether a sentence is held is decided
// by the in-memory map alone; marker files are never read.
func (e *Engine) tryLock(name string, sentence int) bool {
	e.writeLocksMu.Lock()
	defer e.writeLocksMu.Unlock()
	key := lockKey{name, sentence}
	if _, held := e.writeLocks[key]; held {
		return false
	}
	if e.writeLocks == nil {
		e.writeLocks = make(map[lockKey]struct{})
	}
	e.writeLocks[key] = struct{}{}
	f, err := e.fs.Create(e.layout.LockPath(name, sentence))
	if err == nil {
		f.Close()
	}
	if e.metrics != nil {
		e.metrics.WriteLocksHeld.Inc()
	}
	return true
}

func (e *Engine) unlock(name string, sentence int) {
	e.writeLocksMu.Lock()
	defer e.writeLocksMu.Unlock()
	delete(e.writeLocks, lockKey{name, sentence})
	e.fs.Remove(e.layout.LockPath(name, sentence))
	if e.metrics != nil {
		e.metrics.WriteLocksHeld.Dec()
	}
}

// WriteSession is the per-(file,sentence) interactive write protocol state
// machine of §4.8. Its lifetime is exactly one WRITE connection: Begin
// acquires the lock, ApplyEdit handles each "<word_index> <text>" line,
// and exactly one of Commit or Abort ends the session and releases the
// lock: Abort on any abnormal end (peer close, error), Commit on ETIRW.
type WriteSession struct {
	engine   *Engine
	filename string
	user     string
	index    int

	sentences       []string
	workingSentence string
	locked          bool
}

// BeginWrite validates access and the sentence index, acquires the
// per-(file,sentence) lock, and returns the session plus the reply line to
// send the client.
func (e *Engine) BeginWrite(filename string, index int, user string) (*WriteSession, string, error) {
	if !e.exists(e.layout.FilePath(filename)) {
		return nil, "", dfserrors.NotFound("File '%s' does not exist", filename)
	}

	ok, err := e.CheckWrite(filename, user)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", dfserrors.Denied("Access denied")
	}

	data, err := afero.ReadFile(e.fs, e.layout.FilePath(filename))
	if err != nil {
		return nil, "", dfserrors.Internal(err, "read %q", filename)
	}

	sentences := splitSentences(string(data))
	sentenceCount := len(sentences)

	var maxSentence int
	if len(data) == 0 {
		if index != 0 {
			return nil, "", dfserrors.Range("File is empty. Only sentence 0 can be edited.")
		}
		sentenceCount = 0
	} else {
		endsDelim := isDelim(data[len(data)-1])
		if endsDelim {
			maxSentence = sentenceCount
		} else {
			maxSentence = sentenceCount - 1
		}
		if maxSentence < 0 {
			maxSentence = 0
		}
		if index < 0 || index > maxSentence {
			suffix := "."
			if endsDelim {
				suffix = " (file ends with punctuation)."
			}
			return nil, "", dfserrors.Range("Invalid sentence number. Valid range is 0 to %d%s", maxSentence, suffix)
		}
	}

	if !e.tryLock(filename, index) {
		return nil, "", dfserrors.Conflict("Sentence %d is locked by another user.", index)
	}

	e.SnapshotForUndo(filename)

	working := ""
	if index < sentenceCount {
		working = sentences[index]
	}

	s := &WriteSession{
		engine:          e,
		filename:        filename,
		user:            user,
		index:           index,
		sentences:       sentences,
		workingSentence: working,
		locked:          true,
	}
	return s, fmt.Sprintf("Sentence %d locked. You may begin writing.\n", index), nil
}

// ApplyEdit parses a "<word_index> <content>" line and updates the working
// sentence, splitting it (and shifting later sentences right) if the
// insertion introduced new delimiters.
func (s *WriteSession) ApplyEdit(line string) string {
	idxStr, content, ok := strings.Cut(line, " ")
	if !ok {
		return "ERROR: Invalid format. Use '<word_index> <content>' or 'ETIRW'.\n"
	}
	wordIndex, err := strconv.Atoi(idxStr)
	if err != nil {
		return "ERROR: Invalid format. Use '<word_index> <content>' or 'ETIRW'.\n"
	}

	words := splitWords(s.workingSentence)
	if wordIndex < 0 || wordIndex > len(words) {
		return "ERROR: Word index out of range.\n"
	}

	var b strings.Builder
	for i := 0; i < wordIndex; i++ {
		b.WriteString(words[i])
		b.WriteByte(' ')
	}
	b.WriteString(content)
	if wordIndex < len(words) {
		b.WriteByte(' ')
	}
	for i := wordIndex; i < len(words); i++ {
		b.WriteString(words[i])
		if i < len(words)-1 {
			b.WriteByte(' ')
		}
	}
	newSentence := b.String()

	split := splitSentences(newSentence)
	if len(split) > 1 {
		head, tail := s.sentences, []string(nil)
		if s.index < len(s.sentences) {
			head, tail = s.sentences[:s.index], s.sentences[s.index+1:]
		}
		s.sentences = append(append(append([]string{}, head...), split...), tail...)
		s.workingSentence = s.sentences[s.index]
	} else {
		s.workingSentence = newSentence
	}

	return "Update applied successfully.\n"
}

// Commit ends the session on ETIRW: writes the working sentence back into
// the array (extending it if this was a new tail sentence), rewrites the
// whole file joining sentences with a single space, releases the lock, and
// reports success.
func (s *WriteSession) Commit() (string, error) {
	defer s.release()

	if s.index >= len(s.sentences) {
		s.sentences = append(s.sentences, make([]string, s.index-len(s.sentences)+1)...)
	}
	if s.workingSentence == "" {
		// Durability: an empty sentence is persisted as "." to keep the
		// sentence array well-formed.
		s.workingSentence = "."
	}
	s.sentences[s.index] = s.workingSentence

	content := strings.Join(s.sentences, " ")
	if err := afero.WriteFile(s.engine.fs, s.engine.layout.FilePath(s.filename), []byte(content), 0o644); err != nil {
		return "", dfserrors.Internal(err, "write %q", s.filename)
	}

	if a, err := s.engine.readACL(s.filename); err == nil {
		a.Modified = time.Now()
		s.engine.writeACL(s.filename, a)
	}

	return "Write Successful!\n", nil
}

// Abort discards the working buffer and releases the lock without
// modifying the file, for peer close or any other abnormal session end.
func (s *WriteSession) Abort() {
	s.release()
}

func (s *WriteSession) release() {
	if !s.locked {
		return
	}
	s.locked = false
	s.engine.unlock(s.filename, s.index)
}
