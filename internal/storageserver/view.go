package storageserver

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/marmos91/dfs/internal/output"
)

// View renders this server's own file listing for the VIEW verb, including
// dotfiles when showAll is set (lock markers are always left out) and a
// long, tabular view (word/char counts, owner, timestamps) when showLong is
// set. Grounded on the original's list_files: a bare name list by default,
// a borderless table in the "-l" case.
func (e *Engine) View(showAll, showLong bool) (string, error) {
	entries, err := afero.ReadDir(e.fs, e.layout.FilesDir())
	if err != nil {
		return "ERROR: Cannot open files directory.\n", nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !showAll && strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		names = append(names, entry.Name())
	}

	if !showLong {
		if len(names) == 0 {
			return "(no files found or no access)\n", nil
		}
		return strings.Join(names, "\n") + "\n", nil
	}

	table := output.NewTableData("Name", "Words", "Chars", "Last Access", "Owner", "Modified")
	for _, name := range names {
		data, _ := afero.ReadFile(e.fs, e.layout.FilePath(name))
		words, chars := countWordsChars(string(data))

		owner, accessed, modified := "unknown", "", ""
		if a, err := e.readACL(name); err == nil {
			owner = a.Owner
			accessed = a.Accessed.Format("2006-01-02 15:04")
			modified = a.Modified.Format("2006-01-02 15:04")
		}
		table.AddRow(name, fmt.Sprintf("%d", words), fmt.Sprintf("%d", chars), accessed, owner, modified)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Files (long view), storage server %d\n", e.layout.ID)
	output.PrintTable(&b, table)
	fmt.Fprintf(&b, "Total files: %d\n", len(names))
	return b.String(), nil
}

func countWordsChars(content string) (words, chars int) {
	chars = len(content)
	inWord := false
	for _, r := range content {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			inWord = true
			words++
		}
	}
	return words, chars
}
