package gitops

import (
	"strconv"
	"strings"
)

// Porcelain status prefixes for paths outside the index.
const (
	untrackedPrefix = "?? "
	ignoredPrefix   = "!! "
)

func splitLines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// UntrackedFromPorcelain extracts untracked (and, when present, ignored)
// paths from porcelain status lines. Git quotes paths containing unusual
// characters; quoted paths are unescaped before being returned.
func UntrackedFromPorcelain(lines []string) []string {
	var files []string
	for _, line := range lines {
		var name string
		switch {
		case strings.HasPrefix(line, untrackedPrefix):
			name = line[len(untrackedPrefix):]
		case strings.HasPrefix(line, ignoredPrefix):
			name = line[len(ignoredPrefix):]
		default:
			continue
		}
		files = append(files, UnquotePath(name))
	}
	return files
}

// UnquotePath reverses git's C-style path quoting. Unquoted input is
// returned as-is; a quoted path that fails to unescape is returned with the
// surrounding quotes stripped.
func UnquotePath(name string) string {
	if len(name) < 2 || name[0] != '"' || name[len(name)-1] != '"' {
		return name
	}

	if unquoted, err := unescapeC(name[1 : len(name)-1]); err == nil {
		return unquoted
	}
	return name[1 : len(name)-1]
}

// unescapeC decodes the escape sequences git emits inside quoted paths:
// \t, \n, \r, \", \\ and three-digit octal byte escapes.
func unescapeC(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}

		i++
		if i >= len(s) {
			return "", strconv.ErrSyntax
		}

		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			if i+2 >= len(s) {
				return "", strconv.ErrSyntax
			}
			n, err := strconv.ParseUint(s[i:i+3], 8, 8)
			if err != nil {
				return "", strconv.ErrSyntax
			}
			b.WriteByte(byte(n))
			i += 2
		}
	}
	return b.String(), nil
}
