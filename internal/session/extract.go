package session

import (
	"regexp"
	"strings"
)

// Extractor turns generated text into an artifact. Fields it cannot find keep their value
// from prev.
type Extractor interface {
	Extract(text string, prev Artifact) Artifact
}

// FenceExtractor reads the first markup and the first css fenced block of the text.
type FenceExtractor struct{}

var markupLangs = map[string]bool{"": true, "jsx": true, "tsx": true, "js": true, "javascript": true, "react": true}

type fencedBlock struct {
	lang string
	body string
}

// scanFences splits text into ``` fenced blocks. Unterminated blocks are dropped.
func scanFences(text string) []fencedBlock {
	var (
		blocks []fencedBlock
		cur    fencedBlock
		body   []string
		open   bool
	)
	closeBlock := func() {
		cur.body = strings.Join(body, "\n")
		blocks = append(blocks, cur)
		body = nil
		open = false
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if !open {
			if strings.HasPrefix(trimmed, "```") {
				info := strings.Fields(strings.TrimPrefix(trimmed, "```"))
				cur = fencedBlock{}
				if len(info) > 0 {
					cur.lang = strings.ToLower(info[0])
				}
				open = true
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			closeBlock()
			continue
		}
		// closing fence glued to the last code line
		if i := strings.Index(line, "```"); i >= 0 {
			body = append(body, line[:i])
			closeBlock()
			continue
		}
		body = append(body, line)
	}
	return blocks
}

var (
	importStmt        = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(?:[^;'"]*?[ \t]from[ \t]*)?['"][^'"\n]*['"][ \t]*;?[ \t]*(?:\n|$)`)
	exportDefaultName = regexp.MustCompile(`(?m)^[ \t]*export[ \t]+default[ \t]+[A-Za-z_$][\w$]*[ \t]*;?[ \t]*(?:\n|$)`)
	exportList        = regexp.MustCompile(`(?m)^[ \t]*export[ \t]*(?:\{[^}]*\}|\*)[^\n]*(?:\n|$)`)
	exportKeyword     = regexp.MustCompile(`(?m)^([ \t]*)export[ \t]+(?:default[ \t]+)?`)
)

// NormalizeMarkup removes module syntax the preview sandbox cannot run and repairs a missing
// final brace. It is idempotent.
func NormalizeMarkup(code string) string {
	code = importStmt.ReplaceAllString(code, "")
	code = exportDefaultName.ReplaceAllString(code, "")
	code = exportList.ReplaceAllString(code, "")
	code = exportKeyword.ReplaceAllString(code, "$1")

	code = strings.TrimRight(code, " \t\r\n")
	code = strings.TrimSuffix(code, ",")
	code = strings.TrimRight(code, " \t\r\n")
	if !strings.HasSuffix(code, "}") {
		code += "\n}"
	}
	return code
}

func NormalizeStyle(css string) string {
	return strings.TrimSpace(css)
}

func (FenceExtractor) Extract(text string, prev Artifact) Artifact {
	out := prev
	var markupDone, styleDone bool
	for _, b := range scanFences(text) {
		switch {
		case !styleDone && b.lang == "css":
			styleDone = true
			if css := NormalizeStyle(b.body); css != "" {
				out.Style = css
			}
		case !markupDone && markupLangs[b.lang]:
			markupDone = true
			if strings.TrimSpace(b.body) != "" {
				out.Markup = NormalizeMarkup(b.body)
			}
		}
	}
	return out
}
