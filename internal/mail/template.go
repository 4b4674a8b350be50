// ABOUTME: Entry pass mail body construction: {{var}} expansion and defaults
// ABOUTME: Text bodies double as markdown source for the HTML variant

package mail

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
)

// Vars are the substitution values available to operator-supplied templates.
type Vars struct {
	Name  string
	Email string
	URL   string
}

// Expand replaces {{name}}, {{email}}, and {{url}} in a template.
// Unknown {{...}} sequences are left untouched.
func Expand(template string, vars Vars) string {
	r := strings.NewReplacer(
		"{{name}}", vars.Name,
		"{{email}}", vars.Email,
		"{{url}}", vars.URL,
	)
	return r.Replace(template)
}

// Bodies builds the HTML and text bodies for an entry pass message.
// Operator templates win when present; a text-only template is additionally
// rendered as markdown to produce the HTML variant; with neither, the default
// bilingual bodies are used.
func Bodies(htmlTemplate, textTemplate string, vars Vars) (htmlBody, textBody string, err error) {
	switch {
	case htmlTemplate != "":
		htmlBody = Expand(htmlTemplate, vars)
		if textTemplate != "" {
			textBody = Expand(textTemplate, vars)
		} else {
			textBody = defaultText(vars)
		}
	case textTemplate != "":
		textBody = Expand(textTemplate, vars)
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(textBody), &buf); err != nil {
			return "", "", fmt.Errorf("rendering mail body: %w", err)
		}
		htmlBody = buf.String()
	default:
		htmlBody = defaultHTML(vars)
		textBody = defaultText(vars)
	}
	return htmlBody, textBody, nil
}

func defaultHTML(vars Vars) string {
	greeting := ""
	if vars.Name != "" {
		greeting = fmt.Sprintf("<p>%s 様</p>\n  ", html.EscapeString(vars.Name))
	}
	u := html.EscapeString(vars.URL)
	return fmt.Sprintf(`<div>
  %s<p>イベントの入場用リンクです。こちらのリンクを当日入口でスタッフにお見せください。</p>
  <p>This is your entry pass. Show this link at the entrance on event day.</p>
  <p><a href="%s">%s</a></p>
</div>`, greeting, u, u)
}

func defaultText(vars Vars) string {
	greeting := ""
	if vars.Name != "" {
		greeting = vars.Name + " 様\n"
	}
	return greeting +
		"イベントの入場用リンクです。当日入口でスタッフにお見せください。\n" +
		"This is your entry pass. Show this link at the entrance.\n" +
		vars.URL
}
