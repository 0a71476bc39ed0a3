package telegram

import (
	"html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/mymmrac/telego"
	"golang.org/x/text/unicode/norm"

	"github.com/aatumaykin/chronobot/internal/tenant"
)

// Теги, которые Bot API принимает в режиме HTML.
var allowedTags = map[string]bool{
	"b":          true,
	"strong":     true,
	"i":          true,
	"em":         true,
	"u":          true,
	"ins":        true,
	"s":          true,
	"strike":     true,
	"del":        true,
	"code":       true,
	"pre":        true,
	"blockquote": true,
	"tg-spoiler": true,
}

// Rendered is content ready for the Bot API.
type Rendered struct {
	HTML     string // sanitized text or caption, ParseMode HTML
	Plain    string // fallback when Telegram rejects the markup
	Keyboard *telego.InlineKeyboardMarkup
}

// Render prepares tenant content for sending.
func Render(content tenant.Content) Rendered {
	text := SanitizeHTML(content.Text)
	return Rendered{
		HTML:     text,
		Plain:    PlainText(text),
		Keyboard: buildKeyboard(content.Buttons),
	}
}

// SanitizeHTML reduces operator-authored HTML to the subset Telegram
// supports: unknown tags are unwrapped, script and style are dropped, <br>
// and block elements become line breaks. Text is NFC-normalized.
func SanitizeHTML(text string) string {
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + text + "</body>"))
	if err != nil {
		return html.EscapeString(text)
	}
	body := doc.Find("body")
	body.Find("script, style, head").Remove()

	var b strings.Builder
	writeNodes(&b, body.Contents())
	return strings.TrimSpace(b.String())
}

func writeNodes(b *strings.Builder, sel *goquery.Selection) {
	sel.Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch name {
		case "#text":
			b.WriteString(html.EscapeString(s.Text()))
		case "#comment":
		case "br":
			b.WriteString("\n")
		case "p", "div", "li":
			writeNodes(b, s.Contents())
			b.WriteString("\n")
		case "a":
			href, ok := s.Attr("href")
			if !ok || !safeHref(href) {
				writeNodes(b, s.Contents())
				return
			}
			b.WriteString(`<a href="` + html.EscapeString(strings.TrimSpace(href)) + `">`)
			writeNodes(b, s.Contents())
			b.WriteString("</a>")
		case "span":
			if s.HasClass("tg-spoiler") {
				b.WriteString("<tg-spoiler>")
				writeNodes(b, s.Contents())
				b.WriteString("</tg-spoiler>")
				return
			}
			writeNodes(b, s.Contents())
		case "code":
			class, _ := s.Attr("class")
			if strings.HasPrefix(class, "language-") && !strings.ContainsAny(class, ` "<>`) {
				b.WriteString(`<code class="` + class + `">`)
			} else {
				b.WriteString("<code>")
			}
			writeNodes(b, s.Contents())
			b.WriteString("</code>")
		default:
			if !allowedTags[name] {
				writeNodes(b, s.Contents())
				return
			}
			b.WriteString("<" + name + ">")
			writeNodes(b, s.Contents())
			b.WriteString("</" + name + ">")
		}
	})
}

func safeHref(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(h, "https://") || strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "tg://")
}

// PlainText converts sanitized HTML into readable text without markup
// entities; links keep their URL in parentheses.
func PlainText(htmlText string) string {
	if htmlText == "" {
		return ""
	}
	converter := md.NewConverter("", true, &md.Options{
		EmDelimiter:     "_",
		StrongDelimiter: "**",
		CodeBlockStyle:  "fenced",
		EscapeMode:      "disabled",
	})
	out, err := converter.ConvertString(strings.ReplaceAll(htmlText, "\n", "<br>"))
	if err != nil {
		doc, derr := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
		if derr != nil {
			return htmlText
		}
		return strings.TrimSpace(doc.Text())
	}
	return strings.TrimSpace(out)
}

// buildKeyboard converts URL button rows to an inline keyboard.
func buildKeyboard(rows [][]tenant.URLButton) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	markup := &telego.InlineKeyboardMarkup{
		InlineKeyboard: make([][]telego.InlineKeyboardButton, 0, len(rows)),
	}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]telego.InlineKeyboardButton, len(row))
		for j, button := range row {
			buttons[j] = telego.InlineKeyboardButton{
				Text: button.Text,
				URL:  button.URL,
			}
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	if len(markup.InlineKeyboard) == 0 {
		return nil
	}
	return markup
}
