package signup

import (
	"log"
	"strings"
)

const usageSelector = "span.font-mono"

// scrapeUsage reads the "used/limit" counter from the settings page.
// Purely informational: any failure is logged and ignored.
func (f *Flow) scrapeUsage() {
	el := f.Page.Find(usageSelector)
	if el == nil {
		log.Printf("usage counter not found")
		return
	}
	text := el.Text()
	parts := strings.Split(text, "/")
	limit := strings.TrimSpace(parts[len(parts)-1])
	if limit == "" {
		log.Printf("usage counter unparseable: %q", text)
		return
	}
	f.emit("usage limit: " + limit)
}
