package views

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// sanitizeForTerminal drops codepoints tcell renders badly: skin tone
// modifiers, the zero width joiner and variation selectors. Combined emoji
// fall back to their base character.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF:
		case r == 0x200D:
		case r >= 0xFE00 && r <= 0xFE0F:
		case r >= 0xE0100 && r <= 0xE01EF:
		case r == '\r':
		case r == '\n' || r == '\t':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// formatTimestamp shows the clock for today and the date otherwise.
func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// statusMark is the delivery glyph for an own message and its color.
func statusMark(st message.Status, theme *ui.Theme) (string, tcell.Color) {
	switch st {
	case message.StatusSending:
		return "…", theme.OfflineColor
	case message.StatusSent:
		return "✓", theme.FgColor
	case message.StatusDelivered:
		return "✓✓", theme.FgColor
	case message.StatusRead:
		return "✓✓", theme.ReadColor
	case message.StatusFailed:
		return "! failed", theme.FailedColor
	}
	return "", theme.FgColor
}

// contactLabel is the display name, or the id for contacts without a name.
func contactLabel(c presence.Contact) string {
	if strings.TrimSpace(c.FullName+c.FirstName+c.LastName) == "" && c.ID != "" {
		return c.ID
	}
	return c.DisplayName()
}
