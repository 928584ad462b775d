package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints in two columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint panel.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders hints, filling the first column before the second.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	keyColor := ColorName(m.theme.MenuKeyColor)

	rows := (len(hints) + 1) / 2
	for r := 0; r < rows; r++ {
		left := hints[r]
		_, _ = fmt.Fprintf(m, "[%s::b]%-9s[-:-:-] %-16s", keyColor, "<"+left.Key+">", left.Description)
		if j := r + rows; j < len(hints) {
			right := hints[j]
			_, _ = fmt.Fprintf(m, "[%s::b]%-9s[-:-:-] %s", keyColor, "<"+right.Key+">", right.Description)
		}
		_, _ = fmt.Fprintln(m)
	}
}
