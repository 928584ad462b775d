package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// ContactList shows online contacts first, then offline ones.
type ContactList struct {
	*tview.Table
	theme    *ui.Theme
	ids      []string
	contacts map[string]presence.Contact
	onOpen   func(id string)
}

// NewContactList creates the contacts pane.
func NewContactList(theme *ui.Theme) *ContactList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Contacts ")
	table.SetTitleColor(theme.TitleColor)

	cl := &ContactList{
		Table:    table,
		theme:    theme,
		contacts: make(map[string]presence.Contact),
	}
	table.SetSelectedFunc(func(row, _ int) {
		if id := cl.idAt(row); id != "" && cl.onOpen != nil {
			cl.onOpen(id)
		}
	})
	return cl
}

// Name implements ui.Component.
func (cl *ContactList) Name() string { return "contacts" }

// Hints implements ui.Component.
func (cl *ContactList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "Tab", Description: "Switch pane"},
		{Key: ":", Description: "Command"},
		{Key: "Ctrl-L", Description: "Logout"},
		{Key: "?", Description: "Help"},
	}
}

// SetOnOpen sets the callback for Enter on a contact.
func (cl *ContactList) SetOnOpen(fn func(id string)) {
	cl.onOpen = fn
}

// Update re-renders both sections, keeping the cursor on the same contact.
func (cl *ContactList) Update(online, offline []presence.Contact, active string) {
	current := cl.Selected()

	cl.Clear()
	cl.ids = cl.ids[:0]
	clear(cl.contacts)

	cl.section(fmt.Sprintf("ONLINE (%d)", len(online)))
	for _, c := range online {
		cl.row(c, "●", cl.theme.OnlineColor, c.ID == active)
	}
	cl.section(fmt.Sprintf("OFFLINE (%d)", len(offline)))
	for _, c := range offline {
		cl.row(c, "○", cl.theme.OfflineColor, c.ID == active)
	}
	cl.SetTitle(fmt.Sprintf(" Contacts (%d) ", len(online)+len(offline)))

	target := current
	if target == "" {
		target = active
	}
	for row, id := range cl.ids {
		if id != "" && (target == "" || id == target) {
			cl.Select(row, 0)
			return
		}
	}
}

func (cl *ContactList) section(title string) {
	row := len(cl.ids)
	cl.SetCell(row, 0, tview.NewTableCell(" "+title).
		SetSelectable(false).
		SetTextColor(cl.theme.TableHeaderFg).
		SetAttributes(tcell.AttrBold).
		SetExpansion(1))
	cl.ids = append(cl.ids, "")
}

func (cl *ContactList) row(c presence.Contact, dot string, color tcell.Color, active bool) {
	row := len(cl.ids)
	name := tview.Escape(sanitizeForTerminal(contactLabel(c)))
	marker := "  "
	if active {
		marker = "› "
	}
	cell := tview.NewTableCell(fmt.Sprintf("%s%s%s[-] %s", marker, ui.Tag(color), dot, name)).
		SetTextColor(cl.theme.FgColor).
		SetExpansion(1)
	if active {
		cell.SetAttributes(tcell.AttrBold)
	}
	cl.SetCell(row, 0, cell)
	cl.ids = append(cl.ids, c.ID)
	cl.contacts[c.ID] = c
}

func (cl *ContactList) idAt(row int) string {
	if row < 0 || row >= len(cl.ids) {
		return ""
	}
	return cl.ids[row]
}

// Selected returns the id under the cursor.
func (cl *ContactList) Selected() string {
	row, _ := cl.GetSelection()
	return cl.idAt(row)
}

// Find returns the first contact whose name or id contains query.
func (cl *ContactList) Find(query string) string {
	for _, id := range cl.ids {
		if id == "" {
			continue
		}
		if id == query || containsFold(contactLabel(cl.contacts[id]), query) {
			return id
		}
	}
	return ""
}
