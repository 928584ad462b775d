package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Thread displays one conversation and a composer below it.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.Table
	composer *tview.InputField
	ids      []string
	onSend   func(text string)
	now      func() time.Time
}

// NewThread creates a new thread view.
func NewThread(theme *ui.Theme) *Thread {
	messages := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	messages.SetTitle(" No conversation ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(composer, 3, 0, true)

	t := &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || t.onSend == nil {
			return
		}
		if text := composer.GetText(); text != "" {
			t.onSend(text)
			composer.SetText("")
		}
	})

	return t
}

// Name implements ui.Component.
func (t *Thread) Name() string { return "thread" }

// Hints implements ui.Component.
func (t *Thread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Send"},
		{Key: "PgUp", Description: "Older"},
		{Key: "Del", Description: "Delete msg"},
		{Key: "Ctrl-K", Description: "Clear chat"},
		{Key: "Tab", Description: "Switch pane"},
		{Key: "Ctrl-C", Description: "Quit"},
	}
}

// SetOnSend sets the callback when the composer submits text.
func (t *Thread) SetOnSend(fn func(text string)) {
	t.onSend = fn
}

// Messages returns the message table (for focus management).
func (t *Thread) Messages() *tview.Table {
	return t.messages
}

// Composer returns the composer input field (for focus management).
func (t *Thread) Composer() *tview.InputField {
	return t.composer
}

// SelectedMessage returns the id of the highlighted message.
func (t *Thread) SelectedMessage() string {
	row, _ := t.messages.GetSelection()
	if row < 0 || row >= len(t.ids) {
		return ""
	}
	return t.ids[row]
}

// Update renders the conversation in s. The cursor follows new messages
// unless it was moved off the last row.
func (t *Thread) Update(s chat.Snapshot) {
	row, _ := t.messages.GetSelection()
	following := len(t.ids) == 0 || row >= len(t.ids)-1
	current := t.SelectedMessage()

	t.messages.Clear()
	t.ids = t.ids[:0]
	t.messages.SetTitle(t.title(s))
	if s.Selected == "" {
		return
	}

	peerName := tview.Escape(sanitizeForTerminal(contactLabel(s.Peer)))
	now := t.now()
	for i, m := range s.Messages {
		sender, color := peerName, t.theme.PeerColor
		if m.Sender == s.Self {
			sender, color = "You", t.theme.OwnColor
		}
		text := tview.Escape(sanitizeForTerminal(m.Text))
		if text == "" {
			text = "[::d]…[::-]"
		}

		t.messages.SetCell(i, 0, tview.NewTableCell(formatTimestamp(m.CreatedAt, now)).
			SetTextColor(t.theme.OfflineColor))
		t.messages.SetCell(i, 1, tview.NewTableCell(sender).
			SetTextColor(color).
			SetAttributes(tcell.AttrBold))
		t.messages.SetCell(i, 2, tview.NewTableCell(text).
			SetTextColor(t.theme.FgColor).
			SetExpansion(1))
		mark, markColor := "", t.theme.FgColor
		if m.Sender == s.Self {
			mark, markColor = statusMark(m.Status, t.theme)
		}
		t.messages.SetCell(i, 3, tview.NewTableCell(mark).
			SetTextColor(markColor).
			SetAlign(tview.AlignRight))
		t.ids = append(t.ids, m.ID)
	}

	if len(t.ids) == 0 {
		return
	}
	target := len(t.ids) - 1
	if !following {
		for i, id := range t.ids {
			if id == current {
				target = i
				break
			}
		}
	}
	t.messages.Select(target, 0)
}

func (t *Thread) title(s chat.Snapshot) string {
	if s.Selected == "" {
		return " No conversation "
	}
	presenceMark := ui.Tag(t.theme.OfflineColor) + "○ offline[-]"
	if s.PeerOnline {
		presenceMark = ui.Tag(t.theme.OnlineColor) + "● online[-]"
	}
	title := fmt.Sprintf(" %s %s ", tview.Escape(sanitizeForTerminal(contactLabel(s.Peer))), presenceMark)
	switch {
	case s.Loading:
		title += "· loading… "
	case s.HasMore:
		title += "· PgUp for older "
	}
	return title
}
