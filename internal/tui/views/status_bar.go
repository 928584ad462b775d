package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// StatusBar displays the connection state, profile and flash message.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	state   status.State
	flash   ui.FlashMessage
	hasMsg  bool
	now     func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, now: time.Now}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetState updates the connection indicator.
func (sb *StatusBar) SetState(s status.State) {
	sb.state = s
	sb.render()
}

// SetFlash shows msg until the next call; ok false clears it.
func (sb *StatusBar) SetFlash(msg ui.FlashMessage, ok bool) {
	sb.flash, sb.hasMsg = msg, ok
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s",
		tview.Escape(sb.profile), sb.indicator(), sb.now().Format("15:04"))
	if sb.hasMsg {
		line += fmt.Sprintf(" | [%s]%s[-]", sb.theme.FlashColor(sb.flash.Level), tview.Escape(sb.flash.Text))
	}
	_, _ = fmt.Fprint(sb, line)
}

func (sb *StatusBar) indicator() string {
	switch sb.state {
	case status.Connected:
		return ui.Tag(sb.theme.OnlineColor) + "● connected[-]"
	case status.Connecting:
		return ui.Tag(sb.theme.FlashWarnColor) + "◌ connecting[-]"
	default:
		return ui.Tag(sb.theme.FailedColor) + "○ disconnected[-]"
	}
}
