package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	kc := ui.Tag(theme.MenuKeyColor)
	_, _ = fmt.Fprintf(tv, `
  [::b]Keys[-:-:-]

  %[1]sTab[-]      Cycle contacts / messages / composer
  %[1]sEnter[-]    Open contact, send from composer
  %[1]sPgUp[-]     Load older history
  %[1]sDel[-]      Delete the highlighted message
  %[1]sCtrl-K[-]   Clear the conversation
  %[1]sCtrl-L[-]   Log out
  %[1]s:[-]        Command prompt
  %[1]s?[-]        This help (Esc closes)
  %[1]sCtrl-C[-]   Quit

  [::b]Commands[-:-:-]

  %[1]s:open <name>[-]   Open a conversation by name or id
  %[1]s:older[-]         Load older history
  %[1]s:delete[-]        Delete the highlighted message
  %[1]s:clear[-]         Clear the conversation
  %[1]s:logout[-]        Log out
  %[1]s:quit[-], %[1]s:q[-]      Quit

  [::b]Marks[-:-:-]

  …  sending     ✓  sent     ✓✓  delivered / read     ! failed
`, kc)

	return &HelpView{TextView: tv}
}

// Name implements ui.Component.
func (hv *HelpView) Name() string { return "help" }

// Hints implements ui.Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}
