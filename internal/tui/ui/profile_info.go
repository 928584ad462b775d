package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// ProfileData is what the header shows about the running client.
type ProfileData struct {
	Profile string
	UserID  string
	State   string
	Online  int
	Offline int
}

// ProfileInfo displays profile metadata in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates a new profile info panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the profile info.
func (pi *ProfileInfo) Update(d ProfileData) {
	pi.Clear()

	fg := ColorName(pi.theme.FgColor)
	counter := ColorName(pi.theme.CounterColor)
	user := d.UserID
	if user == "" {
		user = "-"
	}

	_, _ = fmt.Fprintf(pi,
		"[%s::b]Profile:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Socket:[-:-:-]  [%s]%s[-]\n"+
			"[%s::b]People:[-:-:-]  [%s]%d online, %d offline[-]",
		fg, counter, tview.Escape(d.Profile),
		fg, counter, tview.Escape(user),
		fg, counter, d.State,
		fg, counter, d.Online, d.Offline,
	)
}
