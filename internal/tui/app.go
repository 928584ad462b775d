// Package tui is the terminal front end: contacts, the open conversation, a
// composer and the connection state, redrawn from chat snapshots.
package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
)

const (
	restTimeout  = 15 * time.Second
	tickInterval = time.Second
)

// Session is the part of the chat client the UI drives.
type Session interface {
	Select(peer string) error
	LoadOlder() error
	Send(text string) (message.Message, bool)
	Delete(ctx context.Context, id string) error
	ClearConversation(ctx context.Context) error
	Logout() error
	Snapshot() (chat.Snapshot, error)
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	session  Session
	bus      *bus.Bus
	logger   *zap.Logger
	profile  string
	theme    *ui.Theme
	flash    *ui.Flash
	registry *keys.Registry

	pages     *tview.Pages
	root      *tview.Flex
	info      *ui.ProfileInfo
	menu      *ui.Menu
	prompt    *ui.Prompt
	contacts  *views.ContactList
	thread    *views.Thread
	statusBar *views.StatusBar
	help      *views.HelpView

	promptOpen bool
	refresh    chan struct{}

	// Pending session actions, run one at a time in submission order.
	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(s Session, b *bus.Bus, profileName string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		session:   s,
		bus:       b,
		logger:    logger.Named("tui"),
		profile:   profileName,
		theme:     theme,
		flash:     ui.NewFlash(),
		registry:  keys.NewRegistry(),
		pages:     tview.NewPages(),
		info:      ui.NewProfileInfo(theme),
		menu:      ui.NewMenu(theme),
		prompt:    ui.NewPrompt(theme),
		contacts:  views.NewContactList(theme),
		thread:    views.NewThread(theme),
		statusBar: views.NewStatusBar(theme),
		help:      views.NewHelpView(theme),
		refresh:   make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyTab, Label: "Tab", Description: "Switch pane",
		Handler: a.cycleFocus,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyCtrlK, Label: "Ctrl-K", Description: "Clear chat",
		Handler: a.clearConversation,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyCtrlL, Label: "Ctrl-L", Description: "Logout",
		Handler: a.logout,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':', Label: ":", Description: "Command",
		Handler: a.showPrompt,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?', Label: "?", Description: "Help",
		Handler: a.showHelp,
	})
	a.registry.AddView("thread", &keys.Action{
		Key: tcell.KeyPgUp, Label: "PgUp", Description: "Older",
		Handler: a.loadOlder,
	})
	a.registry.AddView("thread", &keys.Action{
		Key: tcell.KeyDelete, Label: "Del", Description: "Delete msg",
		Handler: a.deleteSelected,
	})
}

func (a *App) setupCallbacks() {
	a.contacts.SetOnOpen(a.open)
	a.thread.SetOnSend(a.send)
	a.prompt.SetOnSubmit(func(text string) {
		a.hidePrompt()
		a.runCommand(text)
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 0, 1, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 14, 0, false)

	body := tview.NewFlex().
		AddItem(a.contacts, 32, 0, true).
		AddItem(a.thread, 0, 1, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 4, 0, false).
		AddItem(body, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.pages.AddPage("main", a.root, true, true)
	a.pages.AddPage("help", a.help, true, false)
	a.app.SetRoot(a.pages, true)
	a.focus(a.contacts)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.promptOpen {
			return event
		}
		if page, _ := a.pages.GetFrontPage(); page == "help" {
			if event.Key() == tcell.KeyEscape || (event.Key() == tcell.KeyRune && event.Rune() == '?') {
				a.hideHelp()
				return nil
			}
			return event
		}

		_, typing := a.app.GetFocus().(*tview.InputField)
		if a.registry.HandleEvent(a.focusedView(), event, typing) {
			return nil
		}
		return event
	})
}

// focusedView names the pane holding focus, for view-scoped bindings.
func (a *App) focusedView() string {
	switch a.app.GetFocus() {
	case a.thread.Messages(), a.thread.Composer():
		return a.thread.Name()
	default:
		return a.contacts.Name()
	}
}

func (a *App) component() ui.Component {
	if page, _ := a.pages.GetFrontPage(); page == "help" {
		return a.help
	}
	if a.focusedView() == a.thread.Name() {
		return a.thread
	}
	return a.contacts
}

func (a *App) focus(p tview.Primitive) {
	a.app.SetFocus(p)
	for _, box := range []*tview.Box{a.contacts.Box, a.thread.Messages().Box, a.thread.Composer().Box} {
		box.SetBorderColor(a.theme.BorderColor)
	}
	switch p {
	case a.contacts:
		a.contacts.SetBorderColor(a.theme.BorderFocusColor)
	case a.thread.Messages():
		a.thread.Messages().SetBorderColor(a.theme.BorderFocusColor)
	case a.thread.Composer():
		a.thread.Composer().SetBorderColor(a.theme.BorderFocusColor)
	}
	a.menu.Update(a.component().Hints())
}

func (a *App) cycleFocus() {
	switch a.app.GetFocus() {
	case a.contacts:
		a.focus(a.thread.Messages())
	case a.thread.Messages():
		a.focus(a.thread.Composer())
	default:
		a.focus(a.contacts)
	}
}

func (a *App) showPrompt() {
	a.promptOpen = true
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptOpen = false
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focus(a.contacts)
}

func (a *App) showHelp() {
	a.pages.ShowPage("help")
	a.app.SetFocus(a.help)
	a.menu.Update(a.help.Hints())
}

func (a *App) hideHelp() {
	a.pages.HidePage("help")
	a.focus(a.contacts)
}

func (a *App) runCommand(text string) {
	cmd := ParseCommand(text)
	switch cmd.Name {
	case "open":
		id := a.contacts.Find(cmd.Args)
		if cmd.Args == "" || id == "" {
			a.flash.Warn("no contact matches " + cmd.Args)
			a.requestRefresh()
			return
		}
		a.open(id)
	case "older":
		a.loadOlder()
	case "delete":
		a.deleteSelected()
	case "clear":
		a.clearConversation()
	case "logout":
		a.logout()
	case "help":
		a.showHelp()
	case "quit":
		a.app.Stop()
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
		a.requestRefresh()
	}
}

// The actions below block on the chat loop, so they go through the action
// queue instead of running on the UI goroutine.

func (a *App) open(id string) {
	a.focus(a.thread.Composer())
	a.async("open", func() error { return a.session.Select(id) })
}

func (a *App) send(text string) {
	a.enqueue(func() {
		if _, ok := a.session.Send(text); !ok {
			a.flash.Warn("not sent: open a conversation while logged in")
		}
		a.requestRefresh()
	})
}

func (a *App) loadOlder() {
	a.async("load older", a.session.LoadOlder)
}

func (a *App) deleteSelected() {
	id := a.thread.SelectedMessage()
	if id == "" {
		return
	}
	a.async("delete", func() error {
		ctx, cancel := context.WithTimeout(a.ctx, restTimeout)
		defer cancel()
		if err := a.session.Delete(ctx, id); err != nil {
			return err
		}
		a.flash.Info("message deleted")
		return nil
	})
}

func (a *App) clearConversation() {
	a.async("clear", func() error {
		ctx, cancel := context.WithTimeout(a.ctx, restTimeout)
		defer cancel()
		if err := a.session.ClearConversation(ctx); err != nil {
			return err
		}
		a.flash.Info("conversation cleared")
		return nil
	})
}

func (a *App) logout() {
	a.async("logout", func() error {
		if err := a.session.Logout(); err != nil {
			return err
		}
		a.flash.Info("logged out")
		return nil
	})
}

func (a *App) async(what string, fn func() error) {
	a.enqueue(func() {
		if err := fn(); err != nil {
			a.logger.Warn("action failed", zap.String("action", what), zap.Error(err))
			a.flash.Err(err)
		}
		a.requestRefresh()
	})
}

// enqueue appends fn to the action queue without blocking the caller.
func (a *App) enqueue(fn func()) {
	a.queueMu.Lock()
	a.queue = append(a.queue, fn)
	a.queueMu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// work drains the action queue in order until the app stops.
func (a *App) work() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.wake:
		}
		for {
			a.queueMu.Lock()
			if len(a.queue) == 0 {
				a.queueMu.Unlock()
				break
			}
			fn := a.queue[0]
			a.queue[0] = nil
			a.queue = a.queue[1:]
			a.queueMu.Unlock()
			fn()
		}
	}
}

func (a *App) requestRefresh() {
	select {
	case a.refresh <- struct{}{}:
	default:
	}
}

// watch turns bus events into flash messages and redraws.
func (a *App) watch(events <-chan bus.Event) {
	for evt := range events {
		switch evt.Kind {
		case bus.MessageSendFailed:
			a.flash.Warn("message not delivered, send it again")
		case bus.HistoryFailed:
			a.flash.Warn("could not load history")
		case bus.SessionUnauthorized:
			a.flash.Err(errors.New("session expired: update the token and restart"))
		}
		a.requestRefresh()
	}
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.refresh:
		case <-ticker.C:
		}
		s, err := a.session.Snapshot()
		if errors.Is(err, chat.ErrClosed) {
			return
		}
		if err != nil {
			a.logger.Warn("snapshot failed", zap.Error(err))
			continue
		}
		a.app.QueueUpdateDraw(func() { a.render(s) })
	}
}

func (a *App) render(s chat.Snapshot) {
	a.contacts.Update(s.Online, s.Offline, s.Selected)
	a.thread.Update(s)
	a.statusBar.SetState(s.State)
	a.statusBar.SetFlash(a.flash.Current())
	a.info.Update(ui.ProfileData{
		Profile: a.profile,
		UserID:  s.Self,
		State:   string(s.State),
		Online:  len(s.Online),
		Offline: len(s.Offline),
	})
}

// Run starts the TUI and blocks until the user quits.
func (a *App) Run() error {
	defer a.cancel()
	events, unsubscribe := a.bus.Subscribe("", 64)
	defer unsubscribe()

	go a.watch(events)
	go a.refreshLoop()
	go a.work()
	a.requestRefresh()
	return a.app.Run()
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
