package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/matheus3301/chatsync/internal/app"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/status"
)

const waitTimeout = 10 * time.Second

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	debugFlag := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if !validArgs(args) {
		printUsage()
		os.Exit(1)
	}

	var (
		client *chat.Client
		events *bus.Bus
	)
	fxApp := fx.New(
		app.Module(app.Params{Profile: profileName, Debug: *debugFlag}),
		fx.Populate(&client, &events),
	)
	if err := fxApp.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Subscribe before Start so the first state changes are not missed.
	ch, unsubscribe := events.Subscribe("", 256)
	defer unsubscribe()

	startCtx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c := &cli{client: client, events: ch, json: *jsonFlag}
	err := c.run(args)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = fxApp.Stop(stopCtx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func validArgs(args []string) bool {
	switch args[0] {
	case "people", "watch":
		return len(args) == 1
	case "history", "clear":
		return len(args) == 2
	case "send":
		return len(args) >= 3
	case "delete":
		return len(args) == 3
	}
	fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
	return false
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  people                List contacts with presence")
	fmt.Fprintln(os.Stderr, "  history <peer>        Show the newest page of a conversation")
	fmt.Fprintln(os.Stderr, "  send <peer> <text>    Send a message and wait for the server echo")
	fmt.Fprintln(os.Stderr, "  delete <peer> <id>    Delete one message")
	fmt.Fprintln(os.Stderr, "  clear <peer>          Delete a whole conversation")
	fmt.Fprintln(os.Stderr, "  watch                 Print session events until interrupted")
}

type cli struct {
	client *chat.Client
	events <-chan bus.Event
	json   bool
}

func (c *cli) run(args []string) error {
	switch args[0] {
	case "people":
		return c.people()
	case "history":
		return c.history(args[1])
	case "send":
		return c.send(args[1], strings.Join(args[2:], " "))
	case "delete":
		return c.delete(args[1], args[2])
	case "clear":
		return c.clear(args[1])
	case "watch":
		return c.watch()
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

// waitFor consumes events until match accepts one or the timeout expires.
func (c *cli) waitFor(what string, match func(bus.Event) (bool, error)) error {
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case evt := <-c.events:
			if evt.Kind == bus.SessionUnauthorized {
				return errors.New("session unauthorized: check the profile token")
			}
			done, err := match(evt)
			if err != nil || done {
				return err
			}
		case <-timer.C:
			return fmt.Errorf("timed out waiting for %s", what)
		}
	}
}

func (c *cli) waitConnected() error {
	if s, err := c.client.Snapshot(); err == nil && s.State == status.Connected {
		return nil
	}
	return c.waitFor("connection", func(evt bus.Event) (bool, error) {
		change, ok := evt.Payload.(status.StatusChange)
		return ok && change.To == status.Connected, nil
	})
}

func (c *cli) open(peer string) error {
	if err := c.client.Select(peer); err != nil {
		return err
	}
	return c.waitFor("history", func(evt bus.Event) (bool, error) {
		res, ok := evt.Payload.(chat.HistoryResult)
		if !ok || res.Peer != peer || res.Older {
			return false, nil
		}
		if evt.Kind == bus.HistoryFailed {
			return true, fmt.Errorf("load history: %s", res.Error)
		}
		return true, nil
	})
}

func (c *cli) people() error {
	err := c.waitFor("contacts", func(evt bus.Event) (bool, error) {
		return evt.Kind == bus.PresenceChanged, nil
	})
	if err != nil {
		return err
	}
	s, err := c.client.Snapshot()
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(map[string][]presence.Contact{"online": s.Online, "offline": s.Offline})
		return nil
	}
	if len(s.Online)+len(s.Offline) == 0 {
		fmt.Println("No contacts found.")
		return nil
	}
	for _, p := range s.Online {
		fmt.Printf("%-24s %-30s online\n", p.ID, p.DisplayName())
	}
	for _, p := range s.Offline {
		fmt.Printf("%-24s %-30s offline\n", p.ID, p.DisplayName())
	}
	return nil
}

func (c *cli) history(peer string) error {
	if err := c.open(peer); err != nil {
		return err
	}
	s, err := c.client.Snapshot()
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(s.Messages)
		return nil
	}
	if len(s.Messages) == 0 {
		fmt.Println("No messages.")
		return nil
	}
	for _, m := range s.Messages {
		who := m.Sender
		if m.Sender == s.Self {
			who = "you"
		}
		fmt.Printf("%s  %-24s %-10s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), who, m.Status, m.Text)
	}
	if s.HasMore {
		fmt.Println("(older messages available)")
	}
	return nil
}

func (c *cli) send(peer, text string) error {
	if err := c.waitConnected(); err != nil {
		return err
	}
	if err := c.open(peer); err != nil {
		return err
	}
	sent, ok := c.client.Send(text)
	if !ok {
		return errors.New("nothing sent: empty text or socket not open")
	}

	var confirmed message.Message
	err := c.waitFor("server echo", func(evt bus.Event) (bool, error) {
		switch p := evt.Payload.(type) {
		case outbox.SendFailure:
			if p.ID == sent.ID {
				return true, fmt.Errorf("send failed: %s", p.Error)
			}
		case message.Message:
			if !p.IsTemp() && p.Text == sent.Text && p.Sender == sent.Sender && p.Recipient == peer {
				confirmed = p
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(confirmed)
		return nil
	}
	fmt.Printf("Sent: %s (%s)\n", confirmed.ID, confirmed.Status)
	return nil
}

func (c *cli) delete(peer, id string) error {
	if err := c.open(peer); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.client.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted: %s\n", id)
	return nil
}

func (c *cli) clear(peer string) error {
	if err := c.open(peer); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.client.ClearConversation(ctx); err != nil {
		return err
	}
	fmt.Printf("Cleared conversation with %s\n", peer)
	return nil
}

func (c *cli) watch() error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case evt := <-c.events:
			if c.json {
				if err := enc.Encode(evt); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%s  %-22s %v\n", evt.Timestamp.Local().Format("15:04:05"), evt.Kind, evt.Payload)
		case <-sigs:
			return nil
		}
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
