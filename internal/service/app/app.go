package app

import (
	"context"
	"fmt"
	"os"
	"snapsafe/internal/model"
	"snapsafe/internal/utils/log"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	// App is the terminal front end of a Session.
	App struct {
		app     *tview.Application
		threads *tview.List
		chatbox *tview.TextView
		input   *tview.InputField
		status  *tview.TextView

		session *Session
		peer    string
		// peers mirrors the rows of the threads list.
		peers []string
	}
)

// NewApp must be called before session.Start so that it sees every change.
func NewApp(session *Session) *App {
	c := &App{
		app:     tview.NewApplication(),
		session: session,
	}
	session.OnChange(c.Refresh)
	return c
}

// Refresh redraws from the session's threads. Safe from any goroutine.
func (c *App) Refresh() {
	c.app.QueueUpdateDraw(c.render)
}

// Run blocks until the user quits or ctx is cancelled.
func (c *App) Run(ctx context.Context, peer string) error {
	c.build()
	if peer != "" {
		c.session.Threads().Open(peer)
		c.peer = peer
	}
	c.render()

	stop := context.AfterFunc(ctx, c.app.Stop)
	defer stop()

	return c.app.SetRoot(c.layout(), true).SetFocus(c.input).Run()
}

func (c *App) build() {
	c.threads = tview.NewList().
		ShowSecondaryText(true).
		SetHighlightFullLine(true)
	c.threads.SetBorder(true).SetTitle(" Conversations ")
	c.threads.SetSelectedFunc(func(i int, _ string, _ string, _ rune) {
		if i < len(c.peers) {
			c.switchTo(c.peers[i])
		}
		c.app.SetFocus(c.input)
	})

	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true)

	c.status = tview.NewTextView().SetDynamicColors(true)

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" /open <id>, /photo <file>, /sync, Tab to switch ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(c.input.GetText())
		if text == "" {
			return
		}
		c.input.SetText("")
		c.handleInput(text)
	})

	c.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyTab {
			return event
		}
		if c.input.HasFocus() {
			c.app.SetFocus(c.threads)
		} else {
			c.app.SetFocus(c.input)
		}
		return nil
	})
}

func (c *App) layout() tview.Primitive {
	chat := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true).
		AddItem(c.status, 1, 0, false)

	return tview.NewFlex().
		AddItem(c.threads, 32, 0, false).
		AddItem(chat, 0, 1, true)
}

func (c *App) handleInput(text string) {
	switch {
	case strings.HasPrefix(text, "/open "):
		c.switchTo(strings.TrimSpace(strings.TrimPrefix(text, "/open ")))
	case text == "/sync":
		c.session.Refresh()
	case strings.HasPrefix(text, "/photo "):
		path := strings.TrimSpace(strings.TrimPrefix(text, "/photo "))
		data, err := os.ReadFile(path)
		if err != nil {
			c.setStatus("[red]cannot read %s: %v", path, err)
			return
		}
		c.send(model.ImagePayload(data))
	default:
		c.send(model.TextPayload(text))
	}
}

// switchTo leaves the current conversation, marking it read, and opens the
// conversation with peer.
func (c *App) switchTo(peer string) {
	if peer == "" || peer == c.peer {
		return
	}
	prev := c.peer
	c.peer = peer
	c.session.Threads().Open(peer)
	c.render()

	if prev != "" {
		go c.session.MarkRead(context.Background(), prev)
	}
}

func (c *App) send(p model.Payload) {
	peer := c.peer
	if peer == "" {
		c.setStatus("[red]open a conversation first: /open <id>")
		return
	}

	c.setStatus("sending...")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*c.session.api.timeout)
		defer cancel()

		if _, err := c.session.Send(ctx, peer, p); err != nil {
			log.Error("Send message failed", zap.String("to", peer), zap.Error(err))
			c.app.QueueUpdateDraw(func() {
				c.setStatus("[red]send failed: %v", err)
			})
			return
		}
		c.app.QueueUpdateDraw(func() {
			c.setStatus("")
		})
	}()
}

func (c *App) setStatus(format string, args ...any) {
	c.status.SetText(fmt.Sprintf(format, args...))
}

func (c *App) render() {
	snapshot := c.session.Threads().Snapshot()

	c.threads.Clear()
	c.peers = c.peers[:0]
	for i, th := range snapshot {
		main := tview.Escape(th.PeerID)
		if th.UnreadCount > 0 {
			main = fmt.Sprintf("%s [yellow](%d)[-]", main, th.UnreadCount)
		}
		c.threads.AddItem(main, preview(th.LastMessage()), 0, nil)
		c.peers = append(c.peers, th.PeerID)
		if th.PeerID == c.peer {
			c.threads.SetCurrentItem(i)
		}
	}

	c.chatbox.Clear()
	if c.peer == "" {
		c.chatbox.SetTitle(fmt.Sprintf(" %s ", c.session.Identity()))
		fmt.Fprintf(c.chatbox, "You are [yellow]%s[-]. Open a conversation with /open <id>.\n", c.session.Identity())
		return
	}

	c.chatbox.SetTitle(fmt.Sprintf(" Chat with %s ", c.peer))
	for _, th := range snapshot {
		if th.PeerID != c.peer {
			continue
		}
		for _, m := range th.Messages {
			fmt.Fprintln(c.chatbox, formatMessage(m))
		}
	}
	c.chatbox.ScrollToEnd()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 24 {
		s = string(r[:24]) + "..."
	}
	return tview.Escape(s)
}

func formatMessage(m *model.DecryptedMessage) string {
	at := m.CreatedAt.Local().Format(time.Kitchen)

	var body string
	switch p := m.Payload.(type) {
	case model.ImagePayload:
		body = fmt.Sprintf("[::i]photo, %d bytes[::-]", len(p))
	default:
		body = tview.Escape(p.Preview())
	}

	if m.Outgoing {
		return fmt.Sprintf("[gray]%s[-] [yellow]You:[-] %s", at, body)
	}
	return fmt.Sprintf("[gray]%s[-] [green]%s:[-] %s", at, tview.Escape(m.PeerID), body)
}
