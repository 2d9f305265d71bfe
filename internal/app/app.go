package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/domain"
	"relaychat/internal/services/transfer"
)

// ErrQuit is returned by Execute for /quit.
var ErrQuit = errors.New("quit")

// ErrUsage is returned for a malformed command.
var ErrUsage = errors.New("usage")

const helpText = `commands:
  <text>                 send to everyone
  /msg <user> <text>     send privately
  /send <user|*> <path>  offer a file
  /offers                list pending offers
  /accept <id>           accept an offer
  /reject <id>           decline an offer
  /who                   list who is online
  /quit                  leave`

// Transfers is the file transfer surface the app drives.
type Transfers interface {
	domain.FileTransfers
	PendingOffers() []transfer.Offer
}

// App renders inbound messages and executes input lines.
type App struct {
	session   domain.ChatSession
	transfers Transfers
	log       *logging.Logger

	outMu sync.Mutex
	out   io.Writer

	usersMu sync.Mutex
	users   map[domain.Username]int

	system  func(a ...any) string
	private func(a ...any) string
	alert   func(a ...any) string
	name    func(a ...any) string
}

// New returns an App writing to out.
func New(session domain.ChatSession, transfers Transfers, out io.Writer, log *logging.Logger) *App {
	return &App{
		session:   session,
		transfers: transfers,
		log:       log,
		out:       out,
		users:     make(map[domain.Username]int),
		system:    color.New(color.FgYellow).SprintFunc(),
		private:   color.New(color.FgMagenta).SprintFunc(),
		alert:     color.New(color.FgRed, color.Bold).SprintFunc(),
		name:      color.New(color.FgCyan, color.Bold).SprintFunc(),
	}
}

// Run subscribes to the session and executes lines from in until /quit, end
// of input, ctx cancellation or disconnection.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	a.session.Subscribe(a.HandleMessage)

	var done <-chan struct{}
	if d, ok := a.session.(interface{ Done() <-chan struct{} }); ok {
		done = d.Done()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := a.Execute(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				a.printf("%s %v", a.alert("!"), err)
			}
		}
	}
}

// Execute runs one input line.
func (a *App) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return a.session.SendPublic(line)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return ErrQuit
	case "/help":
		a.printf("%s", helpText)
		return nil
	case "/msg":
		to, text, ok := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if !ok || to == "" || text == "" {
			return fmt.Errorf("%w: /msg <user> <text>", ErrUsage)
		}
		if err := a.session.SendPrivate(domain.Username(to), text); err != nil {
			return err
		}
		a.printf("%s %s -> %s: %s", a.private("[private]"), a.name(a.session.Username()), a.name(to), text)
		return nil
	case "/send":
		to, path, ok := strings.Cut(rest, " ")
		path = strings.TrimSpace(path)
		if !ok || to == "" || path == "" {
			return fmt.Errorf("%w: /send <user|*> <path>", ErrUsage)
		}
		id, err := a.transfers.OfferFile(domain.Username(to), path)
		if err != nil {
			return err
		}
		a.printf("%s offered %s to %s (id %s)", a.system("*"), path, to, id)
		return nil
	case "/accept", "/reject":
		if rest == "" {
			return fmt.Errorf("%w: %s <id>", ErrUsage, cmd)
		}
		if cmd == "/accept" {
			if err := a.transfers.Accept(rest); err != nil {
				return err
			}
			a.printf("%s accepted %s", a.system("*"), rest)
			return nil
		}
		if err := a.transfers.Reject(rest); err != nil {
			return err
		}
		a.printf("%s rejected %s", a.system("*"), rest)
		return nil
	case "/offers":
		offers := a.transfers.PendingOffers()
		if len(offers) == 0 {
			a.printf("%s no pending offers", a.system("*"))
			return nil
		}
		for _, o := range offers {
			a.printf("%s %s from %s, %d bytes (id %s)", a.system("*"), o.Name, o.From, o.Size, o.FileID)
		}
		return nil
	case "/who":
		a.printUsers()
		return nil
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// HandleMessage renders one inbound message and feeds file traffic to the
// transfer manager.
func (a *App) HandleMessage(m domain.Message) {
	switch m.Type {
	case domain.TypePublic, domain.TypePrivate:
		var b domain.TextBody
		if err := m.Decode(&b); err != nil {
			a.log.Debugf("bad %s body from %s: %v", m.Type, m.Sender, err)
			return
		}
		if m.Type == domain.TypePrivate {
			a.printf("%s %s %s -> you: %s", clock(m.TS), a.private("[private]"), a.name(m.Sender), b.Text)
			return
		}
		a.printf("%s %s: %s", clock(m.TS), a.name(m.Sender), b.Text)

	case domain.TypeSystem:
		var p domain.SystemPayload
		if err := m.DecodePayload(&p); err == nil && p.Text != "" {
			a.printf("%s %s", a.system("*"), p.Text)
		}

	case domain.TypeUserList:
		var p domain.UserListPayload
		if err := m.DecodePayload(&p); err != nil {
			return
		}
		a.usersMu.Lock()
		a.users = p.Users
		a.usersMu.Unlock()

	case domain.TypeFileOffer:
		var o domain.FileOfferBody
		if err := m.Decode(&o); err != nil {
			return
		}
		a.transfers.HandleOffer(m.Sender, o)
		a.printf("%s %s offers %s (%d bytes); /accept %s or /reject %s",
			a.system("*"), a.name(m.Sender), o.Name, o.Size, o.FileID, o.FileID)

	case domain.TypeFileAck:
		var ack domain.FileAckBody
		if err := m.Decode(&ack); err != nil {
			return
		}
		if err := a.transfers.HandleAck(m.Sender, ack); err != nil {
			a.printf("%s ack from %s: %v", a.alert("!"), m.Sender, err)
			return
		}
		verb := "declined"
		if ack.Accept {
			verb = "accepted, sending"
		}
		a.printf("%s %s %s %s", a.system("*"), a.name(m.Sender), verb, ack.ID)

	case domain.TypeFileChunk:
		var c domain.FileChunkBody
		if err := m.Decode(&c); err != nil {
			return
		}
		path, done, err := a.transfers.HandleChunk(m.Sender, c)
		switch {
		case errors.Is(err, transfer.ErrNotAccepted), errors.Is(err, transfer.ErrRejected):
			a.log.Debugf("dropping chunk %s/%d from %s: %v", c.ID, c.Seq, m.Sender, err)
		case err != nil:
			a.printf("%s transfer %s from %s: %v", a.alert("!"), c.ID, m.Sender, err)
		case done:
			a.printf("%s saved file from %s to %s", a.system("*"), a.name(m.Sender), path)
		}

	case domain.TypeError:
		var e domain.ErrorPayload
		if err := m.DecodePayload(&e); err != nil {
			return
		}
		if e.Code == domain.CodeUserNotFound {
			a.printf("%s no such user: %s", a.alert("!"), e.User)
			return
		}
		a.printf("%s relay error: %s", a.alert("!"), e.Code)
	}
}

func (a *App) printUsers() {
	a.usersMu.Lock()
	names := make([]string, 0, len(a.users))
	for u := range a.users {
		names = append(names, string(u))
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, []string{n, strconv.Itoa(a.users[domain.Username(n)])})
	}
	a.usersMu.Unlock()

	a.outMu.Lock()
	defer a.outMu.Unlock()
	t := tablewriter.NewWriter(a.out)
	t.SetHeader([]string{"User", "Avatar"})
	t.AppendBulk(rows)
	t.Render()
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format+"\n", args...)
}

// clock renders a wire timestamp as local HH:MM:SS.
func clock(ts string) string {
	t, err := domain.ParseTimestamp(ts)
	if err != nil {
		return "[--:--:--]"
	}
	return t.Local().Format("[" + time.TimeOnly + "]")
}
