package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/MrWong99/concierge/pkg/realtime"
	"github.com/MrWong99/concierge/pkg/realtime/transcript"
)

const promptHelp = `commands:
  /start   connect the voice session
  /stop    end the voice session
  /state   show the session state
  /quit    leave the prompt
anything else is sent to the assistant as a typed user turn`

// voiceControl is the part of [voiceHost] the prompt drives.
type voiceControl interface {
	Start(ctx context.Context) error
	Stop()
	SendText(text string)
	Snapshot() realtime.Snapshot
	OnChange(fn func(realtime.Snapshot))
}

// runPrompt reads typed turns from stdin until ctx ends, stdin closes or
// the user quits. On a terminal it uses a line editor; otherwise it reads
// plain lines, which makes piping a script of turns possible.
func runPrompt(ctx context.Context, v voiceControl) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		sc := bufio.NewScanner(os.Stdin)
		return promptLoop(ctx, v, os.Stdout, func() (string, error) {
			if sc.Scan() {
				return sc.Text(), nil
			}
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		})
	}

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	return promptLoop(ctx, v, t, func() (string, error) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return "", err
		}
		if w, h, err := term.GetSize(fd); err == nil {
			_ = t.SetSize(w, h)
		}
		line, err := t.ReadLine()
		if restoreErr := term.Restore(fd, oldState); err == nil {
			err = restoreErr
		}
		return line, err
	})
}

func promptLoop(ctx context.Context, v voiceControl, out io.Writer, readLine func() (string, error)) error {
	p := &transcriptPrinter{out: out, printed: make(map[string]bool)}
	v.OnChange(p.print)
	fmt.Fprintln(out, promptHelp)

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		for {
			line, err := readLine()
			if err != nil {
				errc <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if quit := handleLine(ctx, v, out, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handleLine runs one prompt line and reports whether the prompt should end.
func handleLine(ctx context.Context, v voiceControl, out io.Writer, line string) bool {
	switch line {
	case "":
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, promptHelp)
	case "/start":
		if err := v.Start(ctx); err != nil {
			fmt.Fprintln(out, "start failed:", err)
		}
	case "/stop":
		v.Stop()
	case "/state":
		snap := v.Snapshot()
		fmt.Fprintf(out, "state=%s status=%q volume=%.2f entries=%d\n", snap.State, snap.Status, snap.Volume, len(snap.Conversation))
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "unknown command %s, type /help\n", line)
			return false
		}
		if !v.Snapshot().Active {
			fmt.Fprintln(out, "session is not active, type /start first")
			return false
		}
		v.SendText(line)
	}
	return false
}

// transcriptPrinter writes each finalized conversation entry once, plus a
// line whenever the session state changes.
type transcriptPrinter struct {
	out io.Writer

	mu      sync.Mutex
	printed map[string]bool
	state   realtime.State
}

func (p *transcriptPrinter) print(snap realtime.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.State != p.state {
		p.state = snap.State
		fmt.Fprintf(p.out, "[%s] %s\n", snap.State, snap.Status)
	}
	for _, e := range snap.Conversation {
		if !e.Final || p.printed[e.ID] {
			continue
		}
		p.printed[e.ID] = true
		who := "concierge"
		if e.Role == transcript.RoleUser {
			who = "you"
		}
		fmt.Fprintf(p.out, "%s: %s\n", who, e.Text)
	}
}
