// Package cli is the terminal front end: a readline prompt for commands and
// chat text, and a renderer that prints new session log lines above it.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/baderanaas/swapbytes/pkg/chat"
	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

const refreshInterval = 100 * time.Millisecond

// Terminal owns the readline instance for the lifetime of the session.
type Terminal struct {
	rl       *readline.Instance
	shell    *Shell
	svc      *chat.Service
	renderer *Renderer
	log      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func NewTerminal(svc *chat.Service, peers PeerLister, log *zap.Logger) (*Terminal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open terminal: %w", err)
	}
	return &Terminal{
		rl:       rl,
		shell:    NewShell(svc, peers),
		svc:      svc,
		renderer: NewRenderer(svc.Session()),
		log:      log.Named("cli"),
	}, nil
}

func (t *Terminal) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.rl.Close() })
	return t.closeErr
}

func (t *Terminal) PrintBanner(self string, addrs []string) {
	fmt.Fprintln(t.rl.Stdout(), "SwapBytes - a p2p platform for file sharing")
	fmt.Fprintf(t.rl.Stdout(), "Peer ID: %s\n", self)
	for _, a := range addrs {
		fmt.Fprintf(t.rl.Stdout(), "  %s\n", a)
	}
}

// Login prompts until a nickname is accepted. A non-empty nickname is tried
// first without prompting.
func (t *Terminal) Login(ctx context.Context, nickname string) error {
	t.rl.SetPrompt("Choose a nickname: ")
	defer t.rl.SetPrompt("> ")

	for {
		if nickname == "" {
			line, err := t.rl.Readline()
			if err != nil {
				return err
			}
			nickname = strings.TrimSpace(line)
			if nickname == "" {
				continue
			}
		}
		err := t.svc.Login(ctx, nickname)
		if err == nil {
			return nil
		}
		if !errors.Is(err, chat.ErrInvalidNickname) {
			return err
		}
		fmt.Fprintf(t.rl.Stdout(), "Invalid nickname %q: it must be non-empty and contain no spaces\n", nickname)
		nickname = ""
	}
}

// Run reads lines until /quit, end of input or ctx is cancelled.
func (t *Terminal) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go t.refresh(ctx)
	go func() {
		<-ctx.Done()
		// unblocks Readline when shutdown comes from a signal
		_ = t.Close()
	}()

	for {
		line, err := t.rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if t.shell.Execute(ctx, line) {
			return nil
		}
	}
}

func (t *Terminal) refresh(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	prompt := ""
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		buf.Reset()
		wrote, err := t.renderer.Render(&buf)
		if err != nil {
			t.log.Warn("failed to render", zap.Error(err))
		}
		if p := t.renderer.Prompt(); p != prompt {
			prompt = p
			t.rl.SetPrompt(p)
		}
		if wrote {
			t.rl.Clean()
			_, _ = t.rl.Stdout().Write(buf.Bytes())
			t.rl.Refresh()
		}
	}
}
