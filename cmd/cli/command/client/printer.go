package client

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Printer renders connection events for the terminal.
type Printer struct {
	out io.Writer

	info    *color.Color
	id      *color.Color
	message *color.Color
	warn    *color.Color
	fail    *color.Color
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out:     out,
		info:    color.New(color.FgGreen),
		id:      color.New(color.FgCyan, color.Bold),
		message: color.New(color.FgYellow),
		warn:    color.New(color.FgHiBlack),
		fail:    color.New(color.FgRed),
	}
}

func (p *Printer) Connecting(address string) {
	fmt.Fprintf(p.out, "🔌 Connecting to %s...\n", address)
}

func (p *Printer) Connected() {
	p.info.Fprintln(p.out, "✅ Connected! Type a message and press Enter (or /quit to exit)")
}

func (p *Printer) ClientID(id string) {
	p.id.Fprintf(p.out, "🆔 Client ID: %s\n", id)
}

func (p *Printer) Message(payload string) {
	p.message.Fprintf(p.out, "📨 %s\n", payload)
}

func (p *Printer) Error(err error) {
	p.warn.Fprintf(p.out, "⚠️  %v\n", err)
}

func (p *Printer) Disconnected(err error) {
	switch {
	case err == nil:
		p.info.Fprintln(p.out, "👋 Disconnected")
	case errors.Is(err, io.EOF):
		p.fail.Fprintln(p.out, "🔌 Server closed the connection")
	default:
		p.fail.Fprintf(p.out, "❌ Disconnected: %v\n", err)
	}
}
