package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// preview redraws the partial answer on a terminal after every increment and erases itself
// before the final rendering is printed.
type preview struct {
	w      io.Writer
	render func(markdown string) (string, error)
	text   strings.Builder
	height int
}

func newPreview(w io.Writer, render func(string) (string, error)) *preview {
	return &preview{w: w, render: render}
}

// Add appends delta and redraws.
func (p *preview) Add(delta string) {
	p.text.WriteString(delta)
	out, err := p.render(p.text.String())
	if err != nil {
		out = p.text.String()
	}
	out = strings.TrimRight(out, "\n")
	p.erase()
	fmt.Fprint(p.w, out)
	p.height = lipgloss.Height(out)
}

// Clear erases what was drawn.
func (p *preview) Clear() {
	p.erase()
	p.height = 0
}

// erase moves the cursor to the first drawn line and clears to the end of the screen.
func (p *preview) erase() {
	if p.height == 0 {
		return
	}
	if p.height > 1 {
		fmt.Fprintf(p.w, "\x1b[%dA", p.height-1)
	}
	fmt.Fprint(p.w, "\r\x1b[J")
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
