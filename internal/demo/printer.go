package demo

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var palette = []int{36, 33, 35, 32, 34, 31}

// Printer writes task output lines, one colour per task name when the
// destination is a terminal.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	colors map[string]int
	lines  int
}

// NewPrinter writes to f, colouring only if f is a terminal.
func NewPrinter(f *os.File) *Printer {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewPrinterWriter(colorable.NewColorable(f), true)
	}
	return NewPrinterWriter(colorable.NewNonColorable(f), false)
}

// NewPrinterWriter writes to w with colouring forced on or off.
func NewPrinterWriter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color, colors: make(map[string]int)}
}

// Printf writes one line attributed to task name.
func (p *Printer) Printf(name, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines++
	line := fmt.Sprintf(format, args...)
	if !p.color {
		fmt.Fprintln(p.w, line)
		return
	}
	c, ok := p.colors[name]
	if !ok {
		c = palette[len(p.colors)%len(palette)]
		p.colors[name] = c
	}
	fmt.Fprintf(p.w, "\x1b[%dm%s\x1b[0m\n", c, line)
}

// Lines returns the number of lines written.
func (p *Printer) Lines() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}
