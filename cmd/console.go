package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fzft/go-fdwatch/deps/linenoise"
	"github.com/fzft/go-fdwatch/log"
	"github.com/fzft/go-fdwatch/reactor"
	"github.com/fzft/go-fdwatch/watch"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

// ErrQuit is returned by Run when the operator leaves the console.
var ErrQuit = errors.New("console: quit")

const helpText = `commands:
  stats                                     registry and poller counters
  handlers                                  registered handlers and their descriptors
  interest <fd> <read|write|except> <on|off> one-shot probe on a descriptor
  version                                   build information
  clear                                     clear the screen
  quit | exit                               stop the daemon`

var commandNames = []string{"clear", "exit", "handlers", "help", "interest", "quit", "stats", "version"}

// Console is an operator shell over a running reactor.
type Console struct {
	reactor     *reactor.Reactor
	logger      *zap.Logger
	in          io.Reader
	out         *syncWriter
	prompt      string
	historyFile string

	probe *probe // created on the loop goroutine on first use
}

type ConsoleOption func(*Console)

func WithIO(in io.Reader, out io.Writer) ConsoleOption {
	return func(c *Console) {
		c.in = in
		c.out = &syncWriter{w: out}
	}
}

func WithPrompt(prompt string) ConsoleOption {
	return func(c *Console) {
		c.prompt = prompt
	}
}

func WithHistoryFile(path string) ConsoleOption {
	return func(c *Console) {
		c.historyFile = path
	}
}

func WithLogger(logger *zap.Logger) ConsoleOption {
	return func(c *Console) {
		c.logger = logger
	}
}

func NewConsole(r *reactor.Reactor, opts ...ConsoleOption) *Console {
	c := &Console{
		reactor: r,
		logger:  log.Logger,
		in:      os.Stdin,
		out:     &syncWriter{w: os.Stdout},
		prompt:  "fdwatch> ",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads commands until the input ends, the operator quits, or ctx is done.
// Input that is a terminal gets line editing and history; anything else is read
// line by line, and reaching its end leaves the daemon running.
func (c *Console) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		if f, ok := c.in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			done <- c.interactive(ctx)
			return
		}
		done <- c.batch(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (c *Console) interactive(ctx context.Context) error {
	line := linenoise.New()
	defer line.Close()

	line.SetCompleter(complete)
	if c.historyFile != "" {
		if err := line.HistoryLoad(c.historyFile); err != nil {
			c.logger.Warn("failed to load console history", zap.String("file", c.historyFile), zap.Error(err))
		}
		defer func() {
			if err := line.HistorySave(c.historyFile); err != nil {
				c.logger.Warn("failed to save console history", zap.String("file", c.historyFile), zap.Error(err))
			}
		}()
	}

	fmt.Fprintf(c.out, "fdwatch %s, type help for commands\n", Version())
	for {
		input, err := line.Prompt(c.prompt)
		if err == linenoise.ErrAborted || err == io.EOF {
			return ErrQuit
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.TrimSpace(input) == "clear" {
			_ = line.ClearScreen(c.out)
			continue
		}
		if err := c.execAndPrint(ctx, input); err != nil {
			return err
		}
	}
}

func (c *Console) batch(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if err := c.execAndPrint(ctx, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// execAndPrint runs one command and prints its result. Only ErrQuit and a stopped
// reactor end the console; other errors are printed.
func (c *Console) execAndPrint(ctx context.Context, input string) error {
	out, err := c.Exec(ctx, input)
	switch {
	case errors.Is(err, ErrQuit), errors.Is(err, reactor.ErrStopped):
		return err
	case err != nil:
		fmt.Fprintf(c.out, "(error) %v\n", err)
	case out != "":
		fmt.Fprintln(c.out, out)
	}
	return nil
}

// Exec runs a single console command and returns its output.
func (c *Console) Exec(ctx context.Context, input string) (string, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", nil
	}

	switch strings.ToLower(fields[0]) {
	case "help":
		return helpText, nil
	case "version":
		return Version(), nil
	case "stats":
		return formatStats(c.reactor.Stats()), nil
	case "handlers":
		return formatHandlers(c.reactor.Registry().Handlers()), nil
	case "interest":
		return c.interest(ctx, fields[1:])
	case "clear":
		return "", nil
	case "quit", "exit":
		return "", ErrQuit
	}
	return "", fmt.Errorf("unknown command %q, try help", fields[0])
}

func (c *Console) interest(ctx context.Context, args []string) (string, error) {
	fd, kind, on, err := parseInterest(args)
	if err != nil {
		return "", err
	}

	err = c.reactor.DoWait(ctx, func() error {
		reg := c.reactor.Registry()
		if c.probe == nil {
			c.probe = &probe{reg: reg, out: c.out}
			reg.Register(c.probe)
		}
		return reg.InterestIs(c.probe, fd, kind, on)
	})
	if err != nil {
		return "", err
	}
	if on {
		return fmt.Sprintf("watching fd %d for %s", fd, kind), nil
	}
	return fmt.Sprintf("stopped watching fd %d for %s", fd, kind), nil
}

func parseInterest(args []string) (fd int, kind watch.Kind, on bool, err error) {
	if len(args) != 3 {
		return 0, 0, false, errors.New("usage: interest <fd> <read|write|except> <on|off>")
	}
	fd, err = strconv.Atoi(args[0])
	if err != nil || fd < 0 {
		return 0, 0, false, fmt.Errorf("bad descriptor %q", args[0])
	}

	switch strings.ToLower(args[1]) {
	case "r", "read", "readable":
		kind = watch.Readable
	case "w", "write", "writable":
		kind = watch.Writable
	case "x", "except", "exception":
		kind = watch.ExceptionPending
	default:
		return 0, 0, false, fmt.Errorf("bad kind %q", args[1])
	}

	switch strings.ToLower(args[2]) {
	case "on", "true", "1":
		on = true
	case "off", "false", "0":
		on = false
	default:
		return 0, 0, false, fmt.Errorf("bad state %q", args[2])
	}
	return fd, kind, on, nil
}

func complete(line string) []string {
	var out []string
	for _, name := range commandNames {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			out = append(out, name)
		}
	}
	return out
}

func formatStats(st reactor.Stats) string {
	return fmt.Sprintf("handlers:%d descriptors:%d readable:%d writable:%d exception:%d watched_fds:%d dispatched:%d dropped:%d",
		st.Registry.Handlers, st.Registry.Descriptors, st.Registry.Readable, st.Registry.Writable,
		st.Registry.Exception, st.Watched, st.Dispatched, st.Dropped)
}

func formatHandlers(infos []watch.HandlerInfo) string {
	if len(infos) == 0 {
		return "(no handlers)"
	}
	var b strings.Builder
	for i, info := range infos {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%v %s", info.Node, info.Handler)
		for _, d := range info.Descriptors {
			fmt.Fprintf(&b, " fd=%d:%s", d.FD, d.Interest)
		}
	}
	return b.String()
}

// probe is the console's own handler. Each interest it declares fires once: the
// callback reports the event and withdraws that interest again.
type probe struct {
	reg *watch.Registry
	out io.Writer
}

func (p *probe) OnReadable(fd int)  { p.fired(fd, watch.Readable) }
func (p *probe) OnWritable(fd int)  { p.fired(fd, watch.Writable) }
func (p *probe) OnException(fd int) { p.fired(fd, watch.ExceptionPending) }

func (p *probe) fired(fd int, kind watch.Kind) {
	fmt.Fprintf(p.out, "fd %d is %s\n", fd, kind)
	if err := p.reg.InterestIs(p, fd, kind, false); err != nil {
		fmt.Fprintf(p.out, "(error) %v\n", err)
	}
}

// syncWriter serializes writes from the console and loop goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
