package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"isrlink/core"
	"isrlink/host/config"
	"isrlink/transport"
)

const defaultReadSize = 64

var errUsage = errors.New("usage")

// console runs shell commands against one channel.
// Commands run on the shell goroutine, which is the channel's only mainline.
type console struct {
	ch *transport.Channel
}

type command struct {
	name string
	help string
	run  func(args []string) (string, error)
}

func (con *console) commands() []command {
	return []command{
		{"write", "TEXT - transmit TEXT, Go escapes allowed", con.write},
		{"puts", "TEXT - transmit TEXT followed by the delimiter", con.puts},
		{"read", "[N] - read what is buffered, up to N bytes", con.read},
		{"readn", "N - read exactly N bytes", con.readn},
		{"gets", "[N] - read one line", con.gets},
		{"peek", "- length of the first buffered line", con.peek},
		{"avail", "- number of buffered bytes", con.avail},
		{"overflow", "- whether received bytes were dropped", con.overflow},
		{"clear", "[rx|tx] - discard buffered data", con.clear},
		{"mode", "[blocking|nonblocking] - show or set the write mode", con.mode},
		{"delim", "[CHAR] - show or set the line delimiter", con.delim},
		{"status", "- channel state", con.status},
		{"events", "[clear] - dump the event ring", con.events},
	}
}

// install registers every command with sh
func (con *console) install(sh *ishell.Shell) {
	for _, cmd := range con.commands() {
		run := cmd.run
		sh.AddCmd(&ishell.Cmd{
			Name: cmd.name,
			Help: cmd.help,
			Func: func(c *ishell.Context) {
				out, err := run(c.Args)
				if out != "" {
					c.Println(out)
				}
				if err != nil {
					c.Err(err)
				}
			},
		})
	}
}

func unescape(args []string) (string, error) {
	text := strings.Join(args, " ")
	s, err := strconv.Unquote(`"` + strings.ReplaceAll(text, `"`, `\"`) + `"`)
	if err != nil {
		return "", fmt.Errorf("bad escape in %q: %w", text, err)
	}
	return s, nil
}

func (con *console) transmit(text string) (string, error) {
	n, err := con.ch.WriteString(text)
	if err != nil {
		return fmt.Sprintf("sent %d of %d bytes", n, len(text)), err
	}
	if con.ch.Mode() == transport.NonBlocking {
		return fmt.Sprintf("queued %d bytes", len(text)), nil
	}
	return fmt.Sprintf("sent %d bytes", n), nil
}

func (con *console) write(args []string) (string, error) {
	if len(args) == 0 {
		return "", errUsage
	}
	text, err := unescape(args)
	if err != nil {
		return "", err
	}
	return con.transmit(text)
}

func (con *console) puts(args []string) (string, error) {
	text, err := unescape(args)
	if err != nil {
		return "", err
	}
	return con.transmit(text + string(con.ch.Delimiter()))
}

func sizeArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: size must be a positive number", errUsage)
	}
	return n, nil
}

func (con *console) read(args []string) (string, error) {
	size, err := sizeArg(args, defaultReadSize)
	if err != nil {
		return "", err
	}
	buf := make([]byte, size)
	n, err := con.ch.Read(buf)
	return strconv.Quote(string(buf[:n])), err
}

func (con *console) readn(args []string) (string, error) {
	if len(args) == 0 {
		return "", errUsage
	}
	size, err := sizeArg(args, 0)
	if err != nil {
		return "", err
	}
	buf := make([]byte, size)
	n, err := con.ch.ReadFull(buf)
	return strconv.Quote(string(buf[:n])), err
}

func (con *console) gets(args []string) (string, error) {
	size, err := sizeArg(args, con.ch.Ring().Capacity())
	if err != nil {
		return "", err
	}
	buf := make([]byte, size+1)
	n, err := con.ch.ReadLine(buf)
	return strconv.Quote(string(buf[:n])), err
}

func (con *console) peek([]string) (string, error) {
	n := con.ch.CanReadLine()
	if n == transport.LineOverflow {
		return "overflow", nil
	}
	return strconv.Itoa(n), nil
}

func (con *console) avail([]string) (string, error) {
	return strconv.Itoa(con.ch.BytesAvailable()), nil
}

func (con *console) overflow([]string) (string, error) {
	return strconv.FormatBool(con.ch.IsOverflowed()), nil
}

func (con *console) clear(args []string) (string, error) {
	what := "all"
	if len(args) > 0 {
		what = args[0]
	}
	switch what {
	case "rx":
		con.ch.ClearRx()
	case "tx":
		con.ch.ClearTx()
	case "all":
		con.ch.ClearRx()
		con.ch.ClearTx()
	default:
		return "", fmt.Errorf("%w: clear [rx|tx]", errUsage)
	}
	return "cleared " + what, nil
}

func (con *console) mode(args []string) (string, error) {
	if len(args) > 0 {
		m, err := config.ParseMode(args[0])
		if err != nil {
			return "", err
		}
		con.ch.SetMode(m)
	}
	return con.ch.Mode().String(), nil
}

func (con *console) delim(args []string) (string, error) {
	if len(args) > 0 {
		d, err := config.ParseDelimiter(args[0])
		if err != nil {
			return "", err
		}
		con.ch.SetDelimiter(d)
	}
	return strconv.QuoteRune(rune(con.ch.Delimiter())), nil
}

func (con *console) status([]string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "mode:      %s\n", con.ch.Mode())
	fmt.Fprintf(&b, "delimiter: %q\n", rune(con.ch.Delimiter()))
	fmt.Fprintf(&b, "buffered:  %d/%d\n", con.ch.BytesAvailable(), con.ch.Ring().Capacity()-1)
	fmt.Fprintf(&b, "overflow:  %t\n", con.ch.IsOverflowed())
	fmt.Fprintf(&b, "sending:   %t (%d sent)\n", !con.ch.IsWriteFinished(), con.ch.Sequencer().Sent())
	fmt.Fprintf(&b, "tx idle:   %t", con.ch.TxIsIdle())
	return b.String(), nil
}

func (con *console) events(args []string) (string, error) {
	if len(args) > 0 && args[0] == "clear" {
		core.ClearEventRing()
		return "events cleared", nil
	}
	events := core.Events()
	if len(events) == 0 {
		return "no events", nil
	}
	lines := make([]string, len(events))
	for i, evt := range events {
		lines[i] = core.FormatEvent(evt)
	}
	return strings.Join(lines, "\n"), nil
}
