package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const niVersion = "0.0.1"

const tabStop = 4

const (
	keyBackspace = 1000 + iota
	keyLeft
	keyRight
	keyUp
	keyDown
	keyDel
	keyHome
	keyEnd
	keyPageUp
	keyPageDown
	keyResize
)

const (
	modeNormal = iota
	modeInsert
	modeCommand
)

type row struct {
	chars  []byte
	render []byte
}

type editor struct {
	cx, cy         int
	rx             int
	rowoff, coloff int
	screenRows     int
	screenCols     int
	rows           []row
	filename       string
	statusmsg      string
	statusTime     time.Time
	mode           int
	cmdbuf         []byte
	cmdrep         int

	in        *os.File
	out       io.Writer
	screenBuf bytes.Buffer
	numBuf    [32]byte
}

// Original terminal attributes, restored on every exit path.
var termState struct {
	orig unix.Termios
	raw  bool
}

var resizePending int32

func newEditor() *editor {
	return &editor{mode: modeNormal, in: os.Stdin, out: os.Stdout}
}

func die(err error) {
	disableRawMode(int(os.Stdin.Fd()))
	_, _ = os.Stdout.WriteString("\x1b[2J\x1b[H")
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func (e *editor) setStatus(format string, args ...any) {
	e.statusmsg = fmt.Sprintf(format, args...)
	e.statusTime = time.Now()
}

func (e *editor) modeName() string {
	switch e.mode {
	case modeNormal:
		return "NORMAL"
	case modeInsert:
		return "INSERT"
	case modeCommand:
		return "COMMAND"
	}
	return "UNKNOWN"
}

func ctrlKey(c int) int { return c & 0x1f }

func isPrintKey(c int) bool { return c >= 0x20 && c < 0x7f }

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\v' || c == '\f' || c == '\r'
}

func isPunctByte(c byte) bool {
	return (c >= '!' && c <= '/') || (c >= ':' && c <= '@') ||
		(c >= '[' && c <= '`') || (c >= '{' && c <= '~')
}

func enableRawMode(fd int) error {
	t, err := ioctlGetTermios(fd, syscall.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr: %w", err)
	}
	termState.orig = *t
	raw := *t
	raw.Iflag &^= syscall.BRKINT | syscall.ICRNL | syscall.INPCK | syscall.ISTRIP | syscall.IXON
	raw.Oflag &^= syscall.OPOST
	raw.Cflag |= syscall.CS8
	raw.Lflag &^= syscall.ECHO | syscall.ICANON | syscall.IEXTEN | syscall.ISIG
	// Reads return after at most 100ms whether or not a byte arrived.
	raw.Cc[syscall.VMIN] = 0
	raw.Cc[syscall.VTIME] = 1
	if err := ioctlSetTermios(fd, syscall.TCSETS, &raw); err != nil {
		return fmt.Errorf("tcsetattr: %w", err)
	}
	termState.raw = true
	return nil
}

func disableRawMode(fd int) {
	if !termState.raw {
		return
	}
	_ = ioctlSetTermios(fd, syscall.TCSETS, &termState.orig)
	termState.raw = false
}

func getWindowSize(in *os.File, out io.Writer) (int, int, error) {
	ws, err := ioctlGetWinsize(int(in.Fd()), syscall.TIOCGWINSZ)
	if err == nil && ws.Col > 0 {
		return int(ws.Row), int(ws.Col), nil
	}
	// Fall back to cursor tracking: park the cursor at the bottom-right
	// corner and ask the terminal where it ended up.
	if _, werr := io.WriteString(out, "\x1b[999C\x1b[999B"); werr != nil {
		return 0, 0, fmt.Errorf("window size probe: %w", werr)
	}
	return getCursorPosition(in, out)
}

func getCursorPosition(in *os.File, out io.Writer) (int, int, error) {
	if _, err := io.WriteString(out, "\x1b[6n"); err != nil {
		return 0, 0, fmt.Errorf("cursor report query: %w", err)
	}
	var buf [32]byte
	i := 0
	for i < len(buf)-1 {
		b, ok, err := readByteTimeout(int(in.Fd()))
		if err != nil || !ok {
			break
		}
		buf[i] = b
		if b == 'R' {
			break
		}
		i++
	}
	if i < 2 || buf[0] != 0x1b || buf[1] != '[' {
		return 0, 0, errors.New("cursor report not understood")
	}
	var rows, cols int
	if n, _ := fmt.Sscanf(string(buf[2:i]), "%d;%d", &rows, &cols); n != 2 {
		return 0, 0, errors.New("cursor report not understood")
	}
	return rows, cols, nil
}

func (e *editor) updateWindowSize() error {
	rows, cols, err := getWindowSize(e.in, e.out)
	if err != nil {
		return fmt.Errorf("window size: %w", err)
	}
	// Bottom two lines are reserved for the status and message bars.
	e.screenRows = max(rows-2, 1)
	e.screenCols = cols
	return nil
}

func readByte(fd int) (byte, error) {
	var b [1]byte
	for {
		if atomic.SwapInt32(&resizePending, 0) != 0 {
			return 0, syscall.EINTR
		}
		n, err := syscall.Read(fd, b[:])
		if err != nil {
			if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
				continue
			}
			return 0, err
		}
		if n == 0 {
			// Raw mode timeout; try again.
			continue
		}
		return b[0], nil
	}
}

// readByteTimeout waits one raw mode timeout window for the next byte.
func readByteTimeout(fd int) (byte, bool, error) {
	var b [1]byte
	n, err := syscall.Read(fd, b[:])
	if err != nil {
		if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return b[0], true, nil
}

func inputReady(fd int) bool {
	var rfds syscall.FdSet
	rfds.Bits[fd/64] |= 1 << (uint(fd) % 64)
	tv := syscall.Timeval{Sec: 0, Usec: 0}
	n, err := syscall.Select(fd+1, &rfds, nil, nil, &tv)
	return err == nil && n > 0
}

// readKey decodes the next keypress, folding escape sequences into the
// key constants above. Unrecognized or incomplete sequences degrade to a
// plain escape.
func readKey(fd int) int {
	first, err := readByte(fd)
	if err != nil {
		if errors.Is(err, syscall.EINTR) {
			return keyResize
		}
		die(fmt.Errorf("read: %w", err))
	}
	if first != 0x1b {
		return int(first)
	}

	// Resolve a lone ESC immediately instead of waiting out the lookahead.
	if !inputReady(fd) {
		return 0x1b
	}

	seq0, ok, err := readByteTimeout(fd)
	if err != nil {
		die(fmt.Errorf("read: %w", err))
	}
	if !ok {
		return 0x1b
	}
	seq1, ok, err := readByteTimeout(fd)
	if err != nil {
		die(fmt.Errorf("read: %w", err))
	}
	if !ok {
		return 0x1b
	}
	if seq0 != '[' {
		return 0x1b
	}

	if seq1 >= '0' && seq1 <= '9' {
		seq2, ok, err := readByteTimeout(fd)
		if err != nil {
			die(fmt.Errorf("read: %w", err))
		}
		if !ok {
			return 0x1b
		}
		if seq2 == '~' {
			switch seq1 {
			case '1', '7':
				return keyHome
			case '3':
				return keyDel
			case '4', '8':
				return keyEnd
			case '5':
				return keyPageUp
			case '6':
				return keyPageDown
			}
		}
		return 0x1b
	}

	switch seq1 {
	case 'A':
		return keyUp
	case 'B':
		return keyDown
	case 'C':
		return keyRight
	case 'D':
		return keyLeft
	case 'H':
		return keyHome
	case 'F':
		return keyEnd
	}
	return 0x1b
}

// update regenerates the rendered form, expanding each tab to the next
// multiple of tabStop.
func (r *row) update() {
	tabs := bytes.Count(r.chars, []byte{'\t'})
	render := make([]byte, 0, len(r.chars)+tabs*(tabStop-1))
	for _, c := range r.chars {
		if c == '\t' {
			render = append(render, ' ')
			for len(render)%tabStop != 0 {
				render = append(render, ' ')
			}
		} else {
			render = append(render, c)
		}
	}
	r.render = render
}

// cxToRx maps a content column to its rendered column.
func (r *row) cxToRx(cx int) int {
	rx := 0
	for j := 0; j < cx && j < len(r.chars); j++ {
		if r.chars[j] == '\t' {
			rx += (tabStop - 1) - (rx % tabStop)
		}
		rx++
	}
	return rx
}

func (e *editor) appendRow(s []byte) {
	r := row{chars: append([]byte(nil), s...)}
	r.update()
	e.rows = append(e.rows, r)
}

func (e *editor) openFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for {
		line, rerr := r.ReadBytes('\n')
		if len(line) > 0 {
			for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
				line = line[:len(line)-1]
			}
			e.appendRow(line)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", name, rerr)
		}
	}
	e.filename = name
	log.Printf("opened %q: %d rows", name, len(e.rows))
	return nil
}

func (e *editor) scroll() {
	e.rx = 0
	if e.cy < len(e.rows) {
		e.rx = e.rows[e.cy].cxToRx(e.cx)
	}
	if e.cy < e.rowoff {
		e.rowoff = e.cy
	}
	if e.cy >= e.rowoff+e.screenRows {
		e.rowoff = e.cy - e.screenRows + 1
	}
	if e.rx < e.coloff {
		e.coloff = e.rx
	}
	if e.rx >= e.coloff+e.screenCols {
		e.coloff = e.rx - e.screenCols + 1
	}
}

func (e *editor) drawRows(b *bytes.Buffer) {
	for y := 0; y < e.screenRows; y++ {
		filerow := y + e.rowoff
		if filerow >= len(e.rows) {
			if len(e.rows) == 0 && y == e.screenRows/3 {
				welcome := fmt.Sprintf("Ni editor -- version %s", niVersion)
				if len(welcome) > e.screenCols {
					welcome = welcome[:e.screenCols]
				}
				padding := (e.screenCols - len(welcome)) / 2
				if padding > 0 {
					b.WriteByte('~')
					padding--
				}
				for ; padding > 0; padding-- {
					b.WriteByte(' ')
				}
				b.WriteString(welcome)
			} else {
				b.WriteByte('~')
			}
		} else {
			render := e.rows[filerow].render
			start := min(e.coloff, len(render))
			length := min(len(render)-start, e.screenCols)
			b.Write(render[start : start+length])
		}
		b.WriteString("\x1b[K\r\n")
	}
}

func (e *editor) drawStatusBar(b *bytes.Buffer) {
	b.WriteString("\x1b[7m")
	name := e.filename
	if name == "" {
		name = "[No name]"
	}
	status := fmt.Sprintf(" %.20s | %.20s | %d lines", e.modeName(), name, len(e.rows))
	rstatus := fmt.Sprintf("%d:%d ", e.cy+1, e.cx+1)
	if len(status) > e.screenCols {
		status = status[:e.screenCols]
	}
	b.WriteString(status)
	for i := len(status); i < e.screenCols; {
		if e.screenCols-i == len(rstatus) {
			b.WriteString(rstatus)
			break
		}
		b.WriteByte(' ')
		i++
	}
	b.WriteString("\x1b[m\r\n")
}

func (e *editor) drawMessageBar(b *bytes.Buffer) {
	b.WriteString("\x1b[K")
	msg := e.statusmsg
	if len(msg) > e.screenCols {
		msg = msg[:e.screenCols]
	}
	b.WriteString(msg)
	if e.cmdrep != 0 {
		rmsg := strconv.Itoa(e.cmdrep) + " "
		for i := len(msg); i < e.screenCols; {
			if e.screenCols-i == len(rmsg) {
				b.WriteString(rmsg)
				break
			}
			b.WriteByte(' ')
			i++
		}
	}
}

func (e *editor) writeCursorPos(row, col int) {
	e.screenBuf.WriteString("\x1b[")
	n := strconv.AppendInt(e.numBuf[:0], int64(row), 10)
	e.screenBuf.Write(n)
	e.screenBuf.WriteByte(';')
	n = strconv.AppendInt(e.numBuf[:0], int64(col), 10)
	e.screenBuf.Write(n)
	e.screenBuf.WriteByte('H')
}

// refreshScreen composes the whole frame and hands it to the terminal in
// a single write.
func (e *editor) refreshScreen() {
	e.scroll()
	e.screenBuf.Reset()
	e.screenBuf.WriteString("\x1b[?25l\x1b[H")
	e.drawRows(&e.screenBuf)
	e.drawStatusBar(&e.screenBuf)
	e.drawMessageBar(&e.screenBuf)
	e.writeCursorPos(e.cy-e.rowoff+1, e.rx-e.coloff+1)
	e.screenBuf.WriteString("\x1b[?25h")
	if _, err := e.out.Write(e.screenBuf.Bytes()); err != nil {
		die(fmt.Errorf("write: %w", err))
	}
}

func (e *editor) moveCursor(key int) {
	var r *row
	if e.cy < len(e.rows) {
		r = &e.rows[e.cy]
	}

	switch key {
	case 'k', keyUp:
		if e.cy != 0 {
			e.cy--
		}
	case 'j', keyDown:
		if e.cy < len(e.rows) {
			e.cy++
		}
	case 'h', keyLeft:
		if e.cx != 0 {
			e.cx--
		} else if e.cy > 0 {
			e.cy--
			e.cx = len(e.rows[e.cy].chars)
		}
	case 'l', keyRight:
		if r != nil && e.cx < len(r.chars) {
			e.cx++
		} else if r != nil && e.cx == len(r.chars) {
			e.cy++
			e.cx = 0
		}
	case 'w', 'W', 'e', 'E':
		if r != nil {
			small := key == 'w' || key == 'e'
			for e.cx < len(r.chars) {
				c := r.chars[e.cx]
				e.cx++
				if isSpaceByte(c) {
					break
				}
				// TODO: w and e stop one column past a punctuation
				// boundary instead of on it.
				if small && e.cx < len(r.chars) && isPunctByte(r.chars[e.cx]) {
					break
				}
			}
			if key == 'w' || key == 'W' {
				for e.cx < len(r.chars) && r.chars[e.cx] == ' ' {
					e.cx++
				}
			}
			if e.cx >= len(r.chars) {
				e.cy++
				e.cx = 0
			}
		}
	}

	// Snap the cursor to the end of the target row.
	rowlen := 0
	if e.cy < len(e.rows) {
		rowlen = len(e.rows[e.cy].chars)
	}
	if e.cx > rowlen {
		e.cx = rowlen
	}
}

func (e *editor) executeCommand() bool {
	quit := false
	for _, c := range e.cmdbuf {
		switch c {
		case 'q':
			quit = true
		}
	}
	// Only quit is recognized; nothing writes the buffer back to disk yet.
	log.Printf("execute %q quit=%v", e.cmdbuf, quit)
	return quit
}

func (e *editor) normalKey(c int) bool {
	// Digits accumulate a repetition count; 0 counts only once a
	// repetition has started, since it doubles as start-of-line.
	if c <= '9' && (c >= '1' || (e.cmdrep != 0 && c >= '0')) {
		e.cmdrep = e.cmdrep*10 + (c - '0')
		return false
	}

	switch c {
	case 'i':
		e.mode = modeInsert
	case ':':
		e.mode = modeCommand
		e.setStatus(":")
	case ctrlKey('q'):
		return true
	case '0', keyHome:
		e.cx = 0
	case '$', keyEnd:
		if e.cy < len(e.rows) {
			e.cx = len(e.rows[e.cy].chars)
		}
	case ctrlKey('u'), ctrlKey('d'), keyPageUp, keyPageDown:
		if c == keyPageUp || c == ctrlKey('u') {
			e.cy = e.rowoff
		} else {
			e.cy = e.rowoff + e.screenRows - 1
			if e.cy > len(e.rows) {
				e.cy = len(e.rows)
			}
		}
		dir := keyUp
		if c == keyPageDown || c == ctrlKey('d') {
			dir = keyDown
		}
		for times := e.screenRows; times > 0; times-- {
			e.moveCursor(dir)
		}
	case 'k', 'j', 'h', 'l', keyUp, keyDown, keyLeft, keyRight,
		'w', 'W', 'b', 'B', 'e', 'E':
		e.moveCursor(c)
	}

	e.cmdrep = 0
	return false
}

func (e *editor) insertKey(c int) {
	switch c {
	case 0x1b:
		e.mode = modeNormal
	case keyUp, keyDown, keyLeft, keyRight:
		e.moveCursor(c)
	}
}

func (e *editor) commandKey(c int) bool {
	switch c {
	case '\r':
		quit := e.executeCommand()
		e.cmdbuf = nil
		e.setStatus("")
		e.mode = modeNormal
		return quit
	case 0x1b:
		e.cmdbuf = nil
		e.setStatus("")
		e.mode = modeNormal
	case keyBackspace, 127, 8:
		if len(e.cmdbuf) > 0 {
			e.cmdbuf = e.cmdbuf[:len(e.cmdbuf)-1]
		}
	default:
		if isPrintKey(c) {
			e.cmdbuf = append(e.cmdbuf, byte(c))
			e.setStatus(":%s", e.cmdbuf)
		}
	}
	return false
}

// handleKey routes one decoded key to the active mode. The returned flag
// reports that the editor should exit.
func (e *editor) handleKey(c int) bool {
	switch e.mode {
	case modeNormal:
		return e.normalKey(c)
	case modeInsert:
		e.insertKey(c)
	case modeCommand:
		return e.commandKey(c)
	default:
		die(fmt.Errorf("mode not recognised: %d", e.mode))
	}
	return false
}

func (e *editor) processKeypress() bool {
	c := readKey(int(e.in.Fd()))
	if c == keyResize {
		if err := e.updateWindowSize(); err != nil {
			die(err)
		}
		log.Printf("resize: %dx%d", e.screenRows, e.screenCols)
		return false
	}
	return e.handleKey(c)
}

func initLogging() {
	log.SetOutput(io.Discard)
	if path := os.Getenv("NI_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(f)
		}
	}
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			disableRawMode(int(os.Stdin.Fd()))
			fmt.Fprintf(os.Stderr, "ni panic: %v\n", r)
			_, _ = os.Stderr.Write(debug.Stack())
			os.Exit(2)
		}
	}()

	initLogging()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(os.Stderr, "ni: stdin is not a terminal")
		os.Exit(1)
	}

	if err := enableRawMode(fd); err != nil {
		die(err)
	}
	defer disableRawMode(fd)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	go func() {
		for range sig {
			atomic.StoreInt32(&resizePending, 1)
		}
	}()

	e := newEditor()
	if err := e.updateWindowSize(); err != nil {
		die(err)
	}
	if len(os.Args) >= 2 {
		if err := e.openFile(os.Args[1]); err != nil {
			die(err)
		}
	}
	e.setStatus("Welcome")
	log.Printf("ni %s: %d rows, screen %dx%d", niVersion, len(e.rows), e.screenRows, e.screenCols)

	for {
		e.refreshScreen()
		if e.processKeypress() {
			break
		}
	}
	_, _ = io.WriteString(e.out, "\x1b[2J\x1b[H")
	log.Print("quit")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type winsize = unix.Winsize

func ioctlGetWinsize(fd int, req uintptr) (*winsize, error) {
	return unix.IoctlGetWinsize(fd, uint(req))
}

func ioctlGetTermios(fd int, req uintptr) (*unix.Termios, error) {
	return unix.IoctlGetTermios(fd, uint(req))
}

func ioctlSetTermios(fd int, req uintptr, t *unix.Termios) error {
	return unix.IoctlSetTermios(fd, uint(req), t)
}
