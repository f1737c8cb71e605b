package main

import (
	"bytes"
	"strings"
	"testing"
)

type countingWriter struct {
	writes int
	buf    bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.buf.Write(p)
}

func TestRefreshWritesOneFramePerCall(t *testing.T) {
	e := seedEditor([]string{"hello"}, 0, 0)
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if w.writes != 1 {
		t.Fatalf("expected exactly one write per frame, got %d", w.writes)
	}
	e.refreshScreen()
	if w.writes != 2 {
		t.Fatalf("expected one more write for the second frame, got %d", w.writes)
	}
}

func TestFrameBracketsCursorVisibility(t *testing.T) {
	e := seedEditor([]string{"hello"}, 0, 0)
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	frame := w.buf.String()
	if !strings.HasPrefix(frame, "\x1b[?25l\x1b[H") {
		t.Fatalf("expected frame to start by hiding the cursor and homing, got %q", frame[:12])
	}
	if !strings.HasSuffix(frame, "\x1b[?25h") {
		t.Fatalf("expected frame to end by showing the cursor, got %q", frame[len(frame)-8:])
	}
}

func TestWelcomeBannerCenteredOnEmptyBuffer(t *testing.T) {
	e := seedEditor(nil, 0, 0)
	e.screenRows = 6
	e.screenCols = 40
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	frame := w.buf.String()
	banner := "~      Ni editor -- version " + niVersion
	if !strings.Contains(frame, banner+"\x1b[K\r\n") {
		t.Fatalf("expected centered banner line %q in frame %q", banner, frame)
	}
	lines := strings.Split(frame, "\r\n")
	if !strings.Contains(lines[e.screenRows/3], "Ni editor") {
		t.Fatalf("expected the banner on row %d, got %q", e.screenRows/3, lines[e.screenRows/3])
	}
}

func TestWelcomeBannerAbsentWithContent(t *testing.T) {
	e := seedEditor([]string{"x"}, 0, 0)
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if strings.Contains(w.buf.String(), "Ni editor") {
		t.Fatalf("expected no banner once the buffer has rows")
	}
}

func TestFillerRowsAndEraseToEndOfLine(t *testing.T) {
	e := seedEditor([]string{"only"}, 0, 0)
	e.screenRows = 4
	e.screenCols = 20
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	frame := w.buf.String()
	if !strings.Contains(frame, "only\x1b[K\r\n") {
		t.Fatalf("expected row content followed by erase-to-eol, got %q", frame)
	}
	if got := strings.Count(frame, "~\x1b[K\r\n"); got != 3 {
		t.Fatalf("expected 3 filler rows, got %d in %q", got, frame)
	}
}

func TestStatusBarFormatAndRightAlignment(t *testing.T) {
	e := seedEditor([]string{"abc", "def", "ghi"}, 2, 1)
	e.filename = "test.txt"
	e.screenCols = 40
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	want := "\x1b[7m NORMAL | test.txt | 3 lines" + strings.Repeat(" ", 8) + "2:3 \x1b[m\r\n"
	if !strings.Contains(w.buf.String(), want) {
		t.Fatalf("expected status bar %q in frame %q", want, w.buf.String())
	}
}

func TestStatusBarPlaceholderWithoutFile(t *testing.T) {
	e := seedEditor(nil, 0, 0)
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if !strings.Contains(w.buf.String(), "| [No name] |") {
		t.Fatalf("expected [No name] placeholder, got %q", w.buf.String())
	}
}

func TestStatusBarTracksMode(t *testing.T) {
	e := seedEditor(nil, 0, 0)
	e.handleKey('i')
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if !strings.Contains(w.buf.String(), " INSERT |") {
		t.Fatalf("expected INSERT in the status bar, got %q", w.buf.String())
	}
}

func TestStatusBarDropsRulerWhenItCannotFitExactly(t *testing.T) {
	e := seedEditor([]string{"abc", "def", "ghi"}, 2, 1)
	e.filename = "test.txt"
	e.screenCols = 30
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	frame := w.buf.String()
	if strings.Contains(frame, "2:3 ") {
		t.Fatalf("expected the ruler dropped on a narrow screen, got %q", frame)
	}
	if !strings.Contains(frame, " NORMAL | test.txt | 3 lines  \x1b[m") {
		t.Fatalf("expected space padding to the edge, got %q", frame)
	}
}

func TestStatusBarTruncatesToScreenWidth(t *testing.T) {
	e := seedEditor([]string{"abc"}, 0, 0)
	e.filename = "test.txt"
	e.screenCols = 20
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if !strings.Contains(w.buf.String(), "\x1b[7m NORMAL | test.txt |\x1b[m\r\n") {
		t.Fatalf("expected the left status cut at 20 columns, got %q", w.buf.String())
	}
}

func TestMessageBarShowsPendingCountRightAligned(t *testing.T) {
	e := seedEditor(nil, 0, 0)
	e.screenCols = 10
	e.cmdrep = 12
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if !strings.Contains(w.buf.String(), "\x1b[K       12 \x1b[") {
		t.Fatalf("expected the pending count right-aligned, got %q", w.buf.String())
	}
}

func TestMessageBarOmitsZeroCount(t *testing.T) {
	e := seedEditor(nil, 0, 0)
	e.setStatus("hi")
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	frame := w.buf.String()
	if !strings.Contains(frame, "\x1b[Khi\x1b[") {
		t.Fatalf("expected bare status message, got %q", frame)
	}
}

func TestMessageBarTruncatesToScreenWidth(t *testing.T) {
	e := seedEditor(nil, 0, 0)
	e.screenCols = 10
	e.setStatus(strings.Repeat("m", 50))
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if !strings.Contains(w.buf.String(), "\x1b[K"+strings.Repeat("m", 10)+"\x1b[") {
		t.Fatalf("expected message cut at 10 columns, got %q", w.buf.String())
	}
}

func TestCursorPositionUsesRenderColumn(t *testing.T) {
	e := seedEditor([]string{"a\tb"}, 2, 0)
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if !strings.HasSuffix(w.buf.String(), "\x1b[1;5H\x1b[?25h") {
		t.Fatalf("expected cursor at rendered column 5, got tail %q", w.buf.String())
	}
}

func TestCursorPositionReflectsScrollOffsets(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "line"
	}
	e := seedEditor(lines, 0, 25)
	e.screenRows = 10
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	if !strings.HasSuffix(w.buf.String(), "\x1b[10;1H\x1b[?25h") {
		t.Fatalf("expected cursor on the last visible row, got tail %q", w.buf.String())
	}
}

func TestVisibleColumnWindowFollowsCursor(t *testing.T) {
	e := seedEditor([]string{"abcdefghij", "ab"}, 9, 0)
	e.screenRows = 4
	e.screenCols = 5
	w := &countingWriter{}
	e.out = w
	e.refreshScreen()
	frame := w.buf.String()
	if !strings.Contains(frame, "fghij\x1b[K\r\n") {
		t.Fatalf("expected the rightmost window of the long row, got %q", frame)
	}
	lines := strings.Split(frame, "\r\n")
	if lines[1] != "\x1b[K" {
		t.Fatalf("expected the short row scrolled out of view, got %q", lines[1])
	}
}
