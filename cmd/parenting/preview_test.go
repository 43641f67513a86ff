package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func upper(md string) (string, error) { return strings.ToUpper(md), nil }

func TestPreview_RedrawsEveryIncrement(t *testing.T) {
	var buf bytes.Buffer
	p := newPreview(&buf, upper)

	p.Add("toddlers ")
	if buf.String() != "TODDLERS " {
		t.Fatalf("first draw = %q", buf.String())
	}
	buf.Reset()
	p.Add("need sleep")
	if buf.String() != "\r\x1b[JTODDLERS NEED SLEEP" {
		t.Errorf("redraw = %q", buf.String())
	}
}

func TestPreview_ClearMovesUpOverAllLines(t *testing.T) {
	var buf bytes.Buffer
	p := newPreview(&buf, upper)
	p.Add("one\ntwo\nthree\n")

	buf.Reset()
	p.Clear()
	if buf.String() != "\x1b[2A\r\x1b[J" {
		t.Errorf("clear = %q", buf.String())
	}
	buf.Reset()
	p.Clear()
	if buf.Len() != 0 {
		t.Errorf("second clear wrote %q", buf.String())
	}
}

func TestPreview_FallsBackToRawText(t *testing.T) {
	var buf bytes.Buffer
	p := newPreview(&buf, func(string) (string, error) { return "", errors.New("bad markdown") })
	p.Add("partial [1")
	if buf.String() != "partial [1" {
		t.Errorf("got %q", buf.String())
	}
}
