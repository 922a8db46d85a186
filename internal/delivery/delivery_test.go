package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/roelfdiedericks/goscribe/internal/config"
)

type fakeClipboard struct {
	text string
	err  error
}

func (c *fakeClipboard) WriteAll(text string) error {
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}

type fakePaster struct{ got []string }

func (p *fakePaster) Paste(_ context.Context, text string) error {
	p.got = append(p.got, text)
	return nil
}

func TestDeliverWithoutPermissionIsClipboardOnly(t *testing.T) {
	cb := &fakeClipboard{}
	p := &fakePaster{}
	d := &Deliverer{Clipboard: cb, Paster: p, Permission: func() bool { return false }}

	pasted, err := d.Deliver(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if pasted || len(p.got) != 0 {
		t.Errorf("pasted without permission")
	}
	if cb.text != "hello" {
		t.Errorf("clipboard = %q", cb.text)
	}
}

func TestDeliverWithPermissionPastes(t *testing.T) {
	cb := &fakeClipboard{}
	p := &fakePaster{}
	d := &Deliverer{Clipboard: cb, Paster: p, Permission: func() bool { return true }}

	pasted, err := d.Deliver(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !pasted || len(p.got) != 1 || p.got[0] != "hello" || cb.text != "hello" {
		t.Errorf("pasted=%v paster=%v clipboard=%q", pasted, p.got, cb.text)
	}
}

func TestDeliverClipboardFailure(t *testing.T) {
	d := &Deliverer{Clipboard: &fakeClipboard{err: errors.New("no display")}}
	if _, err := d.Deliver(context.Background(), "x"); err == nil {
		t.Fatal("expected clipboard error")
	}
}

func TestCommandPasterStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "typed.txt")
	script := filepath.Join(dir, "typer")
	os.WriteFile(script, []byte("#!/bin/sh\ncat > \""+out+"\"\n"), 0755)

	p := CommandPaster{Argv: []string{script}}
	if !p.Available() {
		t.Fatal("script should be available")
	}
	if err := p.Paste(context.Background(), "dictated text"); err != nil {
		t.Fatalf("Paste: %v", err)
	}
	got, _ := os.ReadFile(out)
	if string(got) != "dictated text" {
		t.Errorf("typed = %q", got)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Defaults()
	d := NewFromConfig(cfg)
	if _, ok := d.Paster.(NopPaster); !ok || d.Permission != nil {
		t.Errorf("default deliverer should not paste: %+v", d)
	}

	cfg.PasteCommand = []string{"definitely-not-installed-typer"}
	d = NewFromConfig(cfg)
	if d.Permission == nil || d.Permission() {
		t.Errorf("missing paste command must not be permitted")
	}
}
