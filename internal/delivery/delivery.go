// Package delivery hands finished transcripts to the user: clipboard always, paste
// into the focused application when the platform allows it.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/roelfdiedericks/goscribe/internal/config"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	WriteAll(text string) error
}

// Paster types or pastes text into the focused application.
type Paster interface {
	Paste(ctx context.Context, text string) error
}

// SystemClipboard uses the OS clipboard (pbcopy, xclip/xsel/wl-copy, or the Win32 API).
type SystemClipboard struct{}

// WriteAll implements Clipboard.
func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errors.New("clipboard: no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

// NopPaster never pastes.
type NopPaster struct{}

// Paste implements Paster.
func (NopPaster) Paste(context.Context, string) error { return nil }

// CommandPaster runs an external tool with the text on stdin,
// e.g. ["wtype", "-"] or ["xdotool", "type", "--file", "-"].
type CommandPaster struct {
	Argv []string
}

// Paste implements Paster.
func (p CommandPaster) Paste(ctx context.Context, text string) error {
	if len(p.Argv) == 0 {
		return errors.New("paste: no command configured")
	}
	// #nosec G204 - argv comes from the user's own config file
	cmd := exec.CommandContext(ctx, p.Argv[0], p.Argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("paste: %s: %w: %s", p.Argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Available reports whether the paste command can be found; it is the paste permission
// for command-based pasting.
func (p CommandPaster) Available() bool {
	if len(p.Argv) == 0 {
		return false
	}
	_, err := exec.LookPath(p.Argv[0])
	return err == nil
}

// Deliverer writes the clipboard and pastes when Permission allows.
type Deliverer struct {
	Clipboard  Clipboard
	Paster     Paster
	Permission func() bool // nil means no permission
}

// NewFromConfig uses the system clipboard and, when pasteCommand is set, that command.
func NewFromConfig(cfg *config.Config) *Deliverer {
	d := &Deliverer{Clipboard: SystemClipboard{}, Paster: NopPaster{}}
	if len(cfg.PasteCommand) > 0 {
		cp := CommandPaster{Argv: cfg.PasteCommand}
		d.Paster = cp
		d.Permission = cp.Available
	}
	return d
}

// Deliver copies text to the clipboard and pastes it if permitted. Missing permission
// is not an error; pasted reports whether the paste step ran successfully.
func (d *Deliverer) Deliver(ctx context.Context, text string) (pasted bool, err error) {
	if d.Clipboard != nil {
		if err := d.Clipboard.WriteAll(text); err != nil {
			return false, fmt.Errorf("clipboard: %w", err)
		}
	}

	if d.Paster == nil || d.Permission == nil || !d.Permission() {
		L_debug("delivery: paste not permitted, clipboard only")
		return false, nil
	}
	if err := d.Paster.Paste(ctx, text); err != nil {
		return false, err
	}
	L_debug("delivery: pasted", "length", len(text))
	return true, nil
}
