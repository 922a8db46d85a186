// Package audio converts captured microphone audio into the WAV format some
// STT providers require, using an external ffmpeg binary.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
	. "github.com/roelfdiedericks/goscribe/internal/metrics"
)

const (
	targetSampleRate = 16000
	maxStderr        = 300

	// DefaultExt is assumed for capture buffers mimetype cannot identify.
	DefaultExt  = ".webm"
	DefaultMIME = "audio/webm"
)

// TranscodeError reports an ffmpeg failure: the binary could not be started,
// or it exited non-zero.
type TranscodeError struct {
	Path   string // ffmpeg executable
	Stderr string // truncated
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ffmpeg (%s) failed: %v: %s", e.Path, e.Err, e.Stderr)
	}
	return fmt.Sprintf("ffmpeg (%s) failed: %v", e.Path, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Transcoder converts audio buffers to 16 kHz mono 16-bit PCM WAV.
type Transcoder struct {
	FFmpegPath string // defaults to "ffmpeg"
	TempDir    string // defaults to os.TempDir()
}

// NewTranscoder returns a transcoder using the resolved ffmpeg path.
func NewTranscoder(explicitPath string) *Transcoder {
	return &Transcoder{FFmpegPath: ResolveFFmpegPath(explicitPath)}
}

// ToWAV writes input to a temp file, runs ffmpeg on it and returns the WAV bytes.
// Both temp files are removed on every return path.
func (t *Transcoder) ToWAV(ctx context.Context, input []byte) ([]byte, error) {
	ffmpeg := t.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	dir := t.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	ext, _ := Sniff(input)
	base := tempBase()
	inPath := filepath.Join(dir, base+ext)
	outPath := filepath.Join(dir, base+".wav")

	defer removeTemp(inPath)
	defer removeTemp(outPath)

	if err := writeExclusive(inPath, input); err != nil {
		return nil, err
	}

	// #nosec G204 - ffmpeg path comes from config or the bundled resources dir
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y",
		"-i", inPath,
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", targetSampleRate),
		"-ac", "1",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	timing := MetricStart("transcode", "ffmpeg")
	err := cmd.Run()
	MetricEnd(timing)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		MetricFail("transcode", "ffmpeg")
		L_debug("audio: ffmpeg output", "stderr", stderr.String())
		return nil, &TranscodeError{Path: ffmpeg, Stderr: truncate(stderr.String(), maxStderr), Err: err}
	}
	MetricSuccess("transcode", "ffmpeg")
	MetricAdd("transcode", "input_bytes", int64(len(input)))

	wav, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}
	L_debug("audio: transcoded to wav", "inBytes", len(input), "outBytes", len(wav), "ext", ext)
	return wav, nil
}

// Sniff identifies the capture container and returns its file extension and MIME type.
func Sniff(data []byte) (ext, mimeType string) {
	m := mimetype.Detect(data)
	ext = m.Extension()
	if ext == "" || m.Is("application/octet-stream") || m.Is("text/plain") {
		return DefaultExt, DefaultMIME
	}
	mimeType = m.String()
	// Browser MediaRecorder output without a video track still sniffs as video/webm.
	if strings.HasPrefix(mimeType, "video/webm") {
		mimeType = DefaultMIME
	}
	return ext, mimeType
}

// ResolveFFmpegPath picks the ffmpeg executable. An explicit path wins. Development builds
// (GOSCRIBE_ENV=development) and installs without a bundled binary use ffmpeg from PATH;
// packaged builds ship ffmpeg under <exeDir>/resources/ffmpeg/.
func ResolveFFmpegPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if os.Getenv("GOSCRIBE_ENV") == "development" {
		return "ffmpeg"
	}
	exe, err := os.Executable()
	if err != nil {
		return "ffmpeg"
	}
	name := "ffmpeg"
	if runtime.GOOS == "windows" {
		name = "ffmpeg.exe"
	}
	bundled := filepath.Join(filepath.Dir(exe), "resources", "ffmpeg", name)
	if _, err := os.Stat(bundled); err == nil {
		return bundled
	}
	return "ffmpeg"
}

// Available reports whether the ffmpeg executable can be found.
func (t *Transcoder) Available() bool {
	_, err := exec.LookPath(t.FFmpegPath)
	return err == nil
}

func tempBase() string {
	return fmt.Sprintf("goscribe-%d-%s", time.Now().UnixNano(), uuid.NewString())
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		L_warn("audio: failed to remove temp file", "path", path, "error", err)
	}
}

// truncate cuts s to n characters, never inside a multi-byte rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
