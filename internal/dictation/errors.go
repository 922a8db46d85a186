package dictation

import (
	"context"
	"errors"

	"github.com/roelfdiedericks/goscribe/internal/audio"
	"github.com/roelfdiedericks/goscribe/internal/history"
	"github.com/roelfdiedericks/goscribe/internal/postprocess"
	"github.com/roelfdiedericks/goscribe/internal/stt"
)

// ErrBusy is returned when a recording is already being processed.
var ErrBusy = errors.New("a recording is already being transcribed")

// Error kinds reported to the UI and the local API.
const (
	KindConfiguration = "configuration"
	KindProvider      = "provider"
	KindTimeout       = "timeout"
	KindTranscode     = "transcode"
	KindFilesystem    = "filesystem"
	KindBusy          = "busy"
	KindInternal      = "internal"
)

// Kind classifies err into the error taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var (
		cfgErr  *stt.ConfigError
		provErr *stt.ProviderError
		jobErr  *stt.JobError
		toErr   *stt.TimeoutError
		tcErr   *audio.TranscodeError
		fsErr   *history.FilesystemError
		ppErr   *postprocess.Error
	)
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrInvalidTransition):
		return KindBusy
	case errors.As(err, &cfgErr), errors.Is(err, stt.ErrUnknownProvider), errors.Is(err, postprocess.ErrMissingKey):
		return KindConfiguration
	case errors.As(err, &toErr), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &provErr), errors.As(err, &jobErr), errors.As(err, &ppErr):
		return KindProvider
	case errors.As(err, &tcErr):
		return KindTranscode
	case errors.As(err, &fsErr):
		return KindFilesystem
	}
	return KindInternal
}
