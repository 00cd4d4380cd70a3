// Package processing turns uploaded media into text. The shipped
// implementations are stand-ins that wait a fixed delay and return canned
// text until real speech and handwriting recognition backends exist.
package processing

import (
	"context"
	"errors"
	"time"

	"studynotes/api/internal/store"
)

const (
	MockTranscript = "This is a sample transcript that would be generated from the audio recording."
	MockOCRText    = "This is sample text recognised from the scanned notes."
)

var ErrNoImages = errors.New("processing: no images to recognise")

type Transcriber interface {
	Transcribe(ctx context.Context, recording store.AudioRecording) (string, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, imageURLs []string) (string, error)
}

type MockTranscriber struct {
	Delay time.Duration
}

func (m MockTranscriber) Transcribe(ctx context.Context, _ store.AudioRecording) (string, error) {
	if err := wait(ctx, m.Delay); err != nil {
		return "", err
	}
	return MockTranscript, nil
}

type MockRecognizer struct {
	Delay time.Duration
}

func (m MockRecognizer) Recognize(ctx context.Context, imageURLs []string) (string, error) {
	if len(imageURLs) == 0 {
		return "", ErrNoImages
	}
	if err := wait(ctx, m.Delay); err != nil {
		return "", err
	}
	return MockOCRText, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
