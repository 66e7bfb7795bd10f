package speech

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// ProbeWAV checks that path holds a decodable WAV file and returns its
// duration. A missing, truncated, or non-WAV file returns an error;
// callers treat that as synthesis failure.
func ProbeWAV(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open audio artifact: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("audio artifact is not a valid wav file")
	}
	dur, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("read wav duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("audio artifact has zero duration")
	}
	return dur, nil
}
