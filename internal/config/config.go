// Package config loads daemon configuration from a JSON file. The file
// schema uses pointer fields so partial configs are safe: omitted fields
// keep their defaults. Resolve produces the explicit value struct the rest
// of the daemon is wired with.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File is the on-disk configuration schema. Every field is optional.
type File struct {
	Listen     *string         `json:"listen,omitempty"`
	Capture    *CaptureFile    `json:"capture,omitempty"`
	Audio      *AudioFile      `json:"audio,omitempty"`
	Sync       *SyncFile       `json:"sync,omitempty"`
	Features   *FeaturesFile   `json:"features,omitempty"`
	Classifier *ClassifierFile `json:"classifier,omitempty"`
	Loop       *LoopFile       `json:"loop,omitempty"`
	DB         *DBFile         `json:"db,omitempty"`
	Notify     *NotifyFile     `json:"notify,omitempty"`
}

// CaptureFile configures the remote frame source connection.
type CaptureFile struct {
	Host           *string `json:"host,omitempty"`
	Port           *int    `json:"port,omitempty"`
	Password       *string `json:"password,omitempty"`
	Source         *string `json:"source,omitempty"`
	Width          *int    `json:"width,omitempty"`
	Height         *int    `json:"height,omitempty"`
	RequestTimeout *string `json:"request_timeout,omitempty"` // duration string like "10s"
	ReconnectMin   *string `json:"reconnect_min,omitempty"`
	ReconnectMax   *string `json:"reconnect_max,omitempty"`
	DownAfter      *int    `json:"down_after,omitempty"`
	TestFrames     *bool   `json:"test_frames,omitempty"`
}

// AudioFile configures local audio capture.
type AudioFile struct {
	SampleRate     *int    `json:"sample_rate,omitempty"`
	Channels       *int    `json:"channels,omitempty"`
	ChunkFrames    *int    `json:"chunk_frames,omitempty"`
	BufferWindow   *string `json:"buffer_window,omitempty"`
	DeviceIndex    *int    `json:"device_index,omitempty"` // -1 selects automatically
	LivenessEvery  *string `json:"liveness_every,omitempty"`
	SilenceTimeout *string `json:"silence_timeout,omitempty"`
}

// SyncFile configures the audio/video synchronization buffer.
type SyncFile struct {
	MaxSkew       *string `json:"max_skew,omitempty"`
	AudioWindow   *string `json:"audio_window,omitempty"`
	FrameCapacity *int    `json:"frame_capacity,omitempty"`
}

// FeaturesFile configures feature extraction thresholds.
type FeaturesFile struct {
	SpeechLevel     *float64 `json:"speech_level,omitempty"`
	VoiceBandLowHz  *float64 `json:"voice_band_low_hz,omitempty"`
	VoiceBandHighHz *float64 `json:"voice_band_high_hz,omitempty"`
}

// ClassifierFile configures activity classification.
type ClassifierFile struct {
	ModelPath  *string         `json:"model_path,omitempty"`
	Thresholds *ThresholdsFile `json:"thresholds,omitempty"`
}

// ThresholdsFile is the rule-based classifier's policy table. The values
// are empirically chosen; they are exposed here as tunables, not verified
// optima.
type ThresholdsFile struct {
	SleepMotion     *float64 `json:"sleep_motion,omitempty"`
	SleepLevel      *float64 `json:"sleep_level,omitempty"`
	TableMotionLow  *float64 `json:"table_motion_low,omitempty"`
	TableMotionHigh *float64 `json:"table_motion_high,omitempty"`
	TableBrightness *float64 `json:"table_brightness,omitempty"`
	ReadMotionLow   *float64 `json:"read_motion_low,omitempty"`
	ReadMotionHigh  *float64 `json:"read_motion_high,omitempty"`
	ReadLevel       *float64 `json:"read_level,omitempty"`
	PhoneLevel      *float64 `json:"phone_level,omitempty"`
	PhoneMotion     *float64 `json:"phone_motion,omitempty"`
	TalkLevel       *float64 `json:"talk_level,omitempty"`
	TalkMotion      *float64 `json:"talk_motion,omitempty"`
	BusyMotion      *float64 `json:"busy_motion,omitempty"`
}

// LoopFile configures the periodic analysis loop.
type LoopFile struct {
	Interval *string `json:"interval,omitempty"`
}

// DBFile configures the activity database.
type DBFile struct {
	Path          *string `json:"path,omitempty"`
	RetentionDays *int    `json:"retention_days,omitempty"`
}

// NotifyFile configures the external notification sink. An empty URL
// disables delivery entirely.
type NotifyFile struct {
	URL         *string `json:"url,omitempty"`
	Token       *string `json:"token,omitempty"`
	QueueSize   *int    `json:"queue_size,omitempty"`
	MaxAttempts *int    `json:"max_attempts,omitempty"`
	RetryMin    *string `json:"retry_min,omitempty"`
	RetryMax    *string `json:"retry_max,omitempty"`
	Timeout     *string `json:"timeout,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads and validates a configuration file. The file must have a
// .json extension and stay under the max file size.
func Load(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return f, nil
}

// Validate checks that set fields hold usable values. Unset fields are
// always valid since they resolve to defaults.
func (f *File) Validate() error {
	if f.Capture != nil {
		if f.Capture.Port != nil && (*f.Capture.Port < 1 || *f.Capture.Port > 65535) {
			return fmt.Errorf("capture.port must be in 1..65535, got %d", *f.Capture.Port)
		}
		if f.Capture.Width != nil && *f.Capture.Width < 1 {
			return fmt.Errorf("capture.width must be positive, got %d", *f.Capture.Width)
		}
		if f.Capture.Height != nil && *f.Capture.Height < 1 {
			return fmt.Errorf("capture.height must be positive, got %d", *f.Capture.Height)
		}
		if f.Capture.DownAfter != nil && *f.Capture.DownAfter < 1 {
			return fmt.Errorf("capture.down_after must be at least 1, got %d", *f.Capture.DownAfter)
		}
		for name, s := range map[string]*string{
			"capture.request_timeout": f.Capture.RequestTimeout,
			"capture.reconnect_min":   f.Capture.ReconnectMin,
			"capture.reconnect_max":   f.Capture.ReconnectMax,
		} {
			if err := validDuration(name, s); err != nil {
				return err
			}
		}
	}
	if f.Audio != nil {
		if f.Audio.SampleRate != nil && *f.Audio.SampleRate < 1 {
			return fmt.Errorf("audio.sample_rate must be positive, got %d", *f.Audio.SampleRate)
		}
		if f.Audio.Channels != nil && (*f.Audio.Channels < 1 || *f.Audio.Channels > 2) {
			return fmt.Errorf("audio.channels must be 1 or 2, got %d", *f.Audio.Channels)
		}
		if f.Audio.ChunkFrames != nil && *f.Audio.ChunkFrames < 1 {
			return fmt.Errorf("audio.chunk_frames must be positive, got %d", *f.Audio.ChunkFrames)
		}
		for name, s := range map[string]*string{
			"audio.buffer_window":   f.Audio.BufferWindow,
			"audio.liveness_every":  f.Audio.LivenessEvery,
			"audio.silence_timeout": f.Audio.SilenceTimeout,
		} {
			if err := validDuration(name, s); err != nil {
				return err
			}
		}
	}
	if f.Sync != nil {
		if f.Sync.FrameCapacity != nil && *f.Sync.FrameCapacity < 1 {
			return fmt.Errorf("sync.frame_capacity must be at least 1, got %d", *f.Sync.FrameCapacity)
		}
		for name, s := range map[string]*string{
			"sync.max_skew":     f.Sync.MaxSkew,
			"sync.audio_window": f.Sync.AudioWindow,
		} {
			if err := validDuration(name, s); err != nil {
				return err
			}
		}
	}
	if f.Features != nil {
		if f.Features.SpeechLevel != nil && (*f.Features.SpeechLevel < 0 || *f.Features.SpeechLevel > 1) {
			return fmt.Errorf("features.speech_level must be between 0 and 1, got %f", *f.Features.SpeechLevel)
		}
		if f.Features.VoiceBandLowHz != nil && f.Features.VoiceBandHighHz != nil &&
			*f.Features.VoiceBandLowHz >= *f.Features.VoiceBandHighHz {
			return fmt.Errorf("features.voice_band_low_hz %f must be below voice_band_high_hz %f",
				*f.Features.VoiceBandLowHz, *f.Features.VoiceBandHighHz)
		}
	}
	if f.Classifier != nil && f.Classifier.Thresholds != nil {
		t := f.Classifier.Thresholds
		if t.TableMotionLow != nil && t.TableMotionHigh != nil && *t.TableMotionLow >= *t.TableMotionHigh {
			return fmt.Errorf("classifier.thresholds.table_motion_low %f must be below table_motion_high %f",
				*t.TableMotionLow, *t.TableMotionHigh)
		}
		if t.ReadMotionLow != nil && t.ReadMotionHigh != nil && *t.ReadMotionLow >= *t.ReadMotionHigh {
			return fmt.Errorf("classifier.thresholds.read_motion_low %f must be below read_motion_high %f",
				*t.ReadMotionLow, *t.ReadMotionHigh)
		}
		for name, v := range map[string]*float64{
			"sleep_motion": t.SleepMotion, "sleep_level": t.SleepLevel,
			"table_brightness": t.TableBrightness, "read_level": t.ReadLevel,
			"phone_level": t.PhoneLevel, "phone_motion": t.PhoneMotion,
			"talk_level": t.TalkLevel, "talk_motion": t.TalkMotion,
			"busy_motion": t.BusyMotion,
		} {
			if v != nil && *v < 0 {
				return fmt.Errorf("classifier.thresholds.%s must be non-negative, got %f", name, *v)
			}
		}
	}
	if f.Loop != nil {
		if err := validDuration("loop.interval", f.Loop.Interval); err != nil {
			return err
		}
	}
	if f.DB != nil && f.DB.RetentionDays != nil && *f.DB.RetentionDays < 0 {
		return fmt.Errorf("db.retention_days must be non-negative, got %d", *f.DB.RetentionDays)
	}
	if f.Notify != nil {
		if f.Notify.QueueSize != nil && *f.Notify.QueueSize < 1 {
			return fmt.Errorf("notify.queue_size must be at least 1, got %d", *f.Notify.QueueSize)
		}
		if f.Notify.MaxAttempts != nil && *f.Notify.MaxAttempts < 1 {
			return fmt.Errorf("notify.max_attempts must be at least 1, got %d", *f.Notify.MaxAttempts)
		}
		for name, s := range map[string]*string{
			"notify.retry_min": f.Notify.RetryMin,
			"notify.retry_max": f.Notify.RetryMax,
			"notify.timeout":   f.Notify.Timeout,
		} {
			if err := validDuration(name, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func validDuration(name string, s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	if _, err := time.ParseDuration(*s); err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
	}
	return nil
}
