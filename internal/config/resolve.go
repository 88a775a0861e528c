package config

import "time"

// Config is the fully resolved daemon configuration. All fields are
// concrete values; construct one through Default or File.Resolve.
type Config struct {
	Listen     string
	Capture    Capture
	Audio      Audio
	Sync       Sync
	Features   Features
	Classifier Classifier
	Loop       Loop
	DB         DB
	Notify     Notify
}

type Capture struct {
	Host           string
	Port           int
	Password       string
	Source         string
	Width          int
	Height         int
	RequestTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	DownAfter      int
	TestFrames     bool
}

type Audio struct {
	SampleRate     int
	Channels       int
	ChunkFrames    int
	BufferWindow   time.Duration
	DeviceIndex    int
	LivenessEvery  time.Duration
	SilenceTimeout time.Duration
}

type Sync struct {
	MaxSkew       time.Duration
	AudioWindow   time.Duration
	FrameCapacity int
}

type Features struct {
	SpeechLevel     float64
	VoiceBandLowHz  float64
	VoiceBandHighHz float64
}

type Classifier struct {
	ModelPath  string
	Thresholds Thresholds
}

// Thresholds drives the rule-based classifier. Motion values are percent
// of changed luma (0..100), levels are normalized RMS (0..1), brightness
// is mean luma (0..255).
type Thresholds struct {
	SleepMotion     float64
	SleepLevel      float64
	TableMotionLow  float64
	TableMotionHigh float64
	TableBrightness float64
	ReadMotionLow   float64
	ReadMotionHigh  float64
	ReadLevel       float64
	PhoneLevel      float64
	PhoneMotion     float64
	TalkLevel       float64
	TalkMotion      float64
	BusyMotion      float64
}

type Loop struct {
	Interval time.Duration
}

type DB struct {
	Path          string
	RetentionDays int
}

type Notify struct {
	URL         string
	Token       string
	QueueSize   int
	MaxAttempts int
	RetryMin    time.Duration
	RetryMax    time.Duration
	Timeout     time.Duration
}

// Default returns the configuration used when no file overrides anything.
func Default() Config {
	return Config{
		Listen: ":8089",
		Capture: Capture{
			Host:           "localhost",
			Port:           4455,
			Width:          640,
			Height:         480,
			RequestTimeout: 10 * time.Second,
			ReconnectMin:   5 * time.Second,
			ReconnectMax:   60 * time.Second,
			DownAfter:      3,
		},
		Audio: Audio{
			SampleRate:     16000,
			Channels:       1,
			ChunkFrames:    1024,
			BufferWindow:   5 * time.Second,
			DeviceIndex:    -1,
			LivenessEvery:  10 * time.Second,
			SilenceTimeout: 30 * time.Second,
		},
		Sync: Sync{
			MaxSkew:       150 * time.Millisecond,
			AudioWindow:   500 * time.Millisecond,
			FrameCapacity: 30,
		},
		Features: Features{
			SpeechLevel:     0.15,
			VoiceBandLowHz:  85,
			VoiceBandHighHz: 255,
		},
		Classifier: Classifier{
			ModelPath: "models/activity_model.json",
			Thresholds: Thresholds{
				SleepMotion:     2,
				SleepLevel:      0.10,
				TableMotionLow:  5,
				TableMotionHigh: 15,
				TableBrightness: 100,
				ReadMotionLow:   2,
				ReadMotionHigh:  10,
				ReadLevel:       0.20,
				PhoneLevel:      0.30,
				PhoneMotion:     10,
				TalkLevel:       0.25,
				TalkMotion:      10,
				BusyMotion:      20,
			},
		},
		Loop: Loop{
			Interval: 300 * time.Second,
		},
		DB: DB{
			Path:          "data/activity.db",
			RetentionDays: 30,
		},
		Notify: Notify{
			QueueSize:   64,
			MaxAttempts: 5,
			RetryMin:    500 * time.Millisecond,
			RetryMax:    30 * time.Second,
			Timeout:     10 * time.Second,
		},
	}
}

// Resolve overlays the file's set fields on the defaults. A nil receiver
// resolves to Default().
func (f *File) Resolve() Config {
	cfg := Default()
	if f == nil {
		return cfg
	}
	cfg.Listen = strOr(f.Listen, cfg.Listen)
	if c := f.Capture; c != nil {
		cfg.Capture.Host = strOr(c.Host, cfg.Capture.Host)
		cfg.Capture.Port = intOr(c.Port, cfg.Capture.Port)
		cfg.Capture.Password = strOr(c.Password, cfg.Capture.Password)
		cfg.Capture.Source = strOr(c.Source, cfg.Capture.Source)
		cfg.Capture.Width = intOr(c.Width, cfg.Capture.Width)
		cfg.Capture.Height = intOr(c.Height, cfg.Capture.Height)
		cfg.Capture.RequestTimeout = durOr(c.RequestTimeout, cfg.Capture.RequestTimeout)
		cfg.Capture.ReconnectMin = durOr(c.ReconnectMin, cfg.Capture.ReconnectMin)
		cfg.Capture.ReconnectMax = durOr(c.ReconnectMax, cfg.Capture.ReconnectMax)
		cfg.Capture.DownAfter = intOr(c.DownAfter, cfg.Capture.DownAfter)
		cfg.Capture.TestFrames = boolOr(c.TestFrames, cfg.Capture.TestFrames)
	}
	if a := f.Audio; a != nil {
		cfg.Audio.SampleRate = intOr(a.SampleRate, cfg.Audio.SampleRate)
		cfg.Audio.Channels = intOr(a.Channels, cfg.Audio.Channels)
		cfg.Audio.ChunkFrames = intOr(a.ChunkFrames, cfg.Audio.ChunkFrames)
		cfg.Audio.BufferWindow = durOr(a.BufferWindow, cfg.Audio.BufferWindow)
		cfg.Audio.DeviceIndex = intOr(a.DeviceIndex, cfg.Audio.DeviceIndex)
		cfg.Audio.LivenessEvery = durOr(a.LivenessEvery, cfg.Audio.LivenessEvery)
		cfg.Audio.SilenceTimeout = durOr(a.SilenceTimeout, cfg.Audio.SilenceTimeout)
	}
	if s := f.Sync; s != nil {
		cfg.Sync.MaxSkew = durOr(s.MaxSkew, cfg.Sync.MaxSkew)
		cfg.Sync.AudioWindow = durOr(s.AudioWindow, cfg.Sync.AudioWindow)
		cfg.Sync.FrameCapacity = intOr(s.FrameCapacity, cfg.Sync.FrameCapacity)
	}
	if ft := f.Features; ft != nil {
		cfg.Features.SpeechLevel = f64Or(ft.SpeechLevel, cfg.Features.SpeechLevel)
		cfg.Features.VoiceBandLowHz = f64Or(ft.VoiceBandLowHz, cfg.Features.VoiceBandLowHz)
		cfg.Features.VoiceBandHighHz = f64Or(ft.VoiceBandHighHz, cfg.Features.VoiceBandHighHz)
	}
	if c := f.Classifier; c != nil {
		cfg.Classifier.ModelPath = strOr(c.ModelPath, cfg.Classifier.ModelPath)
		if t := c.Thresholds; t != nil {
			th := &cfg.Classifier.Thresholds
			th.SleepMotion = f64Or(t.SleepMotion, th.SleepMotion)
			th.SleepLevel = f64Or(t.SleepLevel, th.SleepLevel)
			th.TableMotionLow = f64Or(t.TableMotionLow, th.TableMotionLow)
			th.TableMotionHigh = f64Or(t.TableMotionHigh, th.TableMotionHigh)
			th.TableBrightness = f64Or(t.TableBrightness, th.TableBrightness)
			th.ReadMotionLow = f64Or(t.ReadMotionLow, th.ReadMotionLow)
			th.ReadMotionHigh = f64Or(t.ReadMotionHigh, th.ReadMotionHigh)
			th.ReadLevel = f64Or(t.ReadLevel, th.ReadLevel)
			th.PhoneLevel = f64Or(t.PhoneLevel, th.PhoneLevel)
			th.PhoneMotion = f64Or(t.PhoneMotion, th.PhoneMotion)
			th.TalkLevel = f64Or(t.TalkLevel, th.TalkLevel)
			th.TalkMotion = f64Or(t.TalkMotion, th.TalkMotion)
			th.BusyMotion = f64Or(t.BusyMotion, th.BusyMotion)
		}
	}
	if l := f.Loop; l != nil {
		cfg.Loop.Interval = durOr(l.Interval, cfg.Loop.Interval)
	}
	if d := f.DB; d != nil {
		cfg.DB.Path = strOr(d.Path, cfg.DB.Path)
		cfg.DB.RetentionDays = intOr(d.RetentionDays, cfg.DB.RetentionDays)
	}
	if n := f.Notify; n != nil {
		cfg.Notify.URL = strOr(n.URL, cfg.Notify.URL)
		cfg.Notify.Token = strOr(n.Token, cfg.Notify.Token)
		cfg.Notify.QueueSize = intOr(n.QueueSize, cfg.Notify.QueueSize)
		cfg.Notify.MaxAttempts = intOr(n.MaxAttempts, cfg.Notify.MaxAttempts)
		cfg.Notify.RetryMin = durOr(n.RetryMin, cfg.Notify.RetryMin)
		cfg.Notify.RetryMax = durOr(n.RetryMax, cfg.Notify.RetryMax)
		cfg.Notify.Timeout = durOr(n.Timeout, cfg.Notify.Timeout)
	}
	return cfg
}

func strOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func f64Or(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// durOr parses a duration string, keeping def when unset or unparsable.
// Validate reports parse errors at load time; this stays lenient so a
// resolved config is always usable.
func durOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
