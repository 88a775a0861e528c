package capture

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// Wire protocol for the remote capture service. The connection opens with a
// hello/identify handshake, then carries request/response pairs correlated
// by id.

const (
	opHello      = "hello"
	opIdentify   = "identify"
	opIdentified = "identified"

	opGetScreenshot = "get_screenshot"
	opListSources   = "list_sources"
	opMediaStatus   = "media_status"
	opMediaControl  = "media_control"
)

type envelope struct {
	Op     string          `json:"op"`
	ID     string          `json:"id,omitempty"`
	Status string          `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// helloData is sent by the server on connect. Challenge and Salt are empty
// when the server runs without authentication.
type helloData struct {
	Version   string `json:"version"`
	Challenge string `json:"challenge,omitempty"`
	Salt      string `json:"salt,omitempty"`
}

type identifyData struct {
	Auth string `json:"auth,omitempty"`
}

// authResponse derives the handshake auth string from the password and the
// server's challenge/salt pair: base64(sha256(base64(sha256(password+salt))
// + challenge)).
func authResponse(password, challenge, salt string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

type screenshotParams struct {
	Source  string `json:"source"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Quality int    `json:"quality"`
}

// screenshotPayload carries the image in one of the shapes the service has
// used across versions. Current servers fill imageData with PNG, legacy
// ones img_data with JPEG, and a few builds a bare data field. Exactly one
// is expected to be set.
type screenshotPayload struct {
	ImageData string `json:"imageData,omitempty"`
	ImgData   string `json:"img_data,omitempty"`
	Data      string `json:"data,omitempty"`
}

type sourcesPayload struct {
	Sources []SourceDescriptor `json:"sources"`
}

type mediaStatusParams struct {
	Source string `json:"source"`
}

type mediaStatusPayload struct {
	State      string `json:"state"`
	DurationMS int64  `json:"duration_ms"`
	PositionMS int64  `json:"position_ms"`
}

type mediaControlParams struct {
	Source     string `json:"source"`
	Action     string `json:"action"`
	PositionMS int64  `json:"position_ms,omitempty"`
}
