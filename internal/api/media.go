package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/httputil"
)

func (s *Server) listMediaSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sources, err := s.frames.ListSources(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sources: %v", err))
		return
	}
	if sources == nil {
		sources = []capture.SourceDescriptor{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"sources": sources,
		"active":  s.frames.ActiveSource(),
	})
}

type selectSourceRequest struct {
	Name string `json:"name"`
}

func (s *Server) selectMediaSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req selectSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.frames.SetSource(req.Name); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"active": s.frames.ActiveSource()})
}

// mediaStatusResponse reports playback position in seconds, matching the
// units clients send on /api/media/control.
type mediaStatusResponse struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	DurationS float64 `json:"duration_s"`
	PositionS float64 `json:"position_s"`
}

func (s *Server) showMediaStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.BadRequest(w, "missing 'name' parameter")
		return
	}
	st, err := s.frames.MediaStatus(r.Context(), name)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("media status for %q: %v", name, err))
		return
	}
	httputil.WriteJSONOK(w, mediaStatusResponse{
		Name:      st.Name,
		State:     st.State,
		DurationS: st.Duration.Seconds(),
		PositionS: st.Position.Seconds(),
	})
}

type mediaControlRequest struct {
	Name      string  `json:"name"`
	Action    string  `json:"action"`
	PositionS float64 `json:"position_s"`
}

func (s *Server) controlMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req mediaControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "missing source name")
		return
	}
	action := capture.MediaAction(req.Action)
	if !capture.ValidMediaAction(action) {
		httputil.BadRequest(w, fmt.Sprintf("unknown media action %q", req.Action))
		return
	}
	if req.PositionS < 0 {
		httputil.BadRequest(w, "position_s must not be negative")
		return
	}

	pos := time.Duration(req.PositionS * float64(time.Second))
	if err := s.frames.ControlMedia(r.Context(), req.Name, action, pos); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("media control failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "applied"})
}

func (s *Server) listAudioDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	devices, err := s.audio.Devices()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list devices: %v", err))
		return
	}
	if devices == nil {
		devices = []capture.DeviceDescriptor{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"devices": devices})
}

// selectDeviceRequest carries the device index. A pointer distinguishes a
// missing field from index 0.
type selectDeviceRequest struct {
	Index *int `json:"index"`
}

func (s *Server) selectAudioDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req selectDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Index == nil {
		httputil.BadRequest(w, "missing 'index' field")
		return
	}

	if err := s.audio.SetDevice(r.Context(), *req.Index); err != nil {
		if errkind.Is(err, errkind.Device) {
			httputil.BadRequest(w, err.Error())
		} else {
			httputil.InternalServerError(w, err.Error())
		}
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"index":  *req.Index,
		"device": s.audio.Health().DeviceName,
	})
}
