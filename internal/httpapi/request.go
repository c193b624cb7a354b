package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"qms/patient-queue/internal/store"
)

const maxBodyBytes = 1 << 20

// formRequest is implemented by request types that the reception and dentist
// panels also post as urlencoded forms.
type formRequest interface {
	fromForm(values url.Values)
}

type createPatientRequest struct {
	Name         string   `json:"name"`
	Doctor       string   `json:"doctor"`
	Service      string   `json:"service"`
	OtherService string   `json:"other_service"`
	Other        string   `json:"other"`
	Urgency      flexBool `json:"urgency"`
	Urgente      flexBool `json:"urgente"`
}

func (req *createPatientRequest) fromForm(values url.Values) {
	req.Name = values.Get("name")
	req.Doctor = values.Get("doctor")
	req.Service = values.Get("service")
	req.OtherService = values.Get("other_service")
	req.Other = values.Get("other")
	req.Urgency = flexBool(parseBool(values.Get("urgency")))
	req.Urgente = flexBool(parseBool(values.Get("urgente")))
}

func (req createPatientRequest) input() store.CreatePatientInput {
	other := req.OtherService
	if strings.TrimSpace(other) == "" {
		other = req.Other
	}
	return store.CreatePatientInput{
		Name:         req.Name,
		Doctor:       req.Doctor,
		Service:      req.Service,
		OtherService: other,
		Urgency:      bool(req.Urgency) || bool(req.Urgente),
	}
}

type callRequest struct {
	By          string `json:"by"`
	Room        string `json:"room"`
	Consultorio string `json:"consultorio"`
}

func (req *callRequest) fromForm(values url.Values) {
	req.By = values.Get("by")
	req.Room = values.Get("room")
	req.Consultorio = values.Get("consultorio")
}

func (req callRequest) room() string {
	if strings.TrimSpace(req.Room) != "" {
		return req.Room
	}
	return req.Consultorio
}

type hideHistoryRequest struct {
	Viewer string `json:"viewer"`
	Doctor string `json:"doctor"`
}

func (req *hideHistoryRequest) fromForm(values url.Values) {
	req.Viewer = values.Get("viewer")
	req.Doctor = values.Get("doctor")
}

type doctorRequest struct {
	Name        string `json:"name"`
	Room        string `json:"room"`
	Consultorio string `json:"consultorio"`
}

func (req *doctorRequest) fromForm(values url.Values) {
	req.Name = values.Get("name")
	req.Room = values.Get("room")
	req.Consultorio = values.Get("consultorio")
}

func (req doctorRequest) room() string {
	if strings.TrimSpace(req.Room) != "" {
		return req.Room
	}
	return req.Consultorio
}

// decodeRequest accepts a JSON body or a urlencoded form. An empty body
// leaves target zeroed.
func decodeRequest(w http.ResponseWriter, r *http.Request, target formRequest) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && err != http.ErrNotMultipart {
			writeError(w, http.StatusBadRequest, "invalid_form", "invalid form payload")
			return false
		}
		target.fromForm(r.Form)
		return true
	default:
		if err := json.NewDecoder(r.Body).Decode(target); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return false
		}
		return true
	}
}

// flexBool decodes true/false, 0/1 and the strings panels send for checkboxes.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*b = flexBool(v)
	case float64:
		*b = v != 0
	case string:
		*b = flexBool(parseBool(v))
	case nil:
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func parseBool(raw string) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "on", "yes", "sim", "s":
		return true
	}
	value, err := strconv.ParseBool(raw)
	return err == nil && value
}
