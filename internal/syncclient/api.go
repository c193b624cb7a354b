package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"qms/patient-queue/internal/models"

	"github.com/go-resty/resty/v2"
)

const defaultRequestTimeout = 10 * time.Second

// API is the HTTP client for the queue server. Polling viewers and queuectl
// share it.
type API struct {
	client *resty.Client
}

type CreatePatientRequest struct {
	Name         string `json:"name"`
	Doctor       string `json:"doctor"`
	Service      string `json:"service"`
	OtherService string `json:"other_service,omitempty"`
	Urgency      bool   `json:"urgency"`
}

type CallRequest struct {
	By   string `json:"by,omitempty"`
	Room string `json:"room,omitempty"`
}

type patientEnvelope struct {
	OK      bool           `json:"ok"`
	Patient models.Patient `json:"patient"`
}

type clearEnvelope struct {
	OK      bool `json:"ok"`
	Removed int  `json:"removed"`
}

type historyEnvelope struct {
	OK    bool                      `json:"ok"`
	Calls []models.CallNotification `json:"calls"`
}

type hideEnvelope struct {
	OK     bool `json:"ok"`
	Hidden int  `json:"hidden"`
}

type doctorsEnvelope struct {
	OK      bool            `json:"ok"`
	Doctors []models.Doctor `json:"doctors"`
}

func NewAPI(baseURL string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &API{client: client}
}

// Queue pulls the current snapshot envelope.
func (a *API) Queue(ctx context.Context) (models.Snapshot, error) {
	var snapshot models.Snapshot
	if err := a.do(ctx, http.MethodGet, "/queue", nil, &snapshot, nil); err != nil {
		return models.Snapshot{}, err
	}
	if !snapshot.OK {
		return models.Snapshot{}, fmt.Errorf("%w: queue envelope not ok", ErrTransport)
	}
	return snapshot, nil
}

func (a *API) CreatePatient(ctx context.Context, req CreatePatientRequest) (models.Patient, error) {
	var out patientEnvelope
	err := a.do(ctx, http.MethodPost, "/patients", req, &out, nil)
	return out.Patient, err
}

func (a *API) Call(ctx context.Context, id string, req CallRequest) (models.Patient, error) {
	var out patientEnvelope
	err := a.do(ctx, http.MethodPost, "/patients/{id}/call", req, &out, map[string]string{"id": id})
	return out.Patient, err
}

func (a *API) Recall(ctx context.Context, id string, req CallRequest) (models.Patient, error) {
	var out patientEnvelope
	err := a.do(ctx, http.MethodPost, "/patients/{id}/recall", req, &out, map[string]string{"id": id})
	return out.Patient, err
}

func (a *API) Finish(ctx context.Context, id string) (models.Patient, error) {
	var out patientEnvelope
	err := a.do(ctx, http.MethodPost, "/patients/{id}/finish", nil, &out, map[string]string{"id": id})
	return out.Patient, err
}

func (a *API) Remove(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/patients/{id}", nil, nil, map[string]string{"id": id})
}

func (a *API) Clear(ctx context.Context) (int, error) {
	var out clearEnvelope
	err := a.do(ctx, http.MethodPost, "/queue/clear", nil, &out, nil)
	return out.Removed, err
}

func (a *API) History(ctx context.Context, viewer, doctor string) ([]models.CallNotification, error) {
	var out historyEnvelope
	req := a.client.R().SetContext(ctx).SetResult(&out).SetError(&APIError{})
	if viewer != "" {
		req.SetQueryParam("viewer", viewer)
	}
	if doctor != "" {
		req.SetQueryParam("doctor", doctor)
	}
	resp, err := req.Get("/history")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (a *API) HideHistory(ctx context.Context, viewer, doctor string) (int, error) {
	var out hideEnvelope
	body := map[string]string{"viewer": viewer, "doctor": doctor}
	err := a.do(ctx, http.MethodPost, "/history/hide", body, &out, nil)
	return out.Hidden, err
}

func (a *API) Doctors(ctx context.Context) ([]models.Doctor, error) {
	var out doctorsEnvelope
	err := a.do(ctx, http.MethodGet, "/doctors", nil, &out, nil)
	return out.Doctors, err
}

func (a *API) do(ctx context.Context, method, path string, body, result interface{}, params map[string]string) error {
	req := a.client.R().SetContext(ctx).SetError(&APIError{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	if params != nil {
		req.SetPathParams(params)
	}
	resp, err := req.Execute(method, path)
	return checkResponse(resp, err)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}
