package flaws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahrav/flawtracker/internal/app/flaws"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
)

type affectRequest struct {
	PsModule         string `json:"ps_module" validate:"required"`
	PsComponent      string `json:"ps_component" validate:"required"`
	PURL             string `json:"purl"`
	AffectedVersions string `json:"affected_versions"`
	Affectedness     string `json:"affectedness" validate:"omitempty,oneof=NEW AFFECTED NOTAFFECTED"`
	Resolution       string `json:"resolution" validate:"omitempty,oneof=DELEGATED WONTFIX OOSS DEFER FIX"`
	Impact           string `json:"impact" validate:"omitempty,oneof=LOW MODERATE IMPORTANT CRITICAL"`
}

func (ar affectRequest) toAffect() *flaw.Affect {
	a := flaw.NewAffect(ar.PsModule, ar.PsComponent)
	a.PURL = ar.PURL
	a.AffectedVersions = ar.AffectedVersions
	if ar.Affectedness != "" {
		a.Affectedness = flaw.Affectedness(ar.Affectedness)
	}
	a.Resolution = flaw.Resolution(ar.Resolution)
	a.Impact = flaw.Impact(ar.Impact)
	return a
}

// updateRequest carries the editable content of a flaw. Source and title
// rules are enforced by the flaw itself so the messages match every other
// write path.
type updateRequest struct {
	CVEID              string     `json:"cve_id"`
	CWEID              string     `json:"cwe_id"`
	Title              string     `json:"title"`
	Impact             string     `json:"impact" validate:"omitempty,oneof=LOW MODERATE IMPORTANT CRITICAL"`
	Source             string     `json:"source"`
	CommentZero        string     `json:"comment_zero"`
	Embargoed          bool       `json:"embargoed"`
	Components         []string   `json:"components"`
	MajorIncidentState string     `json:"major_incident_state"`
	ReportedAt         *time.Time `json:"reported_dt"`
	UnembargoAt        *time.Time `json:"unembargo_dt"`
}

func (ur updateRequest) apply(f *flaw.Flaw) {
	f.CVEID = ur.CVEID
	f.CWEID = ur.CWEID
	f.Title = ur.Title
	f.Impact = flaw.Impact(ur.Impact)
	f.Source = flaw.Source(ur.Source)
	f.CommentZero = ur.CommentZero
	f.Embargoed = ur.Embargoed
	f.Components = ur.Components
	f.MajorIncidentState = flaw.MajorIncidentState(ur.MajorIncidentState)
	f.ReportedAt = time.Time{}
	if ur.ReportedAt != nil {
		f.ReportedAt = ur.ReportedAt.UTC()
	}
	f.UnembargoAt = time.Time{}
	if ur.UnembargoAt != nil {
		f.UnembargoAt = ur.UnembargoAt.UTC()
	}
}

type createRequest struct {
	updateRequest
	Affects []affectRequest `json:"affects" validate:"dive"`
}

func (cr createRequest) toFlaw() *flaw.Flaw {
	f := flaw.NewFlaw(cr.Title, flaw.Source(cr.Source))
	cr.apply(f)
	for _, ar := range cr.Affects {
		f.AddAffect(ar.toAffect())
	}
	return f
}

type listQuery struct {
	WorkflowState string `validate:"omitempty,oneof=NEW TRIAGE PRE_SECONDARY_ASSESSMENT SECONDARY_ASSESSMENT DONE REJECTED"`
	Limit         int    `validate:"gte=0,lte=500"`
	Offset        int    `validate:"gte=0"`
}

type affectResponse struct {
	ID               string `json:"uuid"`
	PsModule         string `json:"ps_module"`
	PsComponent      string `json:"ps_component"`
	PURL             string `json:"purl,omitempty"`
	AffectedVersions string `json:"affected_versions,omitempty"`
	Affectedness     string `json:"affectedness"`
	Resolution       string `json:"resolution,omitempty"`
	Impact           string `json:"impact,omitempty"`
}

type syncResponse struct {
	Reason       string `json:"reason"`
	Updated      bool   `json:"updated"`
	Transitioned bool   `json:"transitioned"`
	Reconciled   bool   `json:"reconciled"`
	RemoteState  string `json:"remote_state,omitempty"`
	TaskLost     bool   `json:"task_lost,omitempty"`
	Suppressed   string `json:"suppressed_error,omitempty"`
}

type flawResponse struct {
	ID                 string           `json:"uuid"`
	CVEID              string           `json:"cve_id,omitempty"`
	CWEID              string           `json:"cwe_id,omitempty"`
	Title              string           `json:"title"`
	Impact             string           `json:"impact,omitempty"`
	Source             string           `json:"source"`
	CommentZero        string           `json:"comment_zero,omitempty"`
	Embargoed          bool             `json:"embargoed"`
	Components         []string         `json:"components"`
	MajorIncidentState string           `json:"major_incident_state,omitempty"`
	WorkflowState      string           `json:"workflow_state"`
	TaskKey            string           `json:"task_key,omitempty"`
	TaskLost           bool             `json:"task_lost,omitempty"`
	ReportedAt         *time.Time       `json:"reported_dt,omitempty"`
	UnembargoAt        *time.Time       `json:"unembargo_dt,omitempty"`
	CreatedAt          time.Time        `json:"created_dt"`
	UpdatedAt          time.Time        `json:"updated_dt"`
	Affects            []affectResponse `json:"affects"`

	Sync       *syncResponse `json:"task_sync,omitempty"`
	Validation string        `json:"validation_error,omitempty"`

	status int
}

// Encode implements the web.Encoder interface.
func (fr flawResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(fr)
	return data, "application/json", err
}

// HTTPStatus implements the web httpStatus interface.
func (fr flawResponse) HTTPStatus() int {
	if fr.status == 0 {
		return http.StatusOK
	}
	return fr.status
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toFlawResponse(f *flaw.Flaw) flawResponse {
	fr := flawResponse{
		ID:                 f.ID().String(),
		CVEID:              f.CVEID,
		CWEID:              f.CWEID,
		Title:              f.Title,
		Impact:             f.Impact.String(),
		Source:             f.Source.String(),
		CommentZero:        f.CommentZero,
		Embargoed:          f.Embargoed,
		Components:         f.Components,
		MajorIncidentState: f.MajorIncidentState.String(),
		WorkflowState:      f.WorkflowState.String(),
		TaskKey:            f.TaskKey(),
		TaskLost:           f.TaskLost(),
		ReportedAt:         optionalTime(f.ReportedAt),
		UnembargoAt:        optionalTime(f.UnembargoAt),
		CreatedAt:          f.CreatedAt(),
		UpdatedAt:          f.UpdatedAt(),
		Affects:            make([]affectResponse, 0, len(f.Affects)),
	}
	if fr.Components == nil {
		fr.Components = []string{}
	}
	for _, a := range f.Affects {
		fr.Affects = append(fr.Affects, affectResponse{
			ID:               a.ID().String(),
			PsModule:         a.PsModule,
			PsComponent:      a.PsComponent,
			PURL:             a.PURL,
			AffectedVersions: a.AffectedVersions,
			Affectedness:     string(a.Affectedness),
			Resolution:       string(a.Resolution),
			Impact:           a.Impact.String(),
		})
	}
	return fr
}

func toSaveResponse(f *flaw.Flaw, res flaws.SaveResult, status int) flawResponse {
	fr := toFlawResponse(f)
	fr.status = status
	if res.Validation != nil {
		fr.Validation = res.Validation.Error()
	}

	out := res.Sync
	if out.Plan.Reason == "" {
		return fr
	}
	sr := &syncResponse{
		Reason:       string(out.Plan.Reason),
		Updated:      out.Updated,
		Transitioned: out.Transitioned,
		Reconciled:   out.Reconciled || res.Reconciled,
		TaskLost:     out.TaskLost,
	}
	if out.Reconciled {
		sr.RemoteState = out.RemoteState.String()
	}
	if out.Suppressed != nil {
		sr.Suppressed = out.Suppressed.Error()
	}
	fr.Sync = sr
	return fr
}

type flawList struct {
	Flaws []flawResponse `json:"flaws"`
	Count int            `json:"count"`
}

// Encode implements the web.Encoder interface.
func (fl flawList) Encode() ([]byte, string, error) {
	data, err := json.Marshal(fl)
	return data, "application/json", err
}

type taskResponse struct {
	Key           string `json:"key"`
	WorkflowState string `json:"workflow_state"`
	Status        string `json:"status"`
	URL           string `json:"url,omitempty"`
}

// Encode implements the web.Encoder interface.
func (tr taskResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(tr)
	return data, "application/json", err
}

func toTaskResponse(ts taskman.TaskStatus) taskResponse {
	return taskResponse{
		Key:           ts.Key,
		WorkflowState: ts.State.String(),
		Status:        ts.Status,
		URL:           ts.URL,
	}
}
