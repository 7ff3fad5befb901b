package api

import (
	"time"

	"alchemy/pkg/domain"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ExperimentRequest is the PUT body. The name comes from the path; sequence
// and creation time are owned by the store.
type ExperimentRequest struct {
	Description  string              `json:"description"`
	Active       bool                `json:"active"`
	IdentityType string              `json:"identity_type"`
	Treatments   []domain.Treatment  `json:"treatments"`
	Allocations  []domain.Allocation `json:"allocations"`
	Overrides    []domain.Override   `json:"overrides"`
}

// Experiment returns the experiment the request describes under name.
func (r ExperimentRequest) Experiment(name string) domain.Experiment {
	return domain.Experiment{
		Name:         name,
		Description:  r.Description,
		Active:       r.Active,
		IdentityType: r.IdentityType,
		Treatments:   r.Treatments,
		Allocations:  r.Allocations,
		Overrides:    r.Overrides,
	}
}

// ExperimentResponse is an experiment as served by the API.
type ExperimentResponse struct {
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Active       bool                `json:"active"`
	IdentityType string              `json:"identity_type,omitempty"`
	Created      time.Time           `json:"created"`
	Sequence     int64               `json:"sequence"`
	Treatments   []domain.Treatment  `json:"treatments"`
	Allocations  []domain.Allocation `json:"allocations"`
	Overrides    []domain.Override   `json:"overrides"`
}

func newExperimentResponse(e domain.Experiment) ExperimentResponse {
	return ExperimentResponse{
		Name:         e.Name,
		Description:  e.Description,
		Active:       e.Active,
		IdentityType: e.IdentityType,
		Created:      e.Created,
		Sequence:     e.Sequence,
		Treatments:   nonNil(e.Treatments),
		Allocations:  nonNil(e.Allocations),
		Overrides:    nonNil(e.Overrides),
	}
}

// IdentityRequest names an identity type and its attributes.
type IdentityRequest struct {
	Type       string            `json:"type" binding:"required"`
	Attributes map[string]string `json:"attributes"`
}

// TreatmentsRequest is the body of POST /active/treatments.
type TreatmentsRequest struct {
	Identities []IdentityRequest `json:"identities"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
