// Package intake implements Request Intake (spec §4.5): it validates a
// caller's input, checks the target model's availability, mints a fresh
// RequestId, builds the one-shot waiter, and hands the request to the
// dispatcher's ingress. Nothing here blocks on inference — submission
// returns as soon as the dispatcher has accepted (or refused) the request.
package intake

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/registry"
)

const (
	maxTextBytes   = 1_000_000
	maxBinaryBytes = 100_000_000
)

// Ingress is the narrow capability intake needs from the dispatcher: accept
// a freshly-built request, or refuse it under backpressure.
type Ingress interface {
	Submit(req *domain.Request) error
}

// Intake validates and admits requests into the dispatcher on behalf of the
// Core API's predict/batch_predict operations.
type Intake struct {
	reg     *registry.Registry
	ingress Ingress
}

func New(reg *registry.Registry, ingress Ingress) *Intake {
	return &Intake{reg: reg, ingress: ingress}
}

// Submit validates input against modelID's availability and the payload
// bounds below, then hands a new Request to the dispatcher. The returned
// Request's Waiter receives exactly one Result.
func (in *Intake) Submit(modelID domain.ModelId, input domain.Input, params domain.Parameters) (*domain.Request, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	info, err := in.reg.Get(modelID)
	if err != nil {
		return nil, err
	}
	if !domain.Available(info.Status, info.Health) {
		return nil, apierr.NewModelUnavailable(string(modelID))
	}

	req := &domain.Request{
		ID:       domain.RequestId(uuid.NewString()),
		ModelID:  modelID,
		Input:    input,
		Params:   params,
		SubmitAt: time.Now(),
		Waiter:   make(chan domain.Result, 1),
	}

	if err := in.ingress.Submit(req); err != nil {
		return nil, err
	}
	return req, nil
}

func validateInput(in domain.Input) error {
	switch in.Kind {
	case domain.InputText:
		if in.Text == "" {
			return apierr.NewValidation("text input must not be empty")
		}
		if len(in.Text) > maxTextBytes {
			return apierr.NewValidation(fmt.Sprintf("text input exceeds %d bytes", maxTextBytes))
		}
	case domain.InputBinary:
		if len(in.Binary) == 0 {
			return apierr.NewValidation("binary input must not be empty")
		}
		if len(in.Binary) > maxBinaryBytes {
			return apierr.NewValidation(fmt.Sprintf("binary input exceeds %d bytes", maxBinaryBytes))
		}
	case domain.InputJSON:
		if in.JSON == nil {
			return apierr.NewValidation("json input must not be null")
		}
	case domain.InputMultimodal:
		if len(in.Multimodal) == 0 {
			return apierr.NewValidation("multimodal input must not be empty")
		}
		for k, part := range in.Multimodal {
			if k == "" {
				return apierr.NewValidation("multimodal part key must not be empty")
			}
			if err := validateInput(part); err != nil {
				return err
			}
		}
	default:
		return apierr.NewValidation(fmt.Sprintf("unrecognized input kind %q", in.Kind))
	}
	return nil
}
