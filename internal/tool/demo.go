package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/resolver"
)

// Claim is one claims record used by the demo tool set.
type Claim struct {
	ID          string  `json:"claim_id"`
	PatientID   string  `json:"patient_id"`
	Amount      float64 `json:"amount"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
}

// RegisterDemoTools installs the healthcare-claims demo tool set backed by
// the in-memory stores: patient search, claims retrieval and total
// calculation.
func RegisterDemoTools(reg *Registry, entities *resolver.MemoryStore, claims []Claim, maxBatch int) {
	if maxBatch <= 0 {
		maxBatch = 10000
	}

	byPatient := make(map[string][]Claim)
	byID := make(map[string]Claim)
	for _, c := range claims {
		byPatient[c.PatientID] = append(byPatient[c.PatientID], c)
		byID[c.ID] = c
	}

	reg.Register(Spec{
		Name:        "query_patients",
		Description: "Search patients by name",
		Required:    []string{"name"},
		Aliases:     map[string]string{"name": "patient_id"},
	}, func(ctx context.Context, params map[string]string) (Result, error) {
		name := params["name"]
		if name == "" {
			name = params["patient_id"]
		}
		records, err := entities.FindByNameFragment(ctx, name, model.EntityKindPatient)
		if err != nil {
			return nil, err
		}
		patients := make([]map[string]string, 0, len(records))
		for _, rec := range records {
			patients = append(patients, map[string]string{
				"patient_id": rec.ID,
				"full_name":  rec.FullName,
			})
		}
		return Result{"patients": patients, "count": len(patients)}, nil
	})

	reg.Register(Spec{
		Name:        "get_claims",
		Description: "Get claims for a specific patient ID",
		Required:    []string{"patient_id"},
		Limits:      map[string]int{"count": maxBatch},
	}, func(ctx context.Context, params map[string]string) (Result, error) {
		patientID := params["patient_id"]
		matched := byPatient[patientID]

		if status := params["status"]; status != "" {
			var filtered []Claim
			for _, c := range matched {
				if strings.EqualFold(c.Status, status) {
					filtered = append(filtered, c)
				}
			}
			matched = filtered
		}

		var total float64
		for _, c := range matched {
			total += c.Amount
		}
		return Result{"claims": matched, "count": len(matched), "total_amount": total}, nil
	})

	reg.Register(Spec{
		Name:        "calculate_total",
		Description: "Calculate total amount from claim IDs",
		Required:    []string{"claim_ids"},
		Limits:      map[string]int{"claim_ids": maxBatch},
	}, func(ctx context.Context, params map[string]string) (Result, error) {
		ids := strings.Split(params["claim_ids"], ",")

		var total float64
		breakdown := make([]map[string]any, 0, len(ids))
		missing := 0
		for _, id := range ids {
			id = strings.TrimSpace(id)
			c, ok := byID[id]
			if !ok {
				missing++
				continue
			}
			total += c.Amount
			breakdown = append(breakdown, map[string]any{
				"claim_id": c.ID,
				"amount":   c.Amount,
				"status":   c.Status,
			})
		}
		if missing == len(ids) {
			return nil, fmt.Errorf("no claims found for ids: %s", params["claim_ids"])
		}
		return Result{
			"total":     total,
			"count":     len(breakdown),
			"breakdown": breakdown,
		}, nil
	})
}
