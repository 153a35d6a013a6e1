package tool

import (
	"time"

	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/resolver"
)

// SeedDemoData loads the demo patient roster and claims into the entity
// store and returns the claims for tool registration. The roster includes
// near-duplicate names so entity disambiguation has something to chew on.
func SeedDemoData(entities *resolver.MemoryStore) []Claim {
	now := time.Now()

	entities.Add(model.EntityKindPatient,
		resolver.Record{
			ID: "PAT-12345", FullName: "Jennifer Smith",
			FirstName: "Jennifer", LastName: "Smith",
			LastActivity: now.AddDate(0, 0, -12),
			Metadata:     map[string]string{"dob": "1985-03-14"},
		},
		resolver.Record{
			ID: "PAT-12346", FullName: "Jenny Smith",
			FirstName: "Jenny", LastName: "Smith",
			LastActivity: now.AddDate(0, 0, -75),
			Metadata:     map[string]string{"dob": "1992-07-02"},
		},
		resolver.Record{
			ID: "PAT-12347", FullName: "Jennifer Smythe",
			FirstName: "Jennifer", LastName: "Smythe",
			LastActivity: now.AddDate(0, 0, -150),
			Metadata:     map[string]string{"dob": "1978-11-23"},
		},
		resolver.Record{
			ID: "PAT-20001", FullName: "Robert Chen",
			FirstName: "Robert", LastName: "Chen",
			LastActivity: now.AddDate(0, 0, -5),
			Metadata:     map[string]string{"dob": "1969-01-30"},
		},
		resolver.Record{
			ID: "PAT-20002", FullName: "Maria Gonzalez",
			FirstName: "Maria", LastName: "Gonzalez",
			LastActivity: now.AddDate(0, 0, -40),
			Metadata:     map[string]string{"dob": "1990-05-18"},
		},
	)

	return []Claim{
		{ID: "CLM-1001", PatientID: "PAT-12345", Amount: 450.00, Status: "approved", Description: "Annual physical"},
		{ID: "CLM-1002", PatientID: "PAT-12345", Amount: 1280.50, Status: "pending", Description: "MRI scan"},
		{ID: "CLM-1003", PatientID: "PAT-12345", Amount: 89.99, Status: "denied", Description: "Out-of-network lab work"},
		{ID: "CLM-1004", PatientID: "PAT-12346", Amount: 230.00, Status: "approved", Description: "Dermatology consult"},
		{ID: "CLM-1005", PatientID: "PAT-12346", Amount: 3120.00, Status: "pending", Description: "Outpatient surgery"},
		{ID: "CLM-1006", PatientID: "PAT-12347", Amount: 175.25, Status: "approved", Description: "Physical therapy"},
		{ID: "CLM-1007", PatientID: "PAT-20001", Amount: 920.40, Status: "approved", Description: "Cardiology workup"},
		{ID: "CLM-1008", PatientID: "PAT-20001", Amount: 64.00, Status: "pending", Description: "Prescription refill"},
		{ID: "CLM-1009", PatientID: "PAT-20002", Amount: 540.75, Status: "denied", Description: "Elective imaging"},
	}
}
