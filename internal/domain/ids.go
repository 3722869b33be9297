package domain

// SubjectID is the authenticated subject extracted from JWT claims (the "sub" claim).
// It is the owner of every persisted expense source. Its format is controlled by the IdP.
type SubjectID string

// ExpenseSourceID is the store-assigned identifier of an expense source.
// IDs are positive, immutable and never reused within a deployment.
type ExpenseSourceID int64
