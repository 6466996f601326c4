/*
catalog.go - Read-only view of the course/enrollment catalog

PURPOSE:
  The billing engine needs to know whether a student is actively enrolled
  in a batch and whether the batch itself is active, but it must not import
  the catalog's models (and the catalog must not import billing's). Each
  side depends on a narrow read-only interface instead.

  The catalog queries billing through AccessGate.Decide; billing queries
  the catalog through CatalogReader. That is the entire contract between
  the two systems.

SEE ALSO:
  - gate.go: Consumes these refs in the lock decision
  - store/sqlite: Provides a CatalogReader over the shared schema
*/
package billing

import "context"

// EnrollmentRef is the slice of an enrollment the engine cares about.
type EnrollmentRef struct {
	StudentID StudentID
	BatchID   BatchID
	CourseID  CourseID
	Active    bool
}

// BatchRef is the slice of a batch the engine cares about.
type BatchRef struct {
	ID       BatchID
	CourseID CourseID
	Status   BatchStatus
}

// CatalogReader is the read-only window into the course catalog.
// Implementations return (nil, nil) when the row does not exist.
type CatalogReader interface {
	// Enrollment returns the enrollment for (student, batch), or nil.
	Enrollment(ctx context.Context, studentID StudentID, batchID BatchID) (*EnrollmentRef, error)

	// Batch returns the batch, or nil.
	Batch(ctx context.Context, batchID BatchID) (*BatchRef, error)
}
