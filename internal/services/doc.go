// Package services holds shared error-wrapping conventions for worker and
// collaborator code, plus client subpackages for external services.
//
// Worker errors are wrapped with a sentinel marker and stage context before
// they reach the scheduler, which hands the final message to the failure
// classifier. Structural errors (ErrValidation, ErrConfiguration) indicate
// bugs or setup problems rather than transient pipeline failures.
package services
