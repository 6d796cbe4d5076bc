// Package logging wraps log/slog with conveyor's attribute helpers,
// standardized field names, and context carriage for file/job/stage
// identifiers.
//
// Components receive a *slog.Logger and never configure output themselves;
// cmd binaries build one from config (console or JSON) and hand it down.
package logging
