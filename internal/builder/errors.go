package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/avionicsdev/mach/internal/bundle"
)

// SubmoduleError reports that one or more of an instrument's submodules
// failed to build. The parent's own bundling pass is never attempted in this
// case, so the parent carries this error instead of a BundleError.
type SubmoduleError struct {
	Instrument  string
	Failed      []string
	Diagnostics []bundle.Diagnostic
}

// Error implements the error interface.
func (e *SubmoduleError) Error() string {
	return fmt.Sprintf("instrument %s: submodule build failed: %s", e.Instrument, strings.Join(e.Failed, ", "))
}

// BundleError reports that an instrument's own bundling pass failed.
type BundleError struct {
	Instrument  string
	Diagnostics []bundle.Diagnostic
}

// Error implements the error interface.
func (e *BundleError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("instrument %s: bundling failed", e.Instrument)
	}
	return fmt.Sprintf("instrument %s: bundling failed: %s", e.Instrument, e.Diagnostics[0].Text)
}

// WatchInitError reports that an instrument's initial build failed, so its
// watch session never started. The wrapped error is the SubmoduleError or
// BundleError describing the failed initial pass.
type WatchInitError struct {
	Instrument string
	Err        error
}

// Error implements the error interface.
func (e *WatchInitError) Error() string {
	return fmt.Sprintf("instrument %s: watch not started: %v", e.Instrument, e.Err)
}

// Unwrap exposes the failed initial build for errors.As chains.
func (e *WatchInitError) Unwrap() error {
	return e.Err
}

// diagnosticsOf extracts structured diagnostics from a bundling error,
// falling back to the error text when the backend reported nothing
// structured.
func diagnosticsOf(err error) []bundle.Diagnostic {
	var berr *bundle.BuildError
	if errors.As(err, &berr) && len(berr.Diagnostics) > 0 {
		return berr.Diagnostics
	}
	return []bundle.Diagnostic{{Text: err.Error()}}
}
