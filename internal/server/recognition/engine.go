// Package recognition decides whether a device presenting a token (and
// optionally identity hints from prior session state) is known, needs to
// re-verify, or has never been seen.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/storage"
	"github.com/devicelink/devicelink/internal/validation"
)

// FreshnessWindow is how recently a record must have been verified for a
// match to authenticate without a new code.
const FreshnessWindow = 30 * 24 * time.Hour

// Outcome is the recognition decision.
type Outcome int

const (
	// OutcomeUnregistered means no record matched; the device is new.
	OutcomeUnregistered Outcome = iota
	// OutcomeNeedsVerification means a record matched but a fresh code
	// is required before the session can authenticate.
	OutcomeNeedsVerification
	// OutcomeAuthenticated means a fresh, linked record matched.
	OutcomeAuthenticated
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNeedsVerification:
		return "needs_verification"
	case OutcomeAuthenticated:
		return "authenticated"
	default:
		return "unregistered"
	}
}

// Hints carries optional identity context from a current or prior session.
// Hints gate the cross-identity strategy: with no hints a new device can
// never be silently attached to an existing account.
type Hints struct {
	UserGUID   string
	UserHandle string
	UserPhone  string
}

// Empty reports whether no hint is set.
func (h Hints) Empty() bool {
	return h.UserGUID == "" && h.UserHandle == "" && h.UserPhone == ""
}

// Result is the tagged recognition outcome. Handle/GUID are set for
// authenticated results; Handle/MaskedPhone for needs-verification ones.
type Result struct {
	Record       *models.DeviceRecord
	Handle       string
	GUID         string
	MaskedPhone  string
	Outcome      Outcome
	CrossBrowser bool
}

// Engine runs the multi-strategy recognition algorithm over the device
// record store.
type Engine struct {
	devices storage.DeviceStorage
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a recognition engine.
func NewEngine(devices storage.DeviceStorage, logger *slog.Logger) *Engine {
	return &Engine{
		devices: devices,
		logger:  logger,
		now:     time.Now,
	}
}

// Recognize runs the strategies in strict priority order: exact device-id
// match, then cross-identity match by guid/handle/phone, then unregistered.
// registrationFlow forces needs-verification on any match so that an
// "account already exists" confirmation can never auto-login.
// First contact from a well-formed unknown device id creates its empty
// record, whatever the hints later resolve to.
func (e *Engine) Recognize(ctx context.Context, deviceID string, hints Hints, registrationFlow bool) (*Result, error) {
	// Strategy 1: exact match. A malformed device id is not an error,
	// recognition degrades to the hint-based strategy.
	if validation.ValidDeviceID(deviceID) {
		record, err := e.devices.Get(ctx, deviceID)
		switch {
		case err == nil:
			if record.Linked() {
				e.logger.Debug("Exact device match", "device_id", deviceID, "user_guid", record.UserGUID)
				return e.decide(record, false, registrationFlow), nil
			}
			// An unlinked record is not a match; fall through.
		case errors.Is(err, storage.ErrDeviceNotFound):
			e.initRecord(ctx, deviceID, registrationFlow)
		default:
			return nil, fmt.Errorf("device store lookup failed: %w", err)
		}
	}

	// Strategy 2: cross-identity match, only with at least one hint.
	if !hints.Empty() {
		record, err := e.crossMatch(ctx, hints)
		if err != nil {
			return nil, err
		}
		if record != nil {
			e.logger.Debug("Cross-identity match",
				"device_id", deviceID,
				"matched_device", record.DeviceID,
				"user_guid", record.UserGUID)
			return e.decide(record, true, registrationFlow), nil
		}
	}

	// Strategy 3: nothing matched.
	return &Result{Outcome: OutcomeUnregistered}, nil
}

// initRecord creates the empty record for a first-contact device id and
// opens its audit log. Best effort: a failure here degrades to
// recognition-only, the record gets created at link time instead.
func (e *Engine) initRecord(ctx context.Context, deviceID string, registrationFlow bool) {
	record := &models.DeviceRecord{
		DeviceID:  deviceID,
		CreatedAt: e.now().UTC(),
	}
	if err := e.devices.Put(ctx, record); err != nil {
		e.logger.Warn("Failed to create device record", "device_id", deviceID, "error", err)
		return
	}
	if err := e.devices.AppendSyncState(ctx, deviceID, models.SyncStateInitialized); err != nil {
		e.logger.Warn("Failed to append sync state", "device_id", deviceID, "error", err)
	}
	if registrationFlow {
		if err := e.devices.AppendSyncState(ctx, deviceID, models.SyncStatePendingRegistration); err != nil {
			e.logger.Warn("Failed to append sync state", "device_id", deviceID, "error", err)
		}
	}
}

// crossMatch searches linked records by guid, then handle, then phone.
// When several records match one hint, the most recently verified wins.
func (e *Engine) crossMatch(ctx context.Context, hints Hints) (*models.DeviceRecord, error) {
	preds := []struct {
		pred storage.DevicePredicate
		hint string
	}{
		{hint: hints.UserGUID, pred: func(r *models.DeviceRecord) bool { return r.UserGUID == hints.UserGUID }},
		{hint: hints.UserHandle, pred: func(r *models.DeviceRecord) bool { return r.UserHandle == hints.UserHandle }},
		{hint: hints.UserPhone, pred: func(r *models.DeviceRecord) bool { return r.UserPhone == hints.UserPhone }},
	}

	for _, p := range preds {
		if p.hint == "" {
			continue
		}
		pred := p.pred
		records, err := e.devices.Scan(ctx, func(r *models.DeviceRecord) bool {
			return r.Linked() && pred(r)
		})
		if err != nil {
			return nil, fmt.Errorf("device store scan failed: %w", err)
		}
		if len(records) > 0 {
			return mostRecentlyVerified(records), nil
		}
	}

	return nil, nil
}

func mostRecentlyVerified(records []*models.DeviceRecord) *models.DeviceRecord {
	best := records[0]
	for _, r := range records[1:] {
		if r.LastVerifiedAt == nil {
			continue
		}
		if best.LastVerifiedAt == nil || r.LastVerifiedAt.After(*best.LastVerifiedAt) {
			best = r
		}
	}
	return best
}

// decide applies the freshness window to a matched record. The check is
// identical for exact and cross matches: a stale exact match still needs
// re-verification.
func (e *Engine) decide(record *models.DeviceRecord, cross, registrationFlow bool) *Result {
	result := &Result{
		Record:       record,
		Handle:       record.UserHandle,
		CrossBrowser: cross,
	}

	if !registrationFlow && record.VerifiedWithin(FreshnessWindow, e.now()) {
		result.Outcome = OutcomeAuthenticated
		result.GUID = record.UserGUID
		return result
	}

	result.Outcome = OutcomeNeedsVerification
	result.MaskedPhone = validation.MaskPhone(record.UserPhone)
	return result
}
