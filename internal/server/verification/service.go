// Package verification implements the short-lived code challenge flow and
// the linking step it drives: unregistered -> awaiting code -> linked.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/devicelink/devicelink/internal/models"
	"github.com/devicelink/devicelink/internal/server/locker"
	"github.com/devicelink/devicelink/internal/server/sms"
	"github.com/devicelink/devicelink/internal/server/storage"
	"github.com/devicelink/devicelink/internal/validation"
)

// CodeTTL is the challenge lifetime. A code older than this is gone.
const CodeTTL = 15 * time.Minute

const codeDigits = 6

// ErrHandleRequired indicates a registration consume without a handle for
// the new account.
var ErrHandleRequired = errors.New("handle required for registration")

// Service issues and consumes verification challenges.
type Service struct {
	cache   ChallengeCache
	users   storage.UserStorage
	devices storage.DeviceStorage
	sender  sms.Sender
	logger  *slog.Logger
	now     func() time.Time

	// phoneLocks serializes consumption per phone, so two tabs racing the
	// same code get at most one successful transition.
	phoneLocks *locker.Locker
}

// NewService creates a verification service.
func NewService(cache ChallengeCache, users storage.UserStorage, devices storage.DeviceStorage, sender sms.Sender, logger *slog.Logger) *Service {
	return &Service{
		cache:      cache,
		users:      users,
		devices:    devices,
		sender:     sender,
		logger:     logger,
		now:        time.Now,
		phoneLocks: locker.New(),
	}
}

// Issue generates a 6-digit code, caches it (overwriting any live
// challenge for the phone) and hands it to the SMS sender. SMS failure is
// logged, not retried, and not surfaced: the challenge stays valid.
func (s *Service) Issue(ctx context.Context, rawPhone string) error {
	phone, err := validation.NormalizePhone(rawPhone)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	if err := s.cache.Put(ctx, phone, code, CodeTTL); err != nil {
		return err
	}

	message := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(CodeTTL.Minutes()))
	if err := s.sender.Send(ctx, phone, message); err != nil {
		s.logger.Error("SMS delivery failed", "phone", phone, "error", err)
	}

	s.logger.Info("Verification challenge issued", "phone", phone)
	return nil
}

// ConsumeParams carries everything a consume attempt knows about the
// caller: the submitted code plus the device and registration context.
type ConsumeParams struct {
	Phone        string
	Code         string
	DeviceID     string
	Handle       string // required when registering a new user
	Registration bool
}

// ConsumeResult reports a successful verification.
type ConsumeResult struct {
	User        *models.User
	Linked      bool // a device record was linked to the user
	UserCreated bool // a new user identity was created
}

// Consume compares the submitted code against the live challenge and, on
// match, links the device record (creating the user for a new
// registration) and stamps last_verified_at. The challenge is deleted on
// success, so a replay within the TTL fails with ErrChallengeNotFound.
// On mismatch nothing changes and the challenge stays live.
func (s *Service) Consume(ctx context.Context, params ConsumeParams) (*ConsumeResult, error) {
	phone, err := validation.NormalizePhone(params.Phone)
	if err != nil {
		return nil, err
	}

	s.phoneLocks.Lock(phone)
	defer s.phoneLocks.Unlock(phone)

	cached, err := s.cache.Get(ctx, phone)
	if err != nil {
		return nil, err
	}

	if cached != params.Code {
		s.logger.Warn("Verification code mismatch", "phone", phone)
		return nil, ErrCodeMismatch
	}

	// Consumed: delete so the same code cannot be replayed within the TTL.
	if err := s.cache.Delete(ctx, phone); err != nil {
		s.logger.Warn("Failed to delete consumed challenge", "phone", phone, "error", err)
	}

	user, created, err := s.findOrCreateUser(ctx, phone, params)
	if err != nil {
		return nil, err
	}

	linked, err := s.linkDevice(ctx, user, created, params.DeviceID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Verification consumed",
		"phone", phone,
		"user_guid", user.GUID,
		"user_created", created,
		"device_linked", linked)

	return &ConsumeResult{User: user, Linked: linked, UserCreated: created}, nil
}

// findOrCreateUser resolves the verified phone to a user, creating one for
// a registration flow with a handle.
func (s *Service) findOrCreateUser(ctx context.Context, phone string, params ConsumeParams) (*models.User, bool, error) {
	user, err := s.users.GetUserByPhone(ctx, phone)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, false, fmt.Errorf("user lookup failed: %w", err)
	}

	if params.Handle == "" {
		return nil, false, ErrHandleRequired
	}
	if err := validation.ValidateHandle(params.Handle); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	user = &models.User{
		GUID:        uuid.New().String(),
		Handle:      params.Handle,
		Phone:       phone,
		AuthVersion: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Uniqueness is enforced by the store; ErrHandleTaken surfaces as a
	// conflict the caller can turn into "is this your account?".
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, false, err
	}

	return user, true, nil
}

// linkDevice links (or re-verifies) the device record for the verified
// user and appends the matching sync-state entry.
func (s *Service) linkDevice(ctx context.Context, user *models.User, userCreated bool, deviceID string) (bool, error) {
	if !validation.ValidDeviceID(deviceID) {
		// No usable device token; verification still succeeds, the
		// session just has nothing to link.
		return false, nil
	}

	// The record usually already exists: recognition creates it empty on
	// first contact. Consume without a prior recognize still works.
	record, err := s.devices.Get(ctx, deviceID)
	isNew := false
	switch {
	case errors.Is(err, storage.ErrDeviceNotFound):
		record = &models.DeviceRecord{DeviceID: deviceID}
		isNew = true
	case err != nil:
		return false, fmt.Errorf("device lookup failed: %w", err)
	}

	wasLinked := record.Linked()
	record.Link(user.GUID, user.Handle, user.Phone, s.now().UTC())
	if err := s.devices.Put(ctx, record); err != nil {
		return false, fmt.Errorf("failed to store device record: %w", err)
	}

	if isNew {
		if err := s.devices.AppendSyncState(ctx, deviceID, models.SyncStateInitialized); err != nil {
			s.logger.Warn("Failed to append sync state", "device_id", deviceID, "error", err)
		}
	}

	status := models.SyncStateLinkedToUser
	if !wasLinked && !userCreated {
		// Known user appearing on a device not previously bound to them.
		status = models.SyncStateCrossBrowserLinked
	}
	if err := s.devices.AppendSyncState(ctx, deviceID, status); err != nil {
		s.logger.Warn("Failed to append sync state", "device_id", deviceID, "error", err)
	}

	return true, nil
}

// generateCode produces a 6-digit numeric code from crypto/rand.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
