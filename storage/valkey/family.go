package valkey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/folio-works/adminguard/internal/util"
	"github.com/folio-works/adminguard/storage"
)

// ============================================================
// TokenFamilyStore Implementation
// ============================================================

// CreateFamily stores a new token family as a hash with TTL
func (s *Store) CreateFamily(ctx context.Context, family *storage.TokenFamily, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() { s.recordOperation(ctx, "create_family", err, start) }()

	if family == nil || family.FamilyID == "" {
		return fmt.Errorf("family id cannot be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("family ttl must be positive")
	}
	if err := validateStringLength(family.FamilyID, MaxIDLength, "family id"); err != nil {
		return err
	}

	generation := family.Generation
	if generation == 0 {
		generation = 1
	}
	createdAt := family.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err = s.client.Do(ctx,
		s.client.B().Eval().Script(luaCreateFamily).
			Numkeys(1).
			Key(s.familyKey(family.FamilyID)).
			Arg(family.UserID,
				family.CurrentTokenID,
				family.CurrentJTI,
				family.AccessJTI,
				strconv.Itoa(generation),
				unixMillis(createdAt),
				millis(ttl)).
			Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to create token family: %w", err)
	}

	s.logger.Debug("Created token family",
		"family_id", util.SafeTruncate(family.FamilyID, idLogLength),
		"ttl", ttl)
	return nil
}

// GetFamily reads a token family hash
func (s *Store) GetFamily(ctx context.Context, familyID string) (family *storage.TokenFamily, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, storage.ErrFamilyNotFound) {
			s.recordOperation(ctx, "get_family", nil, start)
			return
		}
		s.recordOperation(ctx, "get_family", err, start)
	}()

	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.familyKey(familyID)).Build()).AsStrMap()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrFamilyNotFound
		}
		return nil, fmt.Errorf("failed to get token family: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrFamilyNotFound
	}

	return familyFromHash(familyID, fields)
}

// RotateFamily performs the compare-and-swap in a Lua script
func (s *Store) RotateFamily(ctx context.Context, familyID, oldTokenID string, next storage.FamilyRotation, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() { s.recordOperation(ctx, "rotate_family", err, start) }()

	if ttl <= 0 {
		return fmt.Errorf("family ttl must be positive")
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRotateFamily).
			Numkeys(1).
			Key(s.familyKey(familyID)).
			Arg(oldTokenID,
				next.TokenID,
				next.RefreshJTI,
				next.AccessJTI,
				unixMillis(time.Now()),
				millis(ttl)).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to execute family rotation: %w", err)
	}

	switch result {
	case "OK":
		return nil
	case "NOT_FOUND":
		return storage.ErrFamilyNotFound
	case "REUSE":
		s.logger.Debug("Rotation rejected, token id is not current",
			"family_id", util.SafeTruncate(familyID, idLogLength))
		return storage.ErrReuseDetected
	default:
		return fmt.Errorf("unexpected rotation result %q", result)
	}
}

// InvalidateFamily deletes a token family
func (s *Store) InvalidateFamily(ctx context.Context, familyID string) (err error) {
	start := time.Now()
	defer func() { s.recordOperation(ctx, "invalidate_family", err, start) }()

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.familyKey(familyID)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to invalidate token family: %w", err)
	}

	s.logger.Debug("Invalidated token family", "family_id", util.SafeTruncate(familyID, idLogLength))
	return nil
}

func familyFromHash(familyID string, fields map[string]string) (*storage.TokenFamily, error) {
	generation, err := strconv.Atoi(fields["generation"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse family generation: %w", err)
	}

	family := &storage.TokenFamily{
		FamilyID:       familyID,
		UserID:         fields["userId"],
		CurrentTokenID: fields["currentTokenId"],
		CurrentJTI:     fields["currentJti"],
		AccessJTI:      fields["accessJti"],
		Generation:     generation,
	}
	if ms, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		family.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["updatedAt"], 10, 64); err == nil {
		family.UpdatedAt = time.UnixMilli(ms)
	}
	return family, nil
}
