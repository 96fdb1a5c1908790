package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-session/internal/models"
)

const profileColumns = `id, name, email, avatar_url, is_online, last_seen`

// ProfileRepository abstracts profile persistence.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	ListProfilesExcept(ctx context.Context, userID string) ([]models.Profile, error)
	SearchProfiles(ctx context.Context, userID string, term string) ([]models.Profile, error)
	EnsureProfile(ctx context.Context, profile models.Profile) error
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
	ExpirePresence(ctx context.Context, staleBefore time.Time) (int64, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetProfile fetches a single profile.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var profile models.Profile
	err := r.db.GetContext(ctx, &profile, `SELECT `+profileColumns+` FROM profiles WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	return profile, err
}

// ListProfilesExcept returns every profile other than the given user.
func (r *ProfileRepo) ListProfilesExcept(ctx context.Context, userID string) ([]models.Profile, error) {
	profiles := []models.Profile{}
	err := r.db.SelectContext(ctx, &profiles, `SELECT `+profileColumns+` FROM profiles WHERE id<>$1 ORDER BY name ASC, id ASC`, userID)
	return profiles, err
}

// SearchProfiles matches name or email case-insensitively, excluding the caller.
func (r *ProfileRepo) SearchProfiles(ctx context.Context, userID string, term string) ([]models.Profile, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	profiles := []models.Profile{}
	err := r.db.SelectContext(ctx, &profiles, `SELECT `+profileColumns+` FROM profiles
        WHERE id<>$1 AND (LOWER(name) LIKE $2 OR LOWER(email) LIKE $2)
        ORDER BY name ASC, id ASC`, userID, pattern)
	return profiles, err
}

// EnsureProfile inserts the profile when it does not exist. Existing rows are
// left untouched.
func (r *ProfileRepo) EnsureProfile(ctx context.Context, profile models.Profile) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO profiles (id, name, email, avatar_url) VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING`, profile.ID, profile.Name, profile.Email, profile.AvatarURL)
	return err
}

// SetPresence writes the online flag and refreshes last_seen.
func (r *ProfileRepo) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE profiles SET is_online=$2, last_seen=$3 WHERE id=$1`, userID, online, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ExpirePresence marks online profiles offline when last_seen is older than
// staleBefore. last_seen is kept as the last observed activity.
func (r *ProfileRepo) ExpirePresence(ctx context.Context, staleBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE profiles SET is_online=FALSE WHERE is_online AND last_seen < $1`, staleBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
