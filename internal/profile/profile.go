// Package profile applies member profile edits and keeps the derived
// completion percentage in step with them.
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/dayboard/internal/completion"
	"github.com/dukerupert/dayboard/internal/model"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/store"
)

// ErrInvalidField wraps every validation failure of a Patch.
var ErrInvalidField = errors.New("invalid profile field")

const (
	maxBioLength  = 500
	maxListLength = 20
	maxItemLength = 60
)

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)
	languagePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)
)

// Patch is a partial profile update. Nil fields are left alone; an empty
// string clears an optional field.
type Patch struct {
	DisplayName        *string                  `json:"display_name"`
	PreferredName      *string                  `json:"preferred_name"`
	Phone              *string                  `json:"phone"`
	DateOfBirth        *string                  `json:"date_of_birth"`
	Bio                *string                  `json:"bio"`
	Timezone           *string                  `json:"timezone"`
	Language           *string                  `json:"language"`
	DietaryPreferences *[]string                `json:"dietary_preferences"`
	Allergies          *[]string                `json:"allergies"`
	AvatarRef          *string                  `json:"avatar_ref"`
	Notifications      *model.NotificationPrefs `json:"notifications"`
}

// Recompute sets p's completion percentage from the checklist. If scoring
// fails the previous percentage is kept and ok is false.
func Recompute(p *model.Profile, c completion.Checklist) (ok bool) {
	previous := p.CompletionPercentage
	defer func() {
		if r := recover(); r != nil {
			p.CompletionPercentage = previous
			ok = false
		}
	}()
	p.CompletionPercentage = c.Score(p)
	return true
}

type Service struct {
	profiles  *store.ProfileStore
	checklist completion.Checklist
	logger    *slog.Logger

	// OnScoreFailure is called when the scorer fails and the previous
	// percentage is kept.
	OnScoreFailure func(userID int64)
	// OnChange is called after a profile edit commits.
	OnChange func(p *model.Profile)
}

func NewService(profiles *store.ProfileStore, checklist completion.Checklist, logger *slog.Logger) *Service {
	if checklist == nil {
		checklist = completion.Default
	}
	return &Service{profiles: profiles, checklist: checklist, logger: logger}
}

func (s *Service) Checklist() completion.Checklist {
	return s.checklist
}

// Get returns the profile, or nil if the user has none.
func (s *Service) Get(userID int64) (*model.Profile, error) {
	return s.profiles.GetByUserID(userID)
}

// Update validates and applies patch, recomputing the completion percentage
// inside the same transaction as the field changes.
func (s *Service) Update(userID int64, patch Patch) (*model.Profile, error) {
	p, err := s.profiles.Mutate(userID, func(p *model.Profile) error {
		if err := apply(p, patch); err != nil {
			return err
		}
		if !Recompute(p, s.checklist) {
			s.logger.Error("completion scoring failed, keeping previous percentage",
				"user_id", userID, "percentage", p.CompletionPercentage)
			if s.OnScoreFailure != nil {
				s.OnScoreFailure(userID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.OnChange != nil {
		s.OnChange(p)
	}
	return p, nil
}

// Ensure returns the user's profile, creating it on first sign-in. Users
// whose verified email is listed in superAdmins start as super_admin.
func (s *Service) Ensure(u *model.User, emailVerified bool, superAdmins []string) (*model.Profile, bool, error) {
	p, err := s.profiles.GetByUserID(u.ID)
	if err != nil {
		return nil, false, err
	}
	if p != nil {
		return p, false, nil
	}

	role := permission.RoleMember
	if slices.ContainsFunc(superAdmins, func(e string) bool { return strings.EqualFold(e, u.Email) }) {
		if emailVerified {
			role = permission.RoleSuperAdmin
		} else {
			s.logger.Warn("super admin email not verified, starting as member", "user_id", u.ID)
		}
	}

	seed := &model.Profile{DisplayName: strings.TrimSpace(u.Name)}
	Recompute(seed, s.checklist)

	p, err = s.profiles.Create(u.ID, seed.DisplayName, string(role), seed.CompletionPercentage)
	if err != nil {
		return nil, false, fmt.Errorf("create profile: %w", err)
	}
	s.logger.Info("profile created", "user_id", u.ID, "role", role)
	return p, true, nil
}

// RecalculateAll rescores every stored profile and returns how many
// percentages changed.
func (s *Service) RecalculateAll() (int, error) {
	profiles, err := s.profiles.List()
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range profiles {
		p := &profiles[i]
		before := p.CompletionPercentage
		if !Recompute(p, s.checklist) || p.CompletionPercentage == before {
			continue
		}
		if err := s.profiles.SetCompletion(p.UserID, p.CompletionPercentage); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func apply(p *model.Profile, patch Patch) error {
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			return fmt.Errorf("%w: display_name is required", ErrInvalidField)
		}
		p.DisplayName = name
	}
	p.PreferredName = optional(p.PreferredName, patch.PreferredName)

	if patch.Phone != nil {
		if v := strings.TrimSpace(*patch.Phone); v != "" && !phonePattern.MatchString(v) {
			return fmt.Errorf("%w: phone", ErrInvalidField)
		}
		p.Phone = optional(p.Phone, patch.Phone)
	}
	if patch.DateOfBirth != nil {
		if v := strings.TrimSpace(*patch.DateOfBirth); v != "" {
			dob, err := time.Parse(time.DateOnly, v)
			if err != nil || dob.After(time.Now()) {
				return fmt.Errorf("%w: date_of_birth must be a past YYYY-MM-DD date", ErrInvalidField)
			}
		}
		p.DateOfBirth = optional(p.DateOfBirth, patch.DateOfBirth)
	}
	if patch.Bio != nil {
		if len([]rune(strings.TrimSpace(*patch.Bio))) > maxBioLength {
			return fmt.Errorf("%w: bio is longer than %d characters", ErrInvalidField, maxBioLength)
		}
		p.Bio = optional(p.Bio, patch.Bio)
	}
	if patch.Timezone != nil {
		if v := strings.TrimSpace(*patch.Timezone); v != "" {
			if _, err := time.LoadLocation(v); err != nil {
				return fmt.Errorf("%w: unknown timezone %q", ErrInvalidField, v)
			}
		}
		p.Timezone = optional(p.Timezone, patch.Timezone)
	}
	if patch.Language != nil {
		if v := strings.TrimSpace(*patch.Language); v != "" && !languagePattern.MatchString(v) {
			return fmt.Errorf("%w: language", ErrInvalidField)
		}
		p.Language = optional(p.Language, patch.Language)
	}
	if patch.DietaryPreferences != nil {
		list, err := cleanList("dietary_preferences", *patch.DietaryPreferences)
		if err != nil {
			return err
		}
		p.DietaryPreferences = list
	}
	if patch.Allergies != nil {
		list, err := cleanList("allergies", *patch.Allergies)
		if err != nil {
			return err
		}
		p.Allergies = list
	}
	p.AvatarRef = optional(p.AvatarRef, patch.AvatarRef)
	if patch.Notifications != nil {
		p.Notifications = *patch.Notifications
	}
	return nil
}

// optional applies a patch value to an optional field: nil keeps current,
// blank clears it.
func optional(current, patch *string) *string {
	if patch == nil {
		return current
	}
	v := strings.TrimSpace(*patch)
	if v == "" {
		return nil
	}
	return &v
}

// cleanList trims entries, drops blanks and duplicates, and keeps order.
func cleanList(field string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		item := strings.TrimSpace(raw)
		if item == "" || slices.Contains(out, item) {
			continue
		}
		if len([]rune(item)) > maxItemLength {
			return nil, fmt.Errorf("%w: %s entry too long", ErrInvalidField, field)
		}
		out = append(out, item)
	}
	if len(out) > maxListLength {
		return nil, fmt.Errorf("%w: %s has more than %d entries", ErrInvalidField, field, maxListLength)
	}
	return out, nil
}
