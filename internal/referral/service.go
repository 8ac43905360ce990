package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kollege/referralnet/internal/domain"
	"github.com/kollege/referralnet/internal/repository"
)

// Store is the storage contract required by the referral service.
type Store interface {
	CreateRootMember(ctx context.Context, m domain.Member) error
	CreateSponsoredMember(ctx context.Context, m domain.Member, sponsorCode string) (sponsorID string, level int, err error)
	UpdateReferralCode(ctx context.Context, memberID, code string, now time.Time) error
	FindMemberByID(ctx context.Context, memberID string) (domain.Member, error)
	FindMemberByCode(ctx context.Context, code string) (domain.Member, error)
	FindMemberByEmail(ctx context.Context, email string) (domain.Member, error)
	DirectRecruits(ctx context.Context, memberID string) ([]domain.MemberSummary, error)
	IndirectRecruits(ctx context.Context, memberID string) ([]domain.MemberSummary, error)
}

// RegisterInput carries the fields needed to enroll a member. SponsorCode is
// empty for root members.
type RegisterInput struct {
	Name        string
	Email       string
	SponsorCode string
}

// Tree is a member's two-level downline: direct recruits and their recruits.
type Tree struct {
	Member   domain.Member
	Direct   []domain.MemberSummary
	Indirect []domain.MemberSummary
}

// Service implements member enrollment, referral code lifecycle, and
// downline queries.
type Service struct {
	store        Store
	linkBase     string
	codeAttempts int
	retries      uint64
	nowFn        func() time.Time
	newID        func() string
	newCode      func() (string, error)
}

// NewService constructs a referral Service.
func NewService(store Store, linkBase string, codeAttempts, conflictRetries int) *Service {
	if codeAttempts < 1 {
		codeAttempts = 1
	}
	if conflictRetries < 0 {
		conflictRetries = 0
	}
	return &Service{
		store:        store,
		linkBase:     strings.TrimRight(linkBase, "/"),
		codeAttempts: codeAttempts,
		retries:      uint64(conflictRetries),
		nowFn:        time.Now,
		newID:        func() string { return uuid.NewString() },
		newCode:      generateCode,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *Service) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

// WithIDGenerator overrides identifier generation (used primarily in tests).
func (s *Service) WithIDGenerator(fn func() string) {
	if fn != nil {
		s.newID = fn
	}
}

// WithCodeGenerator overrides referral code generation (used primarily in tests).
func (s *Service) WithCodeGenerator(fn func() (string, error)) {
	if fn != nil {
		s.newCode = fn
	}
}

// Register enrolls a new member, optionally under a sponsor's referral code.
// The create is a single conditional write; when its guards reject the row,
// the failure is re-read and classified, and true races are retried with
// exponential backoff before surfacing domain.ErrConflict.
func (s *Service) Register(ctx context.Context, input RegisterInput) (domain.Member, error) {
	name := sanitizeName(input.Name)
	email := normalizeEmail(input.Email)
	sponsorCode := strings.TrimSpace(strings.ToUpper(input.SponsorCode))

	if name == "" || email == "" || !strings.Contains(email, "@") {
		return domain.Member{}, fmt.Errorf("%w: name and a valid email are required", domain.ErrInvalidReferral)
	}

	if sponsorCode != "" {
		sponsor, err := s.store.FindMemberByCode(ctx, sponsorCode)
		if err != nil {
			return domain.Member{}, err
		}
		if sponsor.Email == email {
			return domain.Member{}, fmt.Errorf("%w: members cannot refer themselves", domain.ErrInvalidReferral)
		}
		if !sponsor.CanAddRecruit() {
			return domain.Member{}, domain.ErrFanOutExceeded
		}
	}

	if _, err := s.store.FindMemberByEmail(ctx, email); err == nil {
		return domain.Member{}, domain.ErrDuplicateEmail
	} else if !errors.Is(err, domain.ErrMemberNotFound) {
		return domain.Member{}, err
	}

	var created domain.Member
	attempt := func() error {
		member, err := s.createOnce(ctx, name, email, sponsorCode)
		if err != nil {
			return err
		}
		created = member
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries)
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return domain.Member{}, err
	}
	return created, nil
}

// createOnce performs one conditional create attempt, regenerating the code
// on collision. Terminal failures come back wrapped in backoff.Permanent so
// only genuine races are retried.
func (s *Service) createOnce(ctx context.Context, name, email, sponsorCode string) (domain.Member, error) {
	now := s.nowFn().UTC()
	member := domain.Member{
		ID:         s.newID(),
		Name:       name,
		Email:      email,
		Level:      1,
		Active:     true,
		CreatedAt:  now,
		LastActive: now,
	}

	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.Member{}, backoff.Permanent(err)
		}
		member.ReferralCode = code

		if sponsorCode == "" {
			err = s.store.CreateRootMember(ctx, member)
			if err == nil {
				return member, nil
			}
		} else {
			var sponsorID string
			var level int
			sponsorID, level, err = s.store.CreateSponsoredMember(ctx, member, sponsorCode)
			if err == nil {
				member.SponsorID = sponsorID
				member.Level = level
				return member, nil
			}
		}

		if !errors.Is(err, repository.ErrNoRowsWritten) {
			return domain.Member{}, backoff.Permanent(err)
		}

		cause := s.classifyRejection(ctx, member, sponsorCode)
		switch {
		case errors.Is(cause, errCodeCollision):
			// Regenerate and try again.
		case errors.Is(cause, domain.ErrConflict):
			return domain.Member{}, cause
		default:
			return domain.Member{}, backoff.Permanent(cause)
		}
	}
	return domain.Member{}, backoff.Permanent(domain.ErrCodeSpaceExhausted)
}

// errCodeCollision marks a rejection caused by the generated referral code
// already existing. Callers regenerate rather than fail.
var errCodeCollision = errors.New("referral code collision")

// classifyRejection determines why a conditional create wrote nothing.
func (s *Service) classifyRejection(ctx context.Context, member domain.Member, sponsorCode string) error {
	if _, err := s.store.FindMemberByEmail(ctx, member.Email); err == nil {
		return domain.ErrDuplicateEmail
	} else if !errors.Is(err, domain.ErrMemberNotFound) {
		return err
	}

	if _, err := s.store.FindMemberByCode(ctx, member.ReferralCode); err == nil {
		return errCodeCollision
	} else if !errors.Is(err, domain.ErrUnknownReferralCode) {
		return err
	}

	if sponsorCode != "" {
		sponsor, err := s.store.FindMemberByCode(ctx, sponsorCode)
		if err != nil {
			return err
		}
		if !sponsor.CanAddRecruit() {
			return domain.ErrFanOutExceeded
		}
	}
	return domain.ErrConflict
}

// ReissueCode replaces the member's referral code with a freshly generated
// one. The previous code stops resolving immediately.
func (s *Service) ReissueCode(ctx context.Context, memberID string) (domain.Member, error) {
	member, err := s.store.FindMemberByID(ctx, memberID)
	if err != nil {
		return domain.Member{}, err
	}

	now := s.nowFn().UTC()
	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.Member{}, err
		}
		err = s.store.UpdateReferralCode(ctx, memberID, code, now)
		if err == nil {
			member.ReferralCode = code
			member.LastActive = now
			return member, nil
		}
		if !errors.Is(err, repository.ErrNoRowsWritten) {
			return domain.Member{}, err
		}
	}
	return domain.Member{}, domain.ErrCodeSpaceExhausted
}

// GetMember resolves a member by identifier.
func (s *Service) GetMember(ctx context.Context, memberID string) (domain.Member, error) {
	return s.store.FindMemberByID(ctx, memberID)
}

// ResolveCode resolves a member by referral code.
func (s *Service) ResolveCode(ctx context.Context, code string) (domain.Member, error) {
	code = strings.TrimSpace(strings.ToUpper(code))
	if !ValidCode(code) {
		return domain.Member{}, domain.ErrUnknownReferralCode
	}
	return s.store.FindMemberByCode(ctx, code)
}

// DownlineTree returns the member together with its direct and level-2
// recruits. Deeper levels never participate in commissions and are not
// exposed.
func (s *Service) DownlineTree(ctx context.Context, memberID string) (Tree, error) {
	member, err := s.store.FindMemberByID(ctx, memberID)
	if err != nil {
		return Tree{}, err
	}
	direct, err := s.store.DirectRecruits(ctx, memberID)
	if err != nil {
		return Tree{}, err
	}
	indirect, err := s.store.IndirectRecruits(ctx, memberID)
	if err != nil {
		return Tree{}, err
	}
	return Tree{Member: member, Direct: direct, Indirect: indirect}, nil
}

// ReferralLink renders the shareable enrollment URL for a code.
func (s *Service) ReferralLink(code string) string {
	return s.linkBase + "/ref/" + code
}
