package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	accountCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "account_cache_hits_total",
		Help: "Account record cache hits by record kind",
	}, []string{"kind"})

	accountCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "account_cache_misses_total",
		Help: "Account record cache misses by record kind",
	}, []string{"kind"})

	accountDecryptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "account_decrypt_failures_total",
		Help: "Saved cards skipped because they failed to decrypt",
	})
)

// Backend is the account API the service reads from. *Client implements it.
type Backend interface {
	SavedCardRecords(ctx context.Context, userID string) ([]EncryptedCard, error)
	Eligibility(ctx context.Context, req EligibilityRequest) (Eligibility, error)
}

// Service serves saved cards and eligibility from per-user records.
type Service struct {
	backend   Backend
	decrypter Decrypter
	logger    zerolog.Logger

	cards       *RecordCache[[]SavedCard]
	eligibility *RecordCache[Eligibility]
	group       singleflight.Group

	mu          sync.RWMutex
	currentUser string
}

// NewService creates an account service.
func NewService(backend Backend, decrypter Decrypter, logger zerolog.Logger) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("account backend is required")
	}
	if decrypter == nil {
		return nil, fmt.Errorf("decrypter is required")
	}
	return &Service{
		backend:     backend,
		decrypter:   decrypter,
		logger:      logger,
		cards:       NewRecordCache[[]SavedCard](),
		eligibility: NewRecordCache[Eligibility](),
	}, nil
}

// SetCurrentUser sets the session user. A change of user clears every
// record.
func (s *Service) SetCurrentUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentUser == userID {
		return
	}
	previous := s.currentUser
	s.currentUser = userID
	s.cards.Clear()
	s.eligibility.Clear()

	s.logger.Info().
		Str("previous_user", previous).
		Str("user", userID).
		Msg("Session user changed, account records cleared")
}

// CurrentUser returns the session user.
func (s *Service) CurrentUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser
}

func (s *Service) isCurrent(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser == userID
}

// SavedCards returns the user's decrypted saved cards. userID becomes the
// session user. On failure it returns an empty slice alongside the error.
func (s *Service) SavedCards(ctx context.Context, userID string) ([]SavedCard, error) {
	if userID == "" {
		return []SavedCard{}, fmt.Errorf("user id is required")
	}
	s.SetCurrentUser(userID)

	if cards, ok := s.cards.Get(userID, userID, ""); ok {
		accountCacheHits.WithLabelValues("cards").Inc()
		return cards, nil
	}
	accountCacheMisses.WithLabelValues("cards").Inc()

	v, err, shared := s.group.Do("cards:"+userID, func() (any, error) {
		return s.fetchCards(ctx, userID)
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("user", userID).
			Msg("Saved cards unavailable")
		return []SavedCard{}, fmt.Errorf("saved cards of %s: %w", userID, err)
	}
	if shared {
		s.logger.Debug().Str("user", userID).Msg("Saved cards fetch shared")
	}
	return v.([]SavedCard), nil
}

func (s *Service) fetchCards(ctx context.Context, userID string) ([]SavedCard, error) {
	records, err := s.backend.SavedCardRecords(ctx, userID)
	if err != nil {
		return nil, err
	}

	cards := make([]SavedCard, 0, len(records))
	for _, record := range records {
		card, err := s.decrypter.Decrypt(ctx, record.Payload)
		if err != nil {
			accountDecryptFailures.Inc()
			s.logger.Warn().
				Err(err).
				Str("user", userID).
				Str("card_id", record.ID).
				Msg("Skipping card that failed to decrypt")
			continue
		}
		if card.ID == "" {
			card.ID = record.ID
		}
		cards = append(cards, card)
	}

	if s.isCurrent(userID) {
		s.cards.Set(userID, userID, "", cards)
	}
	return cards, nil
}

// InvalidateSavedCards drops the cached saved cards of userID.
func (s *Service) InvalidateSavedCards(userID string) {
	s.cards.Delete(userID)
	s.logger.Debug().Str("user", userID).Msg("Saved cards invalidated")
}

// Eligibility returns the promotional eligibility of req. req.UserID becomes
// the session user. On failure it returns the zero Eligibility alongside the
// error.
func (s *Service) Eligibility(ctx context.Context, req EligibilityRequest) (Eligibility, error) {
	if req.UserID == "" {
		return Eligibility{}, fmt.Errorf("user id is required")
	}
	s.SetCurrentUser(req.UserID)

	key := req.Key()
	if eligibility, ok := s.eligibility.Get(req.UserID, req.UserID, key); ok {
		accountCacheHits.WithLabelValues("eligibility").Inc()
		return eligibility, nil
	}
	accountCacheMisses.WithLabelValues("eligibility").Inc()

	v, err, _ := s.group.Do("eligibility:"+req.UserID+"|"+key, func() (any, error) {
		eligibility, err := s.backend.Eligibility(ctx, req)
		if err != nil {
			return Eligibility{}, err
		}
		if s.isCurrent(req.UserID) {
			s.eligibility.Set(req.UserID, req.UserID, key, eligibility)
		}
		return eligibility, nil
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("user", req.UserID).
			Str("key", key).
			Msg("Eligibility unavailable")
		return Eligibility{}, fmt.Errorf("eligibility of %s: %w", req.UserID, err)
	}
	return v.(Eligibility), nil
}

// Clear removes every record without changing the session user.
func (s *Service) Clear() {
	s.cards.Clear()
	s.eligibility.Clear()
}
