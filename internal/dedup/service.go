package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/errors"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/repository"
	"github.com/thefortaiagency/aether-insight/pkg/remote"
)

// Kinds of import candidates
const (
	KindWrestler = "wrestler"
	KindMatch    = "match"
)

// DefaultTopN is how many candidates a decision carries
const DefaultTopN = 3

// Store is the local persistence dedup reads and writes
type Store interface {
	repository.WrestlerRepository
	repository.ReviewRepository
	repository.MatchRepository
}

// Decision is the outcome of comparing one candidate against known records
type Decision struct {
	Outcome    models.DedupOutcome     `json:"outcome"`
	Confidence float64                 `json:"confidence"`
	MatchedID  string                  `json:"matched_id,omitempty"`
	Candidates []models.CandidateMatch `json:"candidates"`
	ReviewID   string                  `json:"review_id,omitempty"`
}

// BatchResult is the decision for one entry of a batch
type BatchResult struct {
	Index     int                    `json:"index"`
	Candidate models.ImportCandidate `json:"candidate"`
	Decision  Decision               `json:"decision"`
}

// Service classifies imported wrestlers and matches against the remote
// roster and match list. The local cache is used when the remote is
// unreachable.
type Service struct {
	client remote.Client
	repo   Store
	bus    *bus.Bus
	log    logger.Logger
	topN   int
	now    func() time.Time
}

// NewService creates a dedup service
func NewService(client remote.Client, repo Store, b *bus.Bus, log logger.Logger) *Service {
	return &Service{
		client: client,
		repo:   repo,
		bus:    b,
		log:    log,
		topN:   DefaultTopN,
		now:    time.Now,
	}
}

// MatchWrestler classifies a wrestler candidate
func (s *Service) MatchWrestler(ctx context.Context, c models.ImportCandidate) (*Decision, error) {
	roster, err := s.roster(ctx)
	if err != nil {
		return nil, err
	}
	d := s.decideWrestler(c, roster)
	if err := s.review(ctx, KindWrestler, c, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// MatchDuplicate classifies a match candidate. Besides similar names, a
// duplicate must have the same weight class and the same final score.
func (s *Service) MatchDuplicate(ctx context.Context, c models.ImportCandidate) (*Decision, error) {
	known, err := s.matches(ctx, c.WeightClass)
	if err != nil {
		return nil, err
	}
	d := s.decideMatch(c, known)
	if err := s.review(ctx, KindMatch, c, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ClassifyBatch classifies every candidate, loading the roster and match
// list once. Nothing is written; SaveReviewsTx persists the review band.
func (s *Service) ClassifyBatch(ctx context.Context, candidates []models.ImportCandidate) ([]BatchResult, error) {
	var (
		roster []models.RosterWrestler
		known  []remote.RemoteMatch
		err    error
	)
	results := make([]BatchResult, 0, len(candidates))
	for i, c := range candidates {
		var d Decision
		switch c.Kind {
		case KindMatch:
			if known == nil {
				if known, err = s.matches(ctx, 0); err != nil {
					return nil, err
				}
			}
			d = s.decideMatch(c, known)
		case KindWrestler, "":
			if roster == nil {
				if roster, err = s.roster(ctx); err != nil {
					return nil, err
				}
			}
			c.Kind = KindWrestler
			d = s.decideWrestler(c, roster)
		default:
			return nil, errors.InvalidInputf("candidate %d has unknown kind %q", i, c.Kind)
		}
		results = append(results, BatchResult{Index: i, Candidate: c, Decision: d})
	}
	return results, nil
}

// ListReviews returns items awaiting operator resolution
func (s *Service) ListReviews(ctx context.Context) ([]models.ReviewItem, error) {
	return s.repo.ListReviewItems(ctx)
}

// ResolveReview settles a review item. An empty linkTo creates a new
// record; otherwise the candidate is linked to linkTo.
func (s *Service) ResolveReview(ctx context.Context, id, linkTo string) (*models.ReviewItem, *Decision, error) {
	return s.ResolveReviewTx(ctx, s.repo, id, linkTo)
}

// ResolveReviewTx is ResolveReview against tx, so the caller can commit the
// removal together with whatever the resolution produces.
func (s *Service) ResolveReviewTx(ctx context.Context, tx repository.ReviewRepository, id, linkTo string) (*models.ReviewItem, *Decision, error) {
	item, err := tx.GetReviewItem(ctx, id)
	if err == repository.ErrNotFound {
		return nil, nil, errors.NotFoundf("review item %s not found", id)
	}
	if err != nil {
		return nil, nil, err
	}

	d := Decision{Outcome: models.OutcomeNew, Candidates: item.TopMatches}
	if linkTo != "" {
		d.Outcome = models.OutcomeMatched
		d.MatchedID = linkTo
		d.Confidence = 1
		for _, m := range item.TopMatches {
			if m.ID == linkTo {
				d.Confidence = m.Confidence
			}
		}
	}
	if err := tx.DeleteReviewItem(ctx, id); err != nil {
		return nil, nil, err
	}
	s.log.Info("Review resolved", "review_id", id, "outcome", d.Outcome, "linked_id", linkTo)
	return item, &d, nil
}

// SaveReviewsTx stores a review item for every result in the review band
// and sets its ReviewID. It returns the items that did not exist yet.
func (s *Service) SaveReviewsTx(ctx context.Context, tx repository.ReviewRepository, results []BatchResult) ([]models.ReviewItem, error) {
	var created []models.ReviewItem
	for i := range results {
		r := &results[i]
		item, isNew, err := s.saveReview(ctx, tx, r.Candidate.Kind, r.Candidate, &r.Decision)
		if err != nil {
			return nil, err
		}
		if isNew {
			created = append(created, *item)
		}
	}
	return created, nil
}

// AnnounceReviews publishes review_needed for committed items
func (s *Service) AnnounceReviews(items ...models.ReviewItem) {
	for _, item := range items {
		s.bus.Publish(bus.Event{Type: bus.EventReviewNeeded, Payload: item})
	}
}

// ReviewID derives a stable id for kind and c so the same candidate never
// opens two review items.
func ReviewID(kind string, c models.ImportCandidate) string {
	c.Kind = kind
	body, _ := json.Marshal(c)
	sum := sha256.Sum256(body)
	return "rv-" + hex.EncodeToString(sum[:12])
}

func (s *Service) decideWrestler(c models.ImportCandidate, roster []models.RosterWrestler) Decision {
	scored := make([]models.CandidateMatch, 0, len(roster))
	for _, w := range roster {
		score := Similarity(c.Name, w.Name)
		if c.WeightClass > 0 && w.WeightClass > 0 && c.WeightClass != w.WeightClass {
			score *= WeightMismatchPenalty
		}
		id := w.RemoteID
		if id == "" {
			id = w.ID
		}
		scored = append(scored, models.CandidateMatch{ID: id, Name: w.Name, Confidence: score})
	}
	return s.decide(scored)
}

func (s *Service) decideMatch(c models.ImportCandidate, known []remote.RemoteMatch) Decision {
	scored := make([]models.CandidateMatch, 0, len(known))
	for _, m := range known {
		if m.WeightClass != c.WeightClass {
			continue
		}
		straight := (Similarity(c.Name, m.WrestlerName) + Similarity(c.OpponentName, m.OpponentName)) / 2
		swapped := (Similarity(c.Name, m.OpponentName) + Similarity(c.OpponentName, m.WrestlerName)) / 2

		var score float64
		switch {
		case straight >= swapped && c.ScoreFor == m.ScoreFor && c.ScoreAgainst == m.ScoreAgainst:
			score = straight
		case swapped > straight && c.ScoreFor == m.ScoreAgainst && c.ScoreAgainst == m.ScoreFor:
			score = swapped
		default:
			continue
		}
		scored = append(scored, models.CandidateMatch{
			ID:         m.ID,
			Name:       m.WrestlerName + " vs " + m.OpponentName,
			Confidence: score,
		})
	}
	return s.decide(scored)
}

func (s *Service) decide(scored []models.CandidateMatch) Decision {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Confidence > scored[j].Confidence
	})
	if len(scored) > s.topN {
		scored = scored[:s.topN]
	}

	d := Decision{Outcome: models.OutcomeNew, Candidates: scored}
	if len(scored) == 0 {
		return d
	}
	best := scored[0]
	d.Confidence = best.Confidence
	d.Outcome = Classify(best.Confidence)
	if d.Outcome == models.OutcomeMatched {
		d.MatchedID = best.ID
	}
	return d
}

// review persists an ambiguous decision for the operator
func (s *Service) review(ctx context.Context, kind string, c models.ImportCandidate, d *Decision) error {
	item, isNew, err := s.saveReview(ctx, s.repo, kind, c, d)
	if err != nil {
		return err
	}
	if isNew {
		s.AnnounceReviews(*item)
	}
	return nil
}

func (s *Service) saveReview(ctx context.Context, tx repository.ReviewRepository, kind string, c models.ImportCandidate, d *Decision) (*models.ReviewItem, bool, error) {
	if d.Outcome != models.OutcomeNeedsReview {
		return nil, false, nil
	}
	id := ReviewID(kind, c)
	d.ReviewID = id
	if existing, err := tx.GetReviewItem(ctx, id); err == nil {
		return existing, false, nil
	} else if err != repository.ErrNotFound {
		return nil, false, err
	}
	item := &models.ReviewItem{
		ID:         id,
		Kind:       kind,
		Candidate:  c,
		TopMatches: d.Candidates,
		CreatedAt:  s.now(),
	}
	if err := tx.SaveReviewItem(ctx, item); err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// roster fetches remote wrestlers and refreshes the local cache, or falls
// back to the cache when the remote cannot be reached.
func (s *Service) roster(ctx context.Context) ([]models.RosterWrestler, error) {
	remoteRoster, err := s.client.ListWrestlers(ctx)
	if err != nil {
		if !remote.IsTransient(err) {
			return nil, err
		}
		s.log.Warn("Roster unavailable, using local cache", "error", err)
		return s.repo.ListWrestlers(ctx)
	}

	out := make([]models.RosterWrestler, 0, len(remoteRoster))
	for _, rw := range remoteRoster {
		w := models.RosterWrestler{
			ID:          rw.ID,
			RemoteID:    rw.ID,
			Name:        rw.Name,
			TeamID:      rw.TeamID,
			WeightClass: rw.WeightClass,
		}
		if err := s.repo.SaveWrestler(ctx, &w); err != nil {
			s.log.Warn("Failed to cache wrestler", "wrestler_id", w.ID, "error", err)
		}
		out = append(out, w)
	}
	return out, nil
}

// matches fetches remote matches, or local ones when offline
func (s *Service) matches(ctx context.Context, weightClass int) ([]remote.RemoteMatch, error) {
	list, err := s.client.ListMatches(ctx, remote.MatchFilter{WeightClass: weightClass})
	if err == nil {
		return list, nil
	}
	if !remote.IsTransient(err) {
		return nil, err
	}
	s.log.Warn("Match list unavailable, using local matches", "error", err)

	local, err := s.repo.ListMatches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]remote.RemoteMatch, 0, len(local))
	for _, m := range local {
		out = append(out, remote.RemoteMatch{
			ID:           m.ID,
			WrestlerName: m.WrestlerName,
			OpponentName: m.OpponentName,
			WeightClass:  m.WeightClass,
			ScoreFor:     m.Score.For,
			ScoreAgainst: m.Score.Against,
			Status:       string(m.Status),
			UpdatedAt:    m.UpdatedAt,
		})
	}
	return out, nil
}
