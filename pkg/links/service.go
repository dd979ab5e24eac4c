package links

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/common/logger"
	"github.com/racegraph/platform/pkg/common/models"
	"github.com/racegraph/platform/pkg/matching"
	"github.com/racegraph/platform/pkg/observability/metrics"
)

// Links synthesized by a user action rather than the matcher carry this id.
const manualMatcherID = "manual"

// IdentitySource resolves the registered identity facts for a user. The
// implementation may sit behind a cache or a network hop; it must honor
// context cancellation.
type IdentitySource interface {
	GetIdentity(ctx context.Context, userID uuid.UUID) (models.UserIdentity, error)
}

// EntrySource lists the driver entries the ingestion pipeline recorded for
// an event. Used to reconstruct a candidate link when ingestion never
// created one.
type EntrySource interface {
	EntriesByEvent(ctx context.Context, eventID uuid.UUID) ([]models.EventEntryRef, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Service owns persisted link records, their status transitions, and
// consistency between per-event links and the aggregate user-driver link.
type Service struct {
	store      Store
	cfg        matching.Config
	identities IdentitySource
	entries    EntrySource
	producer   Publisher
	dlq        Publisher
}

func NewService(store Store, cfg matching.Config, identities IdentitySource, entries EntrySource, producer, dlq Publisher) *Service {
	return &Service{
		store:      store,
		cfg:        cfg,
		identities: identities,
		entries:    entries,
		producer:   producer,
		dlq:        dlq,
	}
}

// RecordMatch persists a classifier verdict discovered during ingestion.
// At most one EventDriverLink exists per (user,event); a second discovery
// for the same event returns the existing link unchanged. Auto-confirmed
// verdicts create the aggregate UserDriverLink when it does not exist yet.
//
// Suggested transponder verdicts are promoted synchronously here: once
// distinct-event evidence for the pairing reaches MinEventsForAutoConfirm,
// the aggregate is created (or a suggested one promoted) as confirmed.
func (s *Service) RecordMatch(ctx context.Context, user models.UserIdentity, eventID uuid.UUID, driver models.DriverRecord, verdict matching.Verdict) (*EventDriverLink, error) {
	if user.UserID == uuid.Nil || eventID == uuid.Nil || driver.ID == uuid.Nil {
		return nil, validationErr("user, event and driver ids are required")
	}

	var (
		out     *EventDriverLink
		created bool
		adopted int64
	)
	err := s.store.InTx(ctx, func(tx Store) error {
		existing, err := tx.GetEventDriverLink(ctx, user.UserID, eventID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		created = true

		now := time.Now().UTC()
		link := &EventDriverLink{
			UserID:          user.UserID,
			EventID:         eventID,
			DriverID:        driver.ID,
			MatchType:       verdict.MatchType,
			SimilarityScore: verdict.SimilarityScore,
			Status:          LinkStatus(verdict.Status),
			MatchedAt:       now,
		}
		if verdict.Status == matching.VerdictConfirmed {
			link.ConfirmedAt = &now
		}

		agg, err := tx.GetUserDriverLink(ctx, user.UserID, driver.ID)
		if err != nil {
			return err
		}

		if agg == nil && verdict.Status == matching.VerdictConfirmed {
			agg = &UserDriverLink{
				UserID:          user.UserID,
				DriverID:        driver.ID,
				Status:          StatusConfirmed,
				SimilarityScore: verdict.SimilarityScore,
				MatchedAt:       now,
				ConfirmedAt:     &now,
				MatcherID:       s.cfg.MatcherID,
				MatcherVersion:  s.cfg.MatcherVersion,
			}
			if err := tx.SaveUserDriverLink(ctx, agg); err != nil {
				return err
			}
		}

		if agg != nil {
			link.UserDriverLinkID = &agg.ID
		}
		if err := tx.SaveEventDriverLink(ctx, link); err != nil {
			return err
		}

		if verdict.MatchType == matching.MatchTypeTransponder && verdict.Status == matching.VerdictSuggested {
			agg, err = s.promoteCorroborated(ctx, tx, user.UserID, driver.ID, verdict, agg, now)
			if err != nil {
				return err
			}
			if agg != nil && link.UserDriverLinkID == nil {
				link.UserDriverLinkID = &agg.ID
				if err := tx.SaveEventDriverLink(ctx, link); err != nil {
					return err
				}
			}
		}

		if agg != nil {
			if adopted, err = tx.AdoptOrphans(ctx, user.UserID, driver.ID, agg.ID); err != nil {
				return err
			}
		}

		out = link
		return nil
	})
	if err != nil {
		metrics.IncResolveFailure()
		return nil, err
	}

	// A repeated discovery returns the existing link with nothing changed;
	// only a fresh link is counted and announced.
	if !created {
		return out, nil
	}

	if out.Status == StatusConfirmed {
		metrics.IncConfirmedMatch()
	} else {
		metrics.IncSuggested()
	}
	metrics.AddAdopted(adopted)

	s.publish(ctx, models.LinkUpdated{
		UserID:    out.UserID,
		DriverID:  out.DriverID,
		EventID:   out.EventID,
		Status:    string(out.Status),
		MatchType: string(out.MatchType),
		Score:     out.SimilarityScore,
		Actor:     s.cfg.MatcherID,
	})
	return out, nil
}

// promoteCorroborated applies the transponder auto-confirm rule inside the
// caller's transaction: a shared transponder is only trusted once seen at
// MinEventsForAutoConfirm distinct events.
func (s *Service) promoteCorroborated(ctx context.Context, tx Store, userID, driverID uuid.UUID, verdict matching.Verdict, agg *UserDriverLink, now time.Time) (*UserDriverLink, error) {
	count, err := tx.CountDistinctEvents(ctx, userID, driverID)
	if err != nil {
		return agg, err
	}
	if count < int64(s.cfg.MinEventsForAutoConfirm) {
		return agg, nil
	}

	if agg == nil {
		agg = &UserDriverLink{
			UserID:          userID,
			DriverID:        driverID,
			Status:          StatusConfirmed,
			SimilarityScore: verdict.SimilarityScore,
			MatchedAt:       now,
			ConfirmedAt:     &now,
			MatcherID:       s.cfg.MatcherID,
			MatcherVersion:  s.cfg.MatcherVersion,
		}
		metrics.IncPromoted()
		return agg, tx.SaveUserDriverLink(ctx, agg)
	}

	if agg.Status != StatusSuggested {
		return agg, nil
	}
	agg.Status = StatusConfirmed
	agg.ConfirmedAt = &now
	agg.RejectedAt = nil
	metrics.IncPromoted()
	return agg, tx.SaveUserDriverLink(ctx, agg)
}

// UpdateDriverLinkStatus resolves the aggregate link for (user,driver).
// When no aggregate exists it is synthesized from the strongest
// EventDriverLink evidence and tagged as a manual decision; with no
// evidence at all the call fails NOT_FOUND and creates nothing.
//
// The adopt-orphans repair runs inside the same transaction on every call,
// not only at creation: event links for newly ingested events may predate
// nothing and postdate everything.
func (s *Service) UpdateDriverLinkStatus(ctx context.Context, userID, driverID uuid.UUID, status LinkStatus) (*UserDriverLink, error) {
	if userID == uuid.Nil || driverID == uuid.Nil {
		return nil, validationErr("user and driver ids are required")
	}
	if !status.Valid() || !status.UserSettable() {
		return nil, validationErr("status %q cannot be requested", status)
	}

	var out *UserDriverLink
	err := s.store.InTx(ctx, func(tx Store) error {
		link, err := tx.GetUserDriverLink(ctx, userID, driverID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if link == nil {
			evidence, err := tx.EventLinksByPair(ctx, userID, driverID)
			if err != nil {
				return err
			}
			if len(evidence) == 0 {
				return notFoundErr("no link evidence for user %s and driver %s", userID, driverID)
			}
			best := strongestEvidence(evidence)
			link = &UserDriverLink{
				UserID:          userID,
				DriverID:        driverID,
				SimilarityScore: best.SimilarityScore,
				MatchedAt:       best.MatchedAt,
				MatcherID:       manualMatcherID,
				MatcherVersion:  s.cfg.MatcherVersion,
			}
		}

		link.Status = status
		stampAggregate(link, status, now)
		if err := tx.SaveUserDriverLink(ctx, link); err != nil {
			return err
		}

		if _, err := tx.AdoptOrphans(ctx, userID, driverID, link.ID); err != nil {
			return err
		}

		out = link
		return nil
	})
	if err != nil {
		observeResolveError(err)
		return nil, err
	}
	observeUserAction(status)

	s.publish(ctx, models.LinkUpdated{
		UserID:   out.UserID,
		DriverID: out.DriverID,
		Status:   string(out.Status),
		Score:    out.SimilarityScore,
		Actor:    "user",
	})
	return out, nil
}

// UpdateDriverLinkStatusByEvent confirms or rejects the attribution of a
// single event without touching the aggregate link. When ingestion never
// created the per-event link it is derived from the event's entry list by
// exact normalized-name match at similarity 1.0.
func (s *Service) UpdateDriverLinkStatusByEvent(ctx context.Context, userID, eventID uuid.UUID, status LinkStatus) (*EventDriverLink, error) {
	if userID == uuid.Nil || eventID == uuid.Nil {
		return nil, validationErr("user and event ids are required")
	}
	if !status.Valid() || !status.UserSettable() {
		return nil, validationErr("status %q cannot be requested", status)
	}

	existing, err := s.store.GetEventDriverLink(ctx, userID, eventID)
	if err != nil {
		return nil, internalErr(err, "event link lookup failed")
	}

	var derived *EventDriverLink
	if existing == nil {
		derived, err = s.deriveEventLink(ctx, userID, eventID)
		if err != nil {
			observeResolveError(err)
			return nil, err
		}
	}

	var out *EventDriverLink
	err = s.store.InTx(ctx, func(tx Store) error {
		link, err := tx.GetEventDriverLink(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if link == nil {
			link = derived
		}
		if link == nil {
			return notFoundErr("no entry matching user %s in event %s", userID, eventID)
		}

		now := time.Now().UTC()
		link.Status = status
		stampEvent(link, status, now)

		if link.UserDriverLinkID == nil {
			if agg, err := tx.GetUserDriverLink(ctx, userID, link.DriverID); err != nil {
				return err
			} else if agg != nil {
				link.UserDriverLinkID = &agg.ID
			}
		}

		if err := tx.SaveEventDriverLink(ctx, link); err != nil {
			return err
		}
		out = link
		return nil
	})
	if err != nil {
		observeResolveError(err)
		return nil, err
	}
	observeUserAction(status)

	s.publish(ctx, models.LinkUpdated{
		UserID:    out.UserID,
		DriverID:  out.DriverID,
		EventID:   out.EventID,
		Status:    string(out.Status),
		MatchType: string(out.MatchType),
		Score:     out.SimilarityScore,
		Actor:     "user",
	})
	return out, nil
}

// deriveEventLink reconstructs the per-event candidate from raw entry data.
// Exact match only; the fuzzy path belongs to ingestion-time matching.
func (s *Service) deriveEventLink(ctx context.Context, userID, eventID uuid.UUID) (*EventDriverLink, error) {
	if s.identities == nil || s.entries == nil {
		return nil, nil
	}

	ident, err := s.identities.GetIdentity(ctx, userID)
	if err != nil {
		return nil, notFoundErr("identity for user %s unavailable", userID)
	}
	if ident.NormalizedName == "" {
		return nil, nil
	}

	entries, err := s.entries.EntriesByEvent(ctx, eventID)
	if err != nil {
		return nil, internalErr(err, "event entry lookup failed")
	}

	for _, entry := range entries {
		if entry.NormalizedName == ident.NormalizedName {
			return &EventDriverLink{
				UserID:          userID,
				EventID:         eventID,
				DriverID:        entry.DriverID,
				MatchType:       matching.MatchTypeExact,
				SimilarityScore: 1.0,
				MatchedAt:       time.Now().UTC(),
			}, nil
		}
	}
	return nil, nil
}

// BulkUpdateByEvents applies a status to many events as independent
// concurrent per-event transactions. A failing item never rolls back the
// others; the result reports every outcome.
func (s *Service) BulkUpdateByEvents(ctx context.Context, userID uuid.UUID, eventIDs []uuid.UUID, status LinkStatus) BulkResult {
	results := make([]BulkItemResult, len(eventIDs))

	var wg sync.WaitGroup
	for i, eventID := range eventIDs {
		wg.Add(1)
		go func(i int, eventID uuid.UUID) {
			defer wg.Done()
			link, err := s.UpdateDriverLinkStatusByEvent(ctx, userID, eventID, status)
			if err != nil {
				results[i] = BulkItemResult{EventID: eventID, Error: err.Error(), Kind: KindOf(err)}
				return
			}
			results[i] = BulkItemResult{EventID: eventID, Status: link.Status}
		}(i, eventID)
	}
	wg.Wait()

	out := BulkResult{Results: results}
	for _, r := range results {
		if r.Error == "" {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}

func strongestEvidence(evidence []EventDriverLink) EventDriverLink {
	best := evidence[0]
	for _, e := range evidence[1:] {
		if e.SimilarityScore > best.SimilarityScore {
			best = e
		}
	}
	return best
}

// Exactly one of ConfirmedAt/RejectedAt is set after a user decision; the
// other is cleared. MatchedAt is never touched after creation.
func stampAggregate(link *UserDriverLink, status LinkStatus, now time.Time) {
	switch status {
	case StatusConfirmed:
		link.ConfirmedAt = &now
		link.RejectedAt = nil
	case StatusRejected:
		link.RejectedAt = &now
		link.ConfirmedAt = nil
	}
}

func stampEvent(link *EventDriverLink, status LinkStatus, now time.Time) {
	switch status {
	case StatusConfirmed:
		link.ConfirmedAt = &now
		link.RejectedAt = nil
	case StatusRejected:
		link.RejectedAt = &now
		link.ConfirmedAt = nil
	}
}

func observeUserAction(status LinkStatus) {
	if status == StatusConfirmed {
		metrics.IncLinkConfirmed()
	} else {
		metrics.IncLinkRejected()
	}
}

func observeResolveError(err error) {
	switch KindOf(err) {
	case KindNotFound:
		metrics.IncResolveNotFound()
	case KindInternal:
		metrics.IncResolveFailure()
	}
}

func (s *Service) publish(ctx context.Context, payload models.LinkUpdated) {
	if s.producer == nil {
		return
	}
	data := map[string]interface{}{"link": payload}
	if err := s.producer.PublishEvent(ctx, "link-updated", "links-service", data); err != nil {
		logger.Log.WithError(err).Error("failed to publish link event")
		if s.dlq != nil {
			_ = s.dlq.PublishEvent(ctx, "link-updated", "links-service", data)
		}
	}
}
