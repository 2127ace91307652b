package materializer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// statusForEvent returns the status an event moves its gift to
func statusForEvent(t domain.EventType) (domain.GiftStatus, bool) {
	switch t {
	case domain.EventTypeGiftCreated:
		return domain.GiftStatusActive, true
	case domain.EventTypeGiftClaimed:
		return domain.GiftStatusClaimed, true
	case domain.EventTypeGiftReturned:
		return domain.GiftStatusReturned, true
	}
	return "", false
}

// sortByChainPosition orders events by (blockNumber, logIndex), then offset
func sortByChainPosition(events []domain.CanonicalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		pi, pj := events[i].Position(), events[j].Position()
		if pi != pj {
			return pi.Less(pj)
		}
		return events[i].Offset < events[j].Offset
	})
}

// fold applies events to agg. Every step is either commutative (counters, creation)
// or a last-writer-wins register keyed by chain position (status), so the result does
// not depend on the order events are folded in.
func fold(agg *domain.CampaignAggregate, events []domain.CanonicalEvent) error {
	for i := range events {
		if err := foldEvent(agg, &events[i]); err != nil {
			return err
		}
	}
	recount(agg)
	return nil
}

func foldEvent(agg *domain.CampaignAggregate, e *domain.CanonicalEvent) error {
	if e.Offset > agg.HighWaterMark {
		agg.HighWaterMark = e.Offset
		agg.LastEventID = e.EventID
	}

	if e.Type == domain.EventTypeGiftViewed {
		agg.Viewed++
		return nil
	}

	status, ok := statusForEvent(e.Type)
	if !ok {
		return nil
	}

	proj := agg.Gifts[e.GiftID]
	if proj == nil {
		proj = &domain.GiftProjection{Value: decimal.Zero}
		agg.Gifts[e.GiftID] = proj
	}

	if e.Type == domain.EventTypeGiftCreated {
		value, err := createdValue(e)
		if err != nil {
			return err
		}
		proj.Created = true
		proj.Value = value
	}

	pos := e.Position()
	if proj.StatusPosition == nil || proj.StatusPosition.Less(pos) {
		proj.Status = status
		proj.StatusPosition = &pos
	}
	return nil
}

func createdValue(e *domain.CanonicalEvent) (decimal.Decimal, error) {
	if len(e.Payload) == 0 {
		return decimal.Zero, nil
	}
	var payload domain.GiftCreatedPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("invalid gift_created payload in event %s: %w", e.EventID, err)
	}
	if payload.Value == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(payload.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid value %q in event %s: %w", payload.Value, e.EventID, err)
	}
	return value, nil
}

// recount derives the gift counters from the per-gift projections.
// Returned gifts count as expired since the escrow only returns a gift after it expires.
func recount(agg *domain.CampaignAggregate) {
	agg.TotalGifts = 0
	agg.Claimed = 0
	agg.Expired = 0
	agg.TotalValue = decimal.Zero

	for _, proj := range agg.Gifts {
		if proj.Created {
			agg.TotalGifts++
			agg.TotalValue = agg.TotalValue.Add(proj.Value)
		}
		switch proj.Status {
		case domain.GiftStatusClaimed:
			agg.Claimed++
		case domain.GiftStatusReturned:
			agg.Expired++
		}
	}
}
