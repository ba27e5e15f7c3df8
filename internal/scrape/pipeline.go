// Package scrape tracks extraction progress for dataset records pulled into
// the working set (the knowledge DB). Each row moves forward through
// unprocessed -> filtered -> converted -> final_response; soft delete is
// orthogonal.
package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hargraph/internal/har"
	"hargraph/internal/storage"
)

// Canonical processing states, in order.
const (
	StatusUnprocessed   = "unprocessed"
	StatusFiltered      = "filtered"
	StatusConverted     = "converted"
	StatusFinalResponse = "final_response"
)

// Advisory markers the model may set while reasoning. They rank outside the
// canonical order and gate nothing.
const (
	StatusPendingFilterer  = "sp_filterer"
	StatusPendingConverter = "sp_converter"
	StatusPendingConvert   = "sp_convert"
)

// ErrInvalidTransition is returned for a status write that would move a row
// backwards through the canonical order.
var ErrInvalidTransition = errors.New("invalid status transition")

// statusRank orders the canonical states; advisory markers are absent and
// rank as -1.
var statusRank = map[string]int{
	StatusUnprocessed:   0,
	StatusFiltered:      1,
	StatusConverted:     2,
	StatusFinalResponse: 3,
}

var advisory = map[string]bool{
	StatusPendingFilterer:  true,
	StatusPendingConverter: true,
	StatusPendingConvert:   true,
}

// ValidStatus reports whether s is a canonical state or advisory marker.
func ValidStatus(s string) bool {
	_, canonical := statusRank[s]
	return canonical || advisory[s]
}

// ValidTransition reports whether a row may move from one status to another.
// Canonical states only move forward (or stay). Advisory markers may be
// entered and left freely; regression checks apply only between canonical
// states.
func ValidTransition(from, to string) bool {
	if !ValidStatus(to) {
		return false
	}
	fromRank, fromCanonical := statusRank[from]
	toRank, toCanonical := statusRank[to]
	if !fromCanonical || !toCanonical {
		return true
	}
	return toRank >= fromRank
}

// EntryStore is the persistence surface the pipeline needs.
type EntryStore interface {
	SaveScrapingEntry(e storage.ScrapingEntry) error
	GetScrapingEntry(id string) (storage.ScrapingEntry, error)
	UpdateScrapingEntry(e storage.ScrapingEntry) error
	ListScrapingGroups() ([]storage.GroupSummary, error)
	FindFinalInGroup(sourceTypeKey string) (storage.ScrapingEntry, error)
}

// Pipeline exposes the per-record extraction state machine.
type Pipeline struct {
	store EntryStore
	now   func() time.Time
}

// NewPipeline creates a Pipeline over the given store.
func NewPipeline(store EntryStore) *Pipeline {
	return &Pipeline{store: store, now: time.Now}
}

// Sync pulls a dataset record into the working set. An existing row for the
// same record id is left untouched; otherwise one unprocessed row is
// created. Returns the row and whether it was created.
func (p *Pipeline) Sync(rec har.Record) (storage.ScrapingEntry, bool, error) {
	existing, err := p.store.GetScrapingEntry(rec.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.ScrapingEntry{}, false, fmt.Errorf("checking entry %s: %w", rec.ID, err)
	}

	reqSnapshot, err := json.Marshal(map[string]any{"method": rec.Method, "url": rec.URL})
	if err != nil {
		return storage.ScrapingEntry{}, false, fmt.Errorf("encoding request snapshot: %w", err)
	}

	now := p.now().UTC()
	entry := storage.ScrapingEntry{
		ID:               rec.ID,
		SourceTypeKey:    har.SourceTypeKey(rec.Method, rec.URL),
		URL:              rec.URL,
		OriginalRequest:  string(reqSnapshot),
		OriginalResponse: rec.ResponseBodyText,
		ProcessingStatus: StatusUnprocessed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.store.SaveScrapingEntry(entry); err != nil {
		return storage.ScrapingEntry{}, false, fmt.Errorf("saving entry %s: %w", rec.ID, err)
	}
	return entry, true, nil
}

// Update carries the mutable fields of a row; nil pointers leave the field
// untouched.
type Update struct {
	FiltererJSON       *string
	ConverterCode      *string
	FinalCleanResponse *string
	Status             *string
}

// Apply writes an update to a row. Setting a filterer or converter advances
// the status toward filtered/converted respectively unless an explicit
// status in the update goes further; explicit canonical statuses that would
// regress the row are rejected with ErrInvalidTransition.
func (p *Pipeline) Apply(id string, u Update) (storage.ScrapingEntry, error) {
	entry, err := p.store.GetScrapingEntry(id)
	if err != nil {
		return storage.ScrapingEntry{}, err
	}

	if u.FiltererJSON != nil {
		entry.FiltererJSON = *u.FiltererJSON
	}
	if u.ConverterCode != nil {
		entry.ConverterCode = *u.ConverterCode
	}
	if u.FinalCleanResponse != nil {
		entry.FinalCleanResponse = *u.FinalCleanResponse
	}

	switch {
	case u.Status != nil:
		if !ValidTransition(entry.ProcessingStatus, *u.Status) {
			return storage.ScrapingEntry{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.ProcessingStatus, *u.Status)
		}
		entry.ProcessingStatus = *u.Status
	default:
		entry.ProcessingStatus = derivedStatus(entry)
	}

	entry.UpdatedAt = p.now().UTC()
	if err := p.store.UpdateScrapingEntry(entry); err != nil {
		return storage.ScrapingEntry{}, fmt.Errorf("updating entry %s: %w", id, err)
	}
	return entry, nil
}

// derivedStatus advances a row based on which artifacts it now carries,
// never moving it backwards.
func derivedStatus(e storage.ScrapingEntry) string {
	derived := StatusUnprocessed
	switch {
	case e.FinalCleanResponse != "":
		derived = StatusFinalResponse
	case e.ConverterCode != "":
		derived = StatusConverted
	case e.FiltererJSON != "":
		derived = StatusFiltered
	}

	currentRank, canonical := statusRank[e.ProcessingStatus]
	if canonical && currentRank > statusRank[derived] {
		return e.ProcessingStatus
	}
	return derived
}

// SoftDelete marks a row deleted; it stays retrievable by id but disappears
// from group listings.
func (p *Pipeline) SoftDelete(id string) error {
	entry, err := p.store.GetScrapingEntry(id)
	if err != nil {
		return err
	}
	entry.IsDeleted = true
	entry.UpdatedAt = p.now().UTC()
	if err := p.store.UpdateScrapingEntry(entry); err != nil {
		return fmt.Errorf("soft-deleting entry %s: %w", id, err)
	}
	return nil
}

// Get returns a row by id, deleted or not.
func (p *Pipeline) Get(id string) (storage.ScrapingEntry, error) {
	return p.store.GetScrapingEntry(id)
}

// Groups lists one representative summary per source type key, excluding
// soft-deleted rows.
func (p *Pipeline) Groups() ([]storage.GroupSummary, error) {
	return p.store.ListScrapingGroups()
}

// FindSimilar returns the best prior row for a method/URL pair: the most
// recent final_response row sharing the same source type key. Returns
// storage.ErrNotFound when the group has no finished row.
func (p *Pipeline) FindSimilar(method, url string) (storage.ScrapingEntry, error) {
	return p.store.FindFinalInGroup(har.SourceTypeKey(method, url))
}
