package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/observability"
)

// AlertBuffer is the in-process alert list: a write-through mirror of alerts
// created by this process plus buffer-only manual alerts. It is owned by one
// NotificationFeed and shared by reference; every access holds mu. Contents
// are lost on restart.
type AlertBuffer struct {
	mu      sync.RWMutex
	entries []domain.Alert
	metrics *observability.Metrics
}

// NewAlertBuffer creates an empty buffer.
func NewAlertBuffer(metrics *observability.Metrics) *AlertBuffer {
	return &AlertBuffer{metrics: metrics}
}

// NewBufferID returns a fresh id with the given prefix.
func NewBufferID(prefix string) string {
	return prefix + uuid.NewString()
}

// Append adds an entry, tagging it as a buffer entry.
func (b *AlertBuffer) Append(alert domain.Alert) domain.Alert {
	alert.Source = domain.SourceBuffer
	if alert.Status == "" {
		alert.Status = domain.StatusUnread
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, alert)
	b.updateGauge()
	return alert
}

// Snapshot returns a copy of all entries in insertion order.
func (b *AlertBuffer) Snapshot() []domain.Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Alert(nil), b.entries...)
}

// Get returns the entry with exactly this id.
func (b *AlertBuffer) Get(id string) (domain.Alert, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, a := range b.entries {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Alert{}, false
}

// Len returns the number of entries.
func (b *AlertBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Remove deletes the entry with exactly this id.
func (b *AlertBuffer) Remove(id string) bool {
	return b.removeWhere(func(a domain.Alert) bool { return a.ID == id }) > 0
}

// RemoveByPersistedID deletes mirrors of a stored row.
func (b *AlertBuffer) RemoveByPersistedID(persistedID int64) int {
	return b.removeWhere(func(a domain.Alert) bool { return a.PersistedID == persistedID })
}

// RemoveOlderThan deletes entries created before cutoff.
func (b *AlertBuffer) RemoveOlderThan(cutoff time.Time) int {
	return b.removeWhere(func(a domain.Alert) bool { return a.CreatedAt.Before(cutoff) })
}

// RemoveBufferOnly deletes entries that do not mirror a stored row.
func (b *AlertBuffer) RemoveBufferOnly() int {
	return b.removeWhere(func(a domain.Alert) bool { return a.PersistedID == 0 })
}

// Clear deletes every entry.
func (b *AlertBuffer) Clear() int {
	return b.removeWhere(func(domain.Alert) bool { return true })
}

// removeWhere filters in place under the write lock, so a concurrent Append is
// never lost between read and reassignment.
func (b *AlertBuffer) removeWhere(match func(domain.Alert) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	removed := 0
	for _, a := range b.entries {
		if match(a) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	clear(b.entries[len(kept):])
	b.entries = kept
	b.updateGauge()
	return removed
}

// MarkRead flips the entry with this id to Read.
func (b *AlertBuffer) MarkRead(id string) bool {
	return b.markWhere(func(a domain.Alert) bool { return a.ID == id }) > 0
}

// MarkReadByPersistedID flips mirrors of a stored row to Read.
func (b *AlertBuffer) MarkReadByPersistedID(persistedID int64) int {
	return b.markWhere(func(a domain.Alert) bool { return a.PersistedID == persistedID })
}

// MarkAllRead flips every entry to Read.
func (b *AlertBuffer) MarkAllRead() int {
	return b.markWhere(func(a domain.Alert) bool { return a.Status != domain.StatusRead })
}

func (b *AlertBuffer) markWhere(match func(domain.Alert) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := range b.entries {
		if match(b.entries[i]) {
			b.entries[i].Status = domain.StatusRead
			n++
		}
	}
	return n
}

// caller holds mu
func (b *AlertBuffer) updateGauge() {
	if b.metrics != nil {
		b.metrics.AlertBufferSize.Set(float64(len(b.entries)))
	}
}
