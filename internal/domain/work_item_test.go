package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NightMareKD/crawler-medicine/internal/domain"
)

func TestTierRank_OrdersTiers(t *testing.T) {
	assert.Greater(t, domain.TierRank(domain.TierCritical), domain.TierRank(domain.TierHigh))
	assert.Greater(t, domain.TierRank(domain.TierHigh), domain.TierRank(domain.TierMedium))
	assert.Greater(t, domain.TierRank(domain.TierMedium), domain.TierRank(domain.TierLow))
}

func TestTierRank_UnknownTierRanksLast(t *testing.T) {
	assert.Less(t, domain.TierRank("urgent"), domain.TierRank(domain.TierLow))
	assert.Less(t, domain.TierRank(""), domain.TierRank(domain.TierLow))
}

func TestValidTier(t *testing.T) {
	for _, tier := range []string{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow} {
		assert.True(t, domain.ValidTier(tier), "tier %s", tier)
	}
	assert.False(t, domain.ValidTier("urgent"))
	assert.False(t, domain.ValidTier(""))
}

func TestWorkItem_Terminal(t *testing.T) {
	item := &domain.WorkItem{Status: domain.StatusPending}
	assert.False(t, item.Terminal())

	item.Status = domain.StatusProcessing
	assert.False(t, item.Terminal())

	item.Status = domain.StatusCompleted
	assert.True(t, item.Terminal())

	item.Status = domain.StatusFailed
	assert.True(t, item.Terminal())
}

func TestWorkItem_ItemPromotesThroughEmbedding(t *testing.T) {
	entry := &domain.CrawlEntry{}
	entry.ID = "entry-1"
	assert.Same(t, &entry.WorkItem, entry.Item())

	ocrEntry := &domain.OCREntry{}
	ocrEntry.ID = "asset-1"
	assert.Same(t, &ocrEntry.WorkItem, ocrEntry.Item())
}
