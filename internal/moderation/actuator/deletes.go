package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/sentinel/internal/moderation/action"
	"github.com/robalyx/sentinel/internal/moderation/state"
	"github.com/robalyx/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// bulkThreshold is the backlog size above which a channel's deletes
// switch from individual calls to one bulk call.
const bulkThreshold = 3

// bulkLimit is the platform's ceiling on ids per bulk delete call.
const bulkLimit = 100

// handleDelete is the Delete action entry: dedupe first, then gate on
// channel permission, then hand off to the background batcher. A log
// entry is queued either way; only its wording differs.
func (a *Actuator) handleDelete(ctx context.Context, d action.Delete) {
	guild := a.states.GetOrCreate(d.GuildID)

	if !guild.TryMarkDeleted(d.MessageID) {
		return
	}

	perms, err := a.platform.ChannelPermissions(ctx, d.GuildID, d.ChannelID)
	canDelete := err == nil &&
		(perms.Has(discord.PermissionAdministrator) || perms.Has(discord.PermissionManageMessages))

	if !canDelete {
		a.logs.enqueue(action.Log{
			GuildID:    d.GuildID,
			Message:    "message could not be deleted (missing permission)",
			Reason:     d.Reason,
			Referenced: d.Referenced,
		})

		return
	}

	a.logs.enqueue(action.Log{
		GuildID:    d.GuildID,
		Message:    "message deleted",
		Reason:     d.Reason,
		Referenced: d.Referenced,
	})

	a.deletes.enqueue(deleteJob{
		guildID:   d.GuildID,
		channelID: d.ChannelID,
		messageID: d.MessageID,
		reason:    d.Reason,
	})
}

type deleteJob struct {
	guildID   snowflake.ID
	channelID snowflake.ID
	messageID snowflake.ID
	reason    string
}

// deleteBatcher coalesces queued deletes per channel. Small backlogs
// issue individual deletes; larger ones use one bulk call per tick,
// bounded by the per-channel in-flight marker since the platform rate
// limits bulk deletes per channel.
type deleteBatcher struct {
	config   *config.Actuator
	platform Platform
	states   *state.Manager
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[snowflake.ID][]deleteJob
}

func newDeleteBatcher(cfg *config.Actuator, platform Platform, states *state.Manager, logger *zap.Logger) *deleteBatcher {
	return &deleteBatcher{
		config:   cfg,
		platform: platform,
		states:   states,
		logger:   logger.Named("deletes"),
		pending:  make(map[snowflake.ID][]deleteJob),
	}
}

func (b *deleteBatcher) enqueue(job deleteJob) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[job.channelID] = append(b.pending[job.channelID], job)
}

func (b *deleteBatcher) run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(b.config.DeleteTick) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

// flush drains one tick's worth of work. Leftovers roll to the next
// tick.
func (b *deleteBatcher) flush(ctx context.Context) {
	b.mu.Lock()
	batches := b.pending
	b.pending = make(map[snowflake.ID][]deleteJob)
	b.mu.Unlock()

	for channelID, jobs := range batches {
		if len(jobs) <= bulkThreshold {
			b.deleteIndividually(ctx, jobs)
			continue
		}

		b.requeue(b.deleteBulk(ctx, channelID, jobs))
	}
}

func (b *deleteBatcher) deleteIndividually(ctx context.Context, jobs []deleteJob) {
	for _, job := range jobs {
		err := b.platform.DeleteMessage(ctx, job.channelID, job.messageID, job.reason)
		if err != nil && !b.platform.IsNotFound(err) {
			b.logger.Warn("Message delete failed",
				zap.Uint64("channel_id", uint64(job.channelID)),
				zap.Uint64("message_id", uint64(job.messageID)),
				zap.Error(err))
		}
	}
}

// deleteBulk issues at most one bulk call and returns jobs that must
// roll over, either past the id ceiling or blocked by an in-flight
// bulk on the same channel.
func (b *deleteBatcher) deleteBulk(ctx context.Context, channelID snowflake.ID, jobs []deleteJob) []deleteJob {
	guild := b.states.GetOrCreate(jobs[0].guildID)
	if !guild.TryMarkBulkInFlight(channelID) {
		return jobs
	}

	batch := jobs
	if len(batch) > bulkLimit {
		batch = jobs[:bulkLimit]
	}

	ids := make([]snowflake.ID, len(batch))
	for i, job := range batch {
		ids[i] = job.messageID
	}

	reason := fmt.Sprintf("bulk delete of %d messages", len(ids))

	err := b.platform.BulkDeleteMessages(ctx, channelID, ids, reason)
	if err != nil && !b.platform.IsNotFound(err) {
		b.logger.Warn("Bulk delete failed",
			zap.Uint64("channel_id", uint64(channelID)),
			zap.Int("count", len(ids)),
			zap.Error(err))
	}

	return jobs[len(batch):]
}

func (b *deleteBatcher) requeue(jobs []deleteJob) {
	if len(jobs) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, job := range jobs {
		b.pending[job.channelID] = append(b.pending[job.channelID], job)
	}
}
