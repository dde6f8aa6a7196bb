package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

// BeatmapStatusJob keeps the ranked state of beatmaps seen in stored scores
// fresh. Each run checks at most Batch beatmaps per server.
type BeatmapStatusJob struct {
	*Syncer
	MaxAge time.Duration
	Batch  int
}

func (j *BeatmapStatusJob) Name() string { return "beatmaps" }

func (j *BeatmapStatusJob) Run(ctx context.Context) error {
	var res outcome
	for _, srv := range j.Registry.All() {
		n, err := j.syncServer(ctx, srv)
		if err != nil {
			j.log().Warnf("%s beatmap status: %v", srv.Name(), err)
		} else if n > 0 {
			j.log().Debugf("%s beatmap status: %d checked", srv.Name(), n)
		}
		res.add(err)
	}
	return res.err(j.log(), j.Name())
}

func (j *BeatmapStatusJob) syncServer(ctx context.Context, srv servers.Server) (int, error) {
	maxAge := j.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	var ids []int64
	err := j.DB.View(ctx, func(tx *storage.Tx) (err error) {
		ids, err = tx.StaleBeatmaps(ctx, srv.Name(), j.now().Add(-maxAge), j.Batch)
		return err
	})
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}
		status, err := srv.FetchBeatmapStatus(ctx, id)
		switch {
		case errors.Is(err, servers.ErrNotFound):
			// Deleted beatmaps are recorded as graveyarded so they are not
			// asked for again until they age out.
			status = model.StatusGraveyard
		case err != nil:
			return checked, fmt.Errorf("beatmap %d: %w", id, err)
		}
		bs := model.BeatmapStatus{Server: srv.Name(), BeatmapID: id, Status: status, CheckedAt: j.now()}
		if err := j.DB.Update(ctx, func(tx *storage.Tx) error { return tx.UpsertBeatmapStatus(ctx, bs) }); err != nil {
			return checked, err
		}
		checked++
	}
	return checked, nil
}
