package metric

import (
	"context"
	"tapboard/src-server/model"
	"tapboard/src-server/utils"
	"time"
)

func database(as *utils.AppState) (time.Duration, error) {
	start := time.Now()
	if _, err := as.BunDB.NewSelect().
		Model((*model.Session)(nil)).
		Where("check_out_at IS NULL").
		Where("member_id = ?", "").
		Exists(context.Background()); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
