package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	jobmetrics "github.com/haven-crm/haven/internal/jobs"
	"github.com/haven-crm/haven/internal/platform/db"
)

// expireInvitationsSQL calls a SECURITY DEFINER function because the sweep
// spans every organization and cannot bind a single one.
const expireInvitationsSQL = `SELECT expire_invitations($1)`

// InvitationExpiryJob marks pending invitations past their deadline as expired.
type InvitationExpiryJob struct {
	DB      db.Beginner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewInvitationExpiryJob initialises the expiry handler.
func NewInvitationExpiryJob(database db.Beginner, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvitationExpiryJob {
	return &InvitationExpiryJob{
		DB:      database,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *InvitationExpiryJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.DB == nil {
		return errors.New("invitation expiry: handler not configured")
	}
	tracker := j.Metrics.Track(TaskTypeExpireInvitations)
	defer func() {
		err = tracker.End(err)
	}()

	now := j.clock()
	var expired int64
	err = db.WithTx(ctx, j.DB, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, expireInvitationsSQL, now).Scan(&expired)
	})
	if err != nil {
		j.logger().Error("expire invitations", slog.Any("error", err))
		return err
	}
	j.Metrics.AddExpired(expired)
	j.logger().Info("expired invitations", slog.Int64("count", expired), slog.Time("cutoff", now))
	return nil
}

func (j *InvitationExpiryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
