package app

import (
	"context"
	"strings"

	"roomhub/internal/notify"
	"roomhub/internal/util"
	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
	"roomhub/pkg/store"
)

func validReportReason(r domain.ReportReason) bool {
	switch r {
	case domain.ReasonSpam, domain.ReasonHarassment, domain.ReasonInappropriate, domain.ReasonOther:
		return true
	}
	return false
}

// FileReport opens a moderation report against a room. At most one
// active report per (reporter, room); the store constraint backs the
// check under concurrency.
func (a *App) FileReport(ctx context.Context, actor domain.User, roomID string, reason domain.ReportReason, body string) (domain.Report, error) {
	if !actor.Authenticated() {
		return domain.Report{}, apperror.PermissionDenied("authentication required")
	}
	if !validReportReason(reason) {
		return domain.Report{}, apperror.FieldValidation("reason", "unknown report reason")
	}

	var created domain.Report
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := getRoom(ctx, tx, roomID); err != nil {
			return err
		}
		active, err := tx.HasActiveReport(ctx, roomID, actor.ID)
		if err != nil {
			return apperror.Internal(err)
		}
		if active {
			return apperror.Conflict("you already have an open report for this room")
		}
		now := a.now()
		report := domain.Report{
			ID:         util.NewID(),
			RoomID:     roomID,
			ReporterID: actor.ID,
			Reason:     reason,
			Body:       strings.TrimSpace(body),
			Status:     domain.ReportPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.CreateReport(ctx, report); err != nil {
			return translateDuplicate(err, "you already have an open report for this room")
		}
		created = report
		return nil
	})
	if err != nil {
		return domain.Report{}, err
	}
	a.notifyEvent(ctx, notify.Event{
		Type:    notify.EventReportFiled,
		RoomID:  created.RoomID,
		ActorID: actor.ID,
		Data:    map[string]any{"report_id": created.ID, "reason": string(created.Reason)},
	})
	return created, nil
}

// ClaimReport moves a PENDING report to UNDER_REVIEW and records the
// moderator. Staff only.
func (a *App) ClaimReport(ctx context.Context, actor domain.User, reportID string) (domain.Report, error) {
	return a.moderateReport(ctx, actor, reportID, domain.ReportPending, domain.ReportUnderReview, "")
}

// ResolveReport closes an UNDER_REVIEW report as RESOLVED. Staff only.
func (a *App) ResolveReport(ctx context.Context, actor domain.User, reportID, note string) (domain.Report, error) {
	report, err := a.moderateReport(ctx, actor, reportID, domain.ReportUnderReview, domain.ReportResolved, note)
	if err != nil {
		return domain.Report{}, err
	}
	a.notifyEvent(ctx, notify.Event{
		Type:      notify.EventReportResolved,
		RoomID:    report.RoomID,
		ActorID:   actor.ID,
		SubjectID: report.ReporterID,
	})
	return report, nil
}

// DismissReport closes an UNDER_REVIEW report as DISMISSED. Staff only.
func (a *App) DismissReport(ctx context.Context, actor domain.User, reportID, note string) (domain.Report, error) {
	return a.moderateReport(ctx, actor, reportID, domain.ReportUnderReview, domain.ReportDismissed, note)
}

func (a *App) moderateReport(ctx context.Context, actor domain.User, reportID string, from, to domain.ReportStatus, note string) (domain.Report, error) {
	if !actor.IsStaff && !actor.IsSuperuser {
		return domain.Report{}, apperror.PermissionDenied("moderation is staff only")
	}
	var updated domain.Report
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		report, ok, err := tx.GetReport(ctx, reportID)
		if err != nil {
			return apperror.Internal(err)
		}
		if !ok {
			return apperror.NotFound("report")
		}
		if report.Status != from {
			return apperror.InvalidState("report is " + string(report.Status))
		}
		if to == domain.ReportUnderReview {
			report.ModeratorID = actor.ID
		} else if report.ModeratorID != actor.ID {
			return apperror.PermissionDenied("report is claimed by another moderator")
		}
		report.Status = to
		if note != "" {
			report.ModeratorNote = strings.TrimSpace(note)
		}
		report.UpdatedAt = a.now()
		if err := tx.UpdateReport(ctx, report); err != nil {
			return apperror.Internal(err)
		}
		updated = report
		return nil
	})
	if err != nil {
		return domain.Report{}, err
	}
	return updated, nil
}

// GetReport loads a report. Reporter, moderator or staff.
func (a *App) GetReport(ctx context.Context, actor domain.User, reportID string) (domain.Report, error) {
	report, ok, err := a.store.GetReport(ctx, reportID)
	if err != nil {
		return domain.Report{}, apperror.Internal(err)
	}
	if !ok {
		return domain.Report{}, apperror.NotFound("report")
	}
	if report.ReporterID != actor.ID && !actor.IsStaff && !actor.IsSuperuser {
		return domain.Report{}, apperror.NotFound("report")
	}
	return report, nil
}
