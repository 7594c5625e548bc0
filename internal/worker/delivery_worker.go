package worker

import (
	"context"
	"fmt"
	"log/slog"

	"tresen/internal/amqp"
	"tresen/internal/core"
	"tresen/internal/export"
	"tresen/internal/log"
	"tresen/internal/mail"
	"tresen/internal/sheets"
	"tresen/internal/storage"
	"tresen/internal/tickets"
)

// BillStore is the slice of the repository the worker needs.
type BillStore interface {
	GetBill(ctx context.Context, id int64) (*storage.Bill, error)
	MarkBillDelivered(ctx context.Context, id int64) error
}

// MailSender sends a delivery mail with attachments.
type MailSender interface {
	Send(ctx context.Context, to []string, subject, textBody string, attachments []mail.Attachment) error
}

// DeliveryWorker turns finalized bills into export files and mails them to
// the treasurer addresses. Spreadsheet archival is best effort.
type DeliveryWorker struct {
	store          BillStore
	engine         *export.Engine
	mailer         MailSender
	tickets        *tickets.Manager
	appender       sheets.RowAppender
	recipients     []string
	publicBaseURL  string
	oversightSheet string
}

type Config struct {
	Store          BillStore
	Engine         *export.Engine
	Mailer         MailSender
	Tickets        *tickets.Manager
	Appender       sheets.RowAppender
	Recipients     []string
	PublicBaseURL  string
	OversightSheet string
}

func NewDeliveryWorker(cfg Config) *DeliveryWorker {
	return &DeliveryWorker{
		store:          cfg.Store,
		engine:         cfg.Engine,
		mailer:         cfg.Mailer,
		tickets:        cfg.Tickets,
		appender:       cfg.Appender,
		recipients:     cfg.Recipients,
		publicBaseURL:  cfg.PublicBaseURL,
		oversightSheet: cfg.OversightSheet,
	}
}

// HandleBillFinalized processes a single bill finalized message. Bills
// already delivered are acknowledged without resending, so redelivered
// queue messages stay harmless.
func (w *DeliveryWorker) HandleBillFinalized(ctx context.Context, msg *amqp.BillFinalizedMessage) error {
	bill, err := w.store.GetBill(ctx, msg.BillID)
	if err != nil {
		return fmt.Errorf("load bill %d: %w", msg.BillID, err)
	}

	if bill.Delivered {
		slog.InfoContext(ctx, "Bill already delivered, skipping", "bill_id", bill.ID)
		return nil
	}

	accRows, err := w.engine.AccountingExport(bill.Snapshot)
	if err != nil {
		return fmt.Errorf("accounting export for bill %d: %w", bill.ID, err)
	}
	ovRows, err := w.engine.OversightExportAll(bill.Snapshot)
	if err != nil {
		return fmt.Errorf("oversight export for bill %d: %w", bill.ID, err)
	}

	subject := mailSubject(bill)
	body := w.mailBody(ctx, bill)
	attachments := []mail.Attachment{
		{
			Filename:    "abrechnung.csv",
			ContentType: "text/csv",
			Body:        []byte(export.Document(export.AccountingHeader(), accRows)),
		},
		{
			Filename:    "uebersicht.csv",
			ContentType: "text/csv",
			Body:        []byte(export.Document(export.OversightHeader(), ovRows)),
		},
	}

	if err := w.mailer.Send(ctx, w.recipients, subject, body, attachments); err != nil {
		return fmt.Errorf("send delivery mail for bill %d: %w", bill.ID, err)
	}

	if w.appender != nil {
		if err := w.appender.AppendRows(ctx, w.oversightSheet, ovRows); err != nil {
			// Archival is best effort, the mail already went out.
			slog.ErrorContext(ctx, "Failed to archive oversight rows",
				"bill_id", bill.ID, "error", err)
		}
	}

	if err := w.store.MarkBillDelivered(ctx, bill.ID); err != nil {
		return fmt.Errorf("mark bill %d delivered: %w", bill.ID, err)
	}

	slog.InfoContext(ctx, "Bill delivered",
		log.FieldOperation, log.OpDeliver,
		"bill_id", bill.ID,
		"accounting_rows", len(accRows),
		"oversight_rows", len(ovRows),
		"recipients", len(w.recipients))

	return nil
}

func mailSubject(bill *storage.Bill) string {
	end := core.TimeFromMillis(bill.EndMillis)
	return fmt.Sprintf("Getraenkeabrechnung %02d/%d", int(end.Month()), end.Year())
}

func (w *DeliveryWorker) mailBody(ctx context.Context, bill *storage.Bill) string {
	start := core.TimeFromMillis(bill.StartMillis)
	end := core.TimeFromMillis(bill.EndMillis)

	body := fmt.Sprintf("Im Anhang die Getraenkeabrechnung fuer den Zeitraum %s - %s.\n",
		core.FormatDateLong(start), core.FormatDateLong(end))
	if bill.Comment != "" {
		body += fmt.Sprintf("\nKommentar: %s\n", bill.Comment)
	}

	if w.tickets != nil && w.publicBaseURL != "" {
		accTicket, err := w.tickets.Mint(bill.ID, tickets.KindAccounting)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to mint accounting ticket", "bill_id", bill.ID, "error", err)
			return body
		}
		ovTicket, err := w.tickets.Mint(bill.ID, tickets.KindOversight)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to mint oversight ticket", "bill_id", bill.ID, "error", err)
			return body
		}
		body += fmt.Sprintf("\nDownload:\n%s/api/bills/%d/accounting.csv?ticket=%s\n%s/api/bills/%d/oversight.csv?ticket=%s\n",
			w.publicBaseURL, bill.ID, accTicket,
			w.publicBaseURL, bill.ID, ovTicket)
	}

	return body
}
