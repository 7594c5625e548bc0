package export

import (
	"fmt"
	"strconv"
	"time"

	"tresen/internal/core"
)

// Fixed SEWOBE import metadata. The importing side treats these as opaque
// constants; they are not configurable per bill.
const (
	invoiceMarker      = "R" // Rechnung, never Gutschrift
	receiveByMail      = "1"
	paymentTargetDays  = "30"
	sepaIntervalOneOff = "0"
	taxRateZero        = "0,00"
	notDonatable       = "0"
	noDonation         = "0"
	bookkeepingAccount = "8200"
	taxKey             = "1"
	subaccountCanteen  = "1800"
)

// sewobeHeader is the literal 24-column header line the accounting system
// expects, verbatim including the stray space before "Spendenfähig".
var sewobeHeader = []string{
	"Mitgliedsnummer",
	"R vs G",
	"Rechnungsnr.",
	"Rechnungsname",
	"Rechnungsdatum",
	"Positionsnr.",
	"Positionsname",
	"Positionsbeschreibung",
	"Anzahl",
	"Preis pro Einheit",
	"2 == Lastschrift und 1 == Ueberweisung",
	"Empfang per Mail",
	"Zahlungsziel in Tagen",
	"SEPA Intervall (0 fuer einmalig)",
	"Datum Rechnungsstellung",
	"Datum Faelligkeit",
	"Datum Positionsende",
	"Mehrwertsteuersatz",
	"Beschreibung",
	" Spendenfähig",
	"Spende",
	"Buchhaltungskonto",
	"Steuerschluessel",
	"Unterkonto Kantine",
}

// AccountingHeader returns the fixed header row of the accounting export.
func AccountingHeader() []string {
	out := make([]string, len(sewobeHeader))
	copy(out, sewobeHeader)
	return out
}

// billNumber derives the bill's external id from the creation date and the
// member number: yymmdd + seconds + member number. The seconds component
// comes from a date-only value and is therefore always "00", so two bill
// runs ending on the same date produce colliding numbers. Known quirk of
// the historic format; downstream dedupes by member and date.
func billNumber(creation time.Time, externalID string) string {
	return creation.Format("060102") + "00" + externalID
}

func billName(creation time.Time) string {
	return fmt.Sprintf("Getraenkeabrechnung %02d/%d", int(creation.Month()), creation.Year())
}

func windowDescription(snap *core.BillSnapshot) string {
	start := core.TimeFromMillis(snap.StartMillis)
	end := core.TimeFromMillis(snap.EndMillis)
	return fmt.Sprintf("Verzehr im Zeitraum %s - %s", core.FormatDateShort(start), core.FormatDateShort(end))
}

// positionText maps an event to its Positionsname and Positionsbeschreibung.
// The strings are load-bearing: the importing accounting system matches on
// them, so they must not be reworded.
func (e *Engine) positionText(ev BillableEvent) (name, description string) {
	switch ev.Kind {
	case SelfPurchase:
		return ev.ItemName, "Selbst gekauft"
	case SpecialPurchase:
		return ev.ItemName, "Speziell abgestrichen"
	case FFAConsumed:
		return ev.ItemName, "An alle ausgegeben"
	case BudgetOut:
		return "Guthaben verschenkt an " + ev.Other.Username,
			fmt.Sprintf("Guthaben verbraucht: %d Cents (intern verrechnet)", ev.PriceCents)
	case BudgetIn:
		return "Guthaben erhalten von " + ev.Other.Username,
			fmt.Sprintf("Guthaben verbraucht: %d Cents (intern verrechnet)", ev.PriceCents)
	case CountGiveoutOut:
		return ev.ItemName, "Ausgegeben an und verbraucht von " + ev.Other.Username
	}
	return "", ""
}

func sepaCode(u core.User) string {
	if u.IsSepa {
		return "2" // Lastschrift
	}
	return "1" // Ueberweisung
}

// accountingRow assembles one 24-field SEWOBE row. The bill's creation
// date is the window end; billing runs two weeks later and positions are
// open-ended (creation + 100 years).
func (e *Engine) accountingRow(snap *core.BillSnapshot, user core.User, position int, ev BillableEvent) []string {
	creation := core.TimeFromMillis(snap.EndMillis)
	billedLate := creation.AddDate(0, 0, 14)
	positionEnd := creation.AddDate(100, 0, 0)

	name, description := e.positionText(ev)

	return []string{
		user.ExternalID,
		invoiceMarker,
		billNumber(creation, user.ExternalID),
		billName(creation),
		core.FormatDateLong(creation),
		strconv.Itoa(position),
		name,
		description,
		strconv.FormatUint(uint64(ev.Count), 10),
		e.money(ev.PriceCents),
		sepaCode(user),
		receiveByMail,
		paymentTargetDays,
		sepaIntervalOneOff,
		core.FormatDateLong(creation),
		core.FormatDateLong(billedLate),
		core.FormatDateLong(positionEnd),
		taxRateZero,
		windowDescription(snap),
		notDonatable,
		noDonation,
		bookkeepingAccount,
		taxKey,
		subaccountCanteen,
	}
}
