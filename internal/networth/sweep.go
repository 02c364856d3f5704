package networth

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/networth-tracker/internal/domain"
	"github.com/dvloznov/networth-tracker/internal/ledger"
	"github.com/shopspring/decimal"
)

// DayBalance is an account's balance at the end of one calendar date.
type DayBalance struct {
	Date    civil.Date
	Balance decimal.Decimal
}

// Timeline is one account's end-of-day balances, strictly ascending by date.
type Timeline struct {
	AccountID string
	Days      []DayBalance
}

// EndOfDay reduces a ledger to one balance per effective date: the
// RunningBalance of the last transaction of that day that has one.
// Rows without a RunningBalance are skipped and reported through pending.
// txs is reordered in place.
func EndOfDay(txs []*domain.Transaction) (days []DayBalance, pending bool) {
	ledger.Sort(txs)

	for _, tx := range txs {
		if !tx.HasRunningBalance() {
			pending = true
			continue
		}
		d := tx.EffectiveDate()
		if n := len(days); n > 0 && days[n-1].Date == d {
			days[n-1].Balance = *tx.RunningBalance
			continue
		}
		days = append(days, DayBalance{Date: d, Balance: *tx.RunningBalance})
	}
	return days, pending
}

// Merge sweeps the union of all timelines' dates in ascending order. Each
// account's balance starts at zero and carries forward until its next
// date. A point is emitted for the first date and afterwards only when the
// total differs from the last emitted one.
func Merge(timelines []Timeline) []domain.NetWorthPoint {
	var dates []civil.Date
	seen := make(map[civil.Date]struct{})
	for _, tl := range timelines {
		for _, d := range tl.Days {
			if _, ok := seen[d.Date]; ok {
				continue
			}
			seen[d.Date] = struct{}{}
			dates = append(dates, d.Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	cursor := make([]int, len(timelines))
	current := make([]decimal.Decimal, len(timelines))
	total := decimal.Zero

	var points []domain.NetWorthPoint
	for _, date := range dates {
		for i, tl := range timelines {
			if cursor[i] >= len(tl.Days) || tl.Days[cursor[i]].Date != date {
				continue
			}
			next := tl.Days[cursor[i]].Balance
			total = total.Add(next.Sub(current[i]))
			current[i] = next
			cursor[i]++
		}

		if n := len(points); n > 0 && points[n-1].Amount.Equal(total) {
			continue
		}
		points = append(points, domain.NetWorthPoint{Date: date, Amount: total})
	}
	return points
}
