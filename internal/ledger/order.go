package ledger

import (
	"sort"

	"github.com/dvloznov/networth-tracker/internal/domain"
)

// Less reports whether a precedes b in ledger order: effective date, then
// effective timestamp, then transaction id. Since (AccountID, TransactionID)
// is unique this is a total order within an account.
func Less(a, b *domain.Transaction) bool {
	ad, bd := a.EffectiveDate(), b.EffectiveDate()
	if ad != bd {
		return ad.Before(bd)
	}
	at, bt := a.EffectiveTime(), b.EffectiveTime()
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.TransactionID < b.TransactionID
}

// Sort orders txs in place in ledger order.
func Sort(txs []*domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return Less(txs[i], txs[j]) })
}
