package ledger

import (
	"sort"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

// Balance — состояние кошелька, восстановленное по журналу.
type Balance struct {
	Available int64
	Pending   int64
}

// Replay восстанавливает состояние кошелька по проводкам одного продавца в порядке их идентификаторов.
func Replay(entries []model.LedgerEntry) Balance {
	sorted := make([]model.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b Balance
	for _, e := range sorted {
		switch e.Type {
		case model.EntryPendingCredit:
			b.Pending += e.Amount
		case model.EntryCredit:
			if e.OrderID != nil {
				b.Pending = max(0, b.Pending-e.Amount)
			}
			b.Available += e.Amount
		case model.EntryDebit:
			b.Available -= e.Amount
		case model.EntryPayout:
		}
	}
	return b
}

// Matches сообщает, совпадает ли сохранённый кошелёк с восстановленным по журналу.
func (b Balance) Matches(w model.Wallet) bool {
	return b.Available == w.Balance && b.Pending == w.Pending
}
