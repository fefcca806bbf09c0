package rules

import (
	"strings"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

// AccountAggregate is the per-account rollup of one batch.
// Devices and IPs are unique and kept in first-seen order.
type AccountAggregate struct {
	ID            string
	Devices       []string
	IPs           []string
	TotalSent     float64
	TotalReceived float64
	Transactions  []domain.Transaction
	Remarks       []string

	devices map[string]struct{}
	ips     map[string]struct{}
}

func newAccountAggregate(id string) *AccountAggregate {
	return &AccountAggregate{
		ID:      id,
		devices: make(map[string]struct{}),
		ips:     make(map[string]struct{}),
	}
}

func (a *AccountAggregate) observe(tx domain.Transaction) {
	a.Transactions = append(a.Transactions, tx)
	a.Remarks = append(a.Remarks, strings.ToLower(tx.Remarks))

	if tx.Device != "" {
		if _, seen := a.devices[tx.Device]; !seen {
			a.devices[tx.Device] = struct{}{}
			a.Devices = append(a.Devices, tx.Device)
		}
	}
	if tx.IP != "" {
		if _, seen := a.ips[tx.IP]; !seen {
			a.ips[tx.IP] = struct{}{}
			a.IPs = append(a.IPs, tx.IP)
		}
	}
}

// AccountIndex maps account ids to aggregates, remembering encounter order.
type AccountIndex struct {
	order []string
	byID  map[string]*AccountAggregate
}

func newAccountIndex() *AccountIndex {
	return &AccountIndex{byID: make(map[string]*AccountAggregate)}
}

func (x *AccountIndex) ensure(id string) *AccountAggregate {
	agg, ok := x.byID[id]
	if !ok {
		agg = newAccountAggregate(id)
		x.byID[id] = agg
		x.order = append(x.order, id)
	}
	return agg
}

// fold adds one transaction to both of its endpoints.
func (x *AccountIndex) fold(tx domain.Transaction) {
	src := x.ensure(tx.Source)
	dst := x.ensure(tx.Destination)

	src.observe(tx)
	src.TotalSent += tx.Amount

	dst.observe(tx)
	dst.TotalReceived += tx.Amount
}

// Get returns the aggregate for an account.
func (x *AccountIndex) Get(id string) (*AccountAggregate, bool) {
	agg, ok := x.byID[id]
	return agg, ok
}

// IDs returns account ids in encounter order.
func (x *AccountIndex) IDs() []string {
	out := make([]string, len(x.order))
	copy(out, x.order)
	return out
}

// Len returns the number of accounts.
func (x *AccountIndex) Len() int {
	return len(x.order)
}

// sharedUsage lists the accounts seen behind one device or IP.
type sharedUsage struct {
	key      string
	accounts []string
	latest   time.Time
}

// sharedIndex groups accounts by a shared attribute in encounter order.
type sharedIndex struct {
	order []string
	byKey map[string]*sharedUsage
}

// buildSharedIndex walks accounts in encounter order and each account's keys in first-seen order.
func buildSharedIndex(accounts *AccountIndex, keys func(*AccountAggregate) []string, stamp func(domain.Transaction) string) *sharedIndex {
	idx := &sharedIndex{byKey: make(map[string]*sharedUsage)}

	for _, id := range accounts.order {
		agg := accounts.byID[id]
		for _, k := range keys(agg) {
			u, ok := idx.byKey[k]
			if !ok {
				u = &sharedUsage{key: k}
				idx.byKey[k] = u
				idx.order = append(idx.order, k)
			}
			u.accounts = append(u.accounts, id)
		}
		for _, tx := range agg.Transactions {
			if u, ok := idx.byKey[stamp(tx)]; ok && tx.Timestamp.After(u.latest) {
				u.latest = tx.Timestamp
			}
		}
	}

	return idx
}

func deviceKeys(a *AccountAggregate) []string { return a.Devices }
func ipKeys(a *AccountAggregate) []string     { return a.IPs }

func txDevice(tx domain.Transaction) string { return tx.Device }
func txIP(tx domain.Transaction) string     { return tx.IP }
